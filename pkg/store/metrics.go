package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	entityWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydb_store_writes_total",
		Help: "Entity rows written, by entity type.",
	}, []string{"entity"})
	entityDeletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydb_store_deletes_total",
		Help: "Entity rows deleted, by entity type.",
	}, []string{"entity"})
	batchApplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaydb_store_batch_applies_total",
		Help: "Atomic write batches applied.",
	})
)

func init() {
	prometheus.MustRegister(entityWrites, entityDeletes, batchApplies)
}

// DBSizeBytes returns the best-effort on-disk size of the store directory.
func DBSizeBytes() uint64 {
	if dbPath == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
