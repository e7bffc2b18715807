package main

import (
	"flag"
	"fmt"
	"os"

	"relaydb/pkg/logger"
	"relaydb/pkg/store"
)

// inspect dumps raw store keys for debugging a relaydb data directory.
func main() {
	var (
		path   string
		prefix string
		values bool
	)
	flag.StringVar(&path, "path", "", "pebble store path (the <db>/store directory)")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter")
	flag.BoolVar(&values, "values", false, "print values alongside keys")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()
	if err := store.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	keys, err := store.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !values {
			fmt.Println(k)
			continue
		}
		v, err := store.DBGet(k)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}
