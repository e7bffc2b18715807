package store

import (
	"encoding/json"
	"errors"
	"strings"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

// OrphanStats summarizes what a sweep found (and, unless dry-run, removed).
type OrphanStats struct {
	EmptyConversations int `json:"empty_conversations"`
	HistoryRows        int `json:"history_rows"`
	Notifications      int `json:"notifications"`
	IndexEntries       int `json:"index_entries"`
}

func (s OrphanStats) Total() int {
	return s.EmptyConversations + s.HistoryRows + s.Notifications + s.IndexEntries
}

// messageExists reports whether a primary message row is present.
func messageExists(id string, cache map[string]bool) (bool, error) {
	if v, ok := cache[id]; ok {
		return v, nil
	}
	_, err := getRaw(msgKey(id))
	switch {
	case err == nil:
		cache[id] = true
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		cache[id] = false
		return false, nil
	default:
		return false, err
	}
}

// SweepOrphans removes rows left dangling by interrupted cascades: history
// and notifications whose message is gone, index entries pointing at
// missing rows, and conversations with no participants left. With dryRun
// the sweep only counts. Everything here is re-runnable; a clean store
// yields zero counts.
func SweepOrphans(dryRun bool) (OrphanStats, error) {
	var stats OrphanStats
	if db == nil {
		return stats, errNotOpen
	}
	exists := map[string]bool{}
	b := NewBatch()

	// History rows: key layout history:msg:<msgID>:<pad(ts)>-<histID>.
	err := iterPrefix("history:msg:", func(k string, _ []byte) error {
		rest := strings.TrimPrefix(k, "history:msg:")
		i := strings.IndexByte(rest, ':')
		if i <= 0 {
			return nil
		}
		ok, err := messageExists(rest[:i], exists)
		if err != nil {
			return err
		}
		if !ok {
			stats.HistoryRows++
			_ = b.Delete([]byte(k), nil)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Notification message index: notif:msg:<msgID>:<notifID> -> primary key.
	err = iterPrefix("notif:msg:", func(k string, v []byte) error {
		rest := strings.TrimPrefix(k, "notif:msg:")
		i := strings.IndexByte(rest, ':')
		if i <= 0 {
			return nil
		}
		ok, err := messageExists(rest[:i], exists)
		if err != nil {
			return err
		}
		if !ok {
			stats.Notifications++
			primary := string(v)
			if raw, gerr := getRaw(primary); gerr == nil {
				var n models.Notification
				if json.Unmarshal(raw, &n) == nil {
					_ = b.Delete([]byte(notifUniqKey(n.User, n.Message, n.Type)), nil)
				}
			}
			_ = b.Delete([]byte(primary), nil)
			_ = b.Delete([]byte(k), nil)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Reply index entries whose child message is gone.
	err = iterPrefix("reply:", func(k string, v []byte) error {
		ok, err := messageExists(string(v), exists)
		if err != nil {
			return err
		}
		if !ok {
			stats.IndexEntries++
			_ = b.Delete([]byte(k), nil)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Conversation ordering index entries whose message is gone.
	err = iterPrefix("conv:", func(k string, v []byte) error {
		if !strings.Contains(k, ":msg:") {
			return nil
		}
		ok, err := messageExists(string(v), exists)
		if err != nil {
			return err
		}
		if !ok {
			stats.IndexEntries++
			_ = b.Delete([]byte(k), nil)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if !dryRun && (stats.HistoryRows > 0 || stats.Notifications > 0 || stats.IndexEntries > 0) {
		if err := ApplyBatch(b); err != nil {
			return stats, err
		}
	}

	// Participant-less conversations go last so their index rows were not
	// double-counted above.
	empty, err := ListEmptyConversations()
	if err != nil {
		return stats, err
	}
	stats.EmptyConversations = len(empty)
	if !dryRun {
		for _, id := range empty {
			if _, err := DeleteConversationCascade(id); err != nil && !errors.Is(err, models.ErrNotFound) {
				logger.Warn("sweep_conversation_failed", "conversation", id, "error", err)
			}
		}
	}
	return stats, nil
}
