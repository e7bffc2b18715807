// Package cleanup reclaims data left behind by user deletion. It runs as
// an after-delete handler: the user row and its cascade are already
// committed, so everything here is best-effort and idempotent.
package cleanup

import (
	"context"
	"time"

	"relaydb/pkg/logger"
	"relaydb/pkg/store"
)

// OnUserDeleted sweeps conversations emptied by the deletion. Re-running
// it for the same user is a no-op: the sweep only looks at what is still
// in the store.
func OnUserDeleted(_ context.Context, userID string) {
	start := time.Now()
	var convsDeleted, msgs, hist, notifs int
	var sweepErrs []string

	empty, err := store.ListEmptyConversations()
	if err != nil {
		logger.Error("cleanup_scan_failed", "user", userID, "error", err)
		sweepErrs = append(sweepErrs, err.Error())
	}
	for _, convID := range empty {
		stats, err := store.DeleteConversationCascade(convID)
		if err != nil {
			logger.Warn("cleanup_conversation_failed", "user", userID, "conversation", convID, "error", err)
			sweepErrs = append(sweepErrs, err.Error())
			continue
		}
		convsDeleted++
		msgs += stats.MessagesDeleted
		hist += stats.HistoryDeleted
		notifs += stats.NotificationsDeleted
	}

	logger.AuditEvent("user_cleanup_completed",
		"user", userID,
		"conversations_deleted", convsDeleted,
		"messages_deleted", msgs,
		"history_deleted", hist,
		"notifications_deleted", notifs,
		"errors", len(sweepErrs),
		"duration_ms", time.Since(start).Milliseconds())
}
