// Package history records message edits. A before-write handler stages
// the previous body as an append-only history row whenever an update
// changes the body; the write path commits the staged row in the same
// batch as the edited message, and an after-write handler fans out edit
// notifications once that batch has committed.
package history

import (
	"context"
	"sync"
	"time"

	"relaydb/pkg/fanout"
	"relaydb/pkg/logger"
	"relaydb/pkg/models"
	"relaydb/pkg/store"
	"relaydb/pkg/utils"
)

// pendingEdits carries the staged snapshot from the before-write hook to
// the commit and the after-write hook of the same operation. Handlers run
// synchronously inside the write, so entries are short-lived.
var pendingEdits = struct {
	sync.Mutex
	rows map[string]models.MessageHistory
}{rows: map[string]models.MessageHistory{}}

// RecordEdit is the before-write handler. For updates whose body differs
// from the persisted row it stages a history row holding the OLD body and
// marks the outgoing row as edited. Inserts and non-body updates pass
// through untouched. Nothing is written here: the snapshot becomes
// durable only when the write path commits it alongside the new body, so
// a vetoed or failed update leaves no trace.
func RecordEdit(_ context.Context, old, next *models.Message) error {
	if old == nil || old.Body == next.Body {
		return nil
	}
	h := models.MessageHistory{
		ID:       utils.GenHistID(),
		Message:  next.ID,
		OldBody:  old.Body,
		EditedTS: time.Now().UnixNano(),
	}
	next.Edited = true
	pendingEdits.Lock()
	pendingEdits.rows[next.ID] = h
	pendingEdits.Unlock()
	logger.Debug("edit_staged", "msg", next.ID, "history", h.ID)
	return nil
}

// StagedEdit returns the snapshot staged for msgID, if any, without
// consuming it. The write path folds it into the message's commit batch.
func StagedEdit(msgID string) (models.MessageHistory, bool) {
	pendingEdits.Lock()
	h, ok := pendingEdits.rows[msgID]
	pendingEdits.Unlock()
	return h, ok
}

// DropStaged discards the snapshot staged for msgID. Called when the
// enclosing write is vetoed or fails so the next operation on the message
// does not inherit a stale edit mark.
func DropStaged(msgID string) {
	pendingEdits.Lock()
	delete(pendingEdits.rows, msgID)
	pendingEdits.Unlock()
}

// NotifyEdits is the after-write handler paired with RecordEdit: once an
// update with a staged edit has committed, it consumes the stage mark and
// fans out edit notifications. Registered after RecordEdit so the write
// is durable by the time recipients hear about it.
func NotifyEdits(ctx context.Context, msg *models.Message, created bool) error {
	if created {
		return nil
	}
	pendingEdits.Lock()
	_, edited := pendingEdits.rows[msg.ID]
	delete(pendingEdits.rows, msg.ID)
	pendingEdits.Unlock()
	if edited {
		fanout.OnMessageEdited(ctx, msg)
	}
	return nil
}

// OriginalContent returns the body the message was first sent with: the
// oldest history snapshot when edits exist, otherwise the current body.
func OriginalContent(msgID string) (string, error) {
	rows, err := store.ListMessageHistory(msgID)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return rows[0].OldBody, nil
	}
	m, err := store.GetMessage(msgID)
	if err != nil {
		return "", err
	}
	return m.Body, nil
}
