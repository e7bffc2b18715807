// Package events is a synchronous hook mechanism around entity writes.
// Handlers are registered explicitly during process startup and invoked by
// direct call, in registration order, inside the triggering operation. It
// is not a durable queue: nothing is retried. A before-write handler error
// aborts the enclosing operation; after the commit, errors only stop the
// remaining handlers — the write stands, and the caller logs the failure
// (after-user-delete handlers are best-effort by contract).
package events

import (
	"context"
	"fmt"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

// BeforeMessageWriteHandler runs before a message row is persisted. old is
// nil for inserts and holds the currently-persisted row for updates; next
// is the row as it will be written and may be mutated by the handler.
type BeforeMessageWriteHandler func(ctx context.Context, old, next *models.Message) error

// AfterMessageWriteHandler runs once the message write has committed.
// created discriminates insert from update.
type AfterMessageWriteHandler func(ctx context.Context, msg *models.Message, created bool) error

// AfterUserDeleteHandler runs once a user row is irrecoverably gone.
// Failures stay inside the handler; the dispatcher ignores them.
type AfterUserDeleteHandler func(ctx context.Context, userID string)

var (
	beforeMessageWrite []BeforeMessageWriteHandler
	afterMessageWrite  []AfterMessageWriteHandler
	afterUserDelete    []AfterUserDeleteHandler
)

// OnBeforeMessageWrite registers h to run before message persistence.
func OnBeforeMessageWrite(h BeforeMessageWriteHandler) {
	beforeMessageWrite = append(beforeMessageWrite, h)
}

// OnAfterMessageWrite registers h to run after message persistence.
func OnAfterMessageWrite(h AfterMessageWriteHandler) {
	afterMessageWrite = append(afterMessageWrite, h)
}

// OnAfterUserDelete registers h to run after a user deletion commits.
func OnAfterUserDelete(h AfterUserDeleteHandler) {
	afterUserDelete = append(afterUserDelete, h)
}

// Reset drops all registered handlers. Intended for tests.
func Reset() {
	beforeMessageWrite = nil
	afterMessageWrite = nil
	afterUserDelete = nil
}

// FireBeforeMessageWrite invokes the before-write handlers in registration
// order. The first error aborts the chain and must abort the write.
func FireBeforeMessageWrite(ctx context.Context, old, next *models.Message) error {
	for i, h := range beforeMessageWrite {
		if err := h(ctx, old, next); err != nil {
			return fmt.Errorf("before-write handler %d: %w", i, err)
		}
	}
	return nil
}

// FireAfterMessageWrite invokes the after-write handlers in registration
// order. The first error aborts the chain, but the write has already
// committed: callers log the error instead of failing the operation.
func FireAfterMessageWrite(ctx context.Context, msg *models.Message, created bool) error {
	for i, h := range afterMessageWrite {
		if err := h(ctx, msg, created); err != nil {
			return fmt.Errorf("after-write handler %d: %w", i, err)
		}
	}
	return nil
}

// FireAfterUserDelete invokes the after-delete handlers. Handlers are
// best-effort; a panic is recovered and logged so the committed deletion
// is never undone by cleanup trouble.
func FireAfterUserDelete(ctx context.Context, userID string) {
	for i, h := range afterUserDelete {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("after_user_delete_handler_panic", "handler", i, "user", userID, "panic", r)
				}
			}()
			h(ctx, userID)
		}()
	}
}
