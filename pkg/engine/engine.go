// Package engine is the write-path facade: every mutation of users,
// conversations and messages enters here, gets validated, and fires the
// change-event hooks around persistence. Read-side helpers live alongside
// so API handlers never talk to the store for anything event-relevant.
package engine

import (
	"context"
	"fmt"
	"time"

	"relaydb/pkg/cleanup"
	"relaydb/pkg/events"
	"relaydb/pkg/fanout"
	"relaydb/pkg/history"
	"relaydb/pkg/logger"
	"relaydb/pkg/models"
	"relaydb/pkg/store"
	"relaydb/pkg/telemetry"
	"relaydb/pkg/threads"
	"relaydb/pkg/utils"
	"relaydb/pkg/validation"
)

// RegisterHooks wires the standard handler set into the event dispatcher:
// edit recording before writes; conversation timestamp bumps, new-message
// fan-out and post-commit edit fan-out after writes; orphan cleanup after
// user deletion. Called once from app startup (and from tests after
// events.Reset).
func RegisterHooks() {
	events.OnBeforeMessageWrite(history.RecordEdit)
	events.OnAfterMessageWrite(touchConversation)
	events.OnAfterMessageWrite(fanout.OnMessageWritten)
	events.OnAfterMessageWrite(history.NotifyEdits)
	events.OnAfterUserDelete(cleanup.OnUserDeleted)
}

// touchConversation advances the conversation's activity timestamp when a
// message lands in it. Best-effort: a stale timestamp is not worth
// failing the write over.
func touchConversation(_ context.Context, msg *models.Message, created bool) error {
	if !created {
		return nil
	}
	_ = store.TouchConversation(msg.Conversation, msg.SentTS)
	return nil
}

// CreateUser validates and persists a new user. Emails are unique.
func CreateUser(_ context.Context, email, displayName string) (models.User, error) {
	u := models.User{
		ID:          utils.GenUserID(),
		Email:       email,
		DisplayName: displayName,
		CreatedTS:   time.Now().UnixNano(),
	}
	u.UpdatedTS = u.CreatedTS
	if err := validation.ValidateUser(u); err != nil {
		return models.User{}, err
	}
	if existing, err := store.FindUserByEmail(email); err == nil {
		return models.User{}, fmt.Errorf("%w: email already registered to %s", models.ErrValidation, existing.ID)
	}
	if err := store.SaveUser(u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// GetUser returns a stored user.
func GetUser(id string) (models.User, error) { return store.GetUser(id) }

// ListUsers returns all stored users.
func ListUsers() ([]models.User, error) { return store.ListUsers() }

// DeleteUser removes a user and everything the user owns, then fires the
// after-delete hooks. The cascade is committed before any hook runs;
// cleanup failure cannot resurrect the user.
func DeleteUser(ctx context.Context, id string) (store.CascadeStats, error) {
	if _, err := store.GetUser(id); err != nil {
		return store.CascadeStats{}, err
	}
	stats, err := store.DeleteUserCascade(id)
	if err != nil {
		return stats, err
	}
	events.FireAfterUserDelete(ctx, id)
	return stats, nil
}

// CreateConversation validates and persists a conversation.
func CreateConversation(_ context.Context, participants []string) (models.Conversation, error) {
	c := models.Conversation{
		ID:           utils.GenConvID(),
		Participants: participants,
		CreatedTS:    time.Now().UnixNano(),
	}
	c.UpdatedTS = c.CreatedTS
	if err := validation.ValidateConversation(c); err != nil {
		return models.Conversation{}, err
	}
	if err := store.SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// GetConversation returns stored conversation metadata.
func GetConversation(id string) (models.Conversation, error) { return store.GetConversation(id) }

// ListConversations returns all conversations.
func ListConversations() ([]models.Conversation, error) { return store.ListConversations() }

// ListConversationMessages returns a conversation's messages in send
// order. limit > 0 keeps only the newest rows.
func ListConversationMessages(convID string, limit int) ([]models.Message, error) {
	if _, err := store.GetConversation(convID); err != nil {
		return nil, err
	}
	return store.ListConversationMessages(convID, limit)
}

// CreateMessage persists a new message. The caller fills Sender,
// Conversation, Body and optionally Receiver and Parent; identity,
// timestamps and flags are assigned here. The before-write hooks may
// still veto, and the after-write hooks (fan-out, conversation bump) run
// once the row is durable.
func CreateMessage(ctx context.Context, m models.Message) (models.Message, error) {
	defer telemetry.StartSpan(ctx, "create_message")()
	m.ID = utils.GenMsgID()
	m.SentTS = time.Now().UnixNano()
	m.Edited = false
	m.EditedBy = ""
	m.Read = false
	if err := validation.ValidateNewMessage(m); err != nil {
		return models.Message{}, err
	}
	if err := events.FireBeforeMessageWrite(ctx, nil, &m); err != nil {
		return models.Message{}, err
	}
	if err := store.SaveMessage(m, true); err != nil {
		return models.Message{}, err
	}
	// The row is durable; after-write trouble never unwinds the create.
	if err := events.FireAfterMessageWrite(ctx, &m, true); err != nil {
		logger.Error("after_write_hooks_failed", "msg", m.ID, "error", err)
	}
	return m, nil
}

// GetMessage returns a stored message.
func GetMessage(id string) (models.Message, error) { return store.GetMessage(id) }

// EditMessage replaces a message's body. The before-write hooks see the
// persisted row next to the candidate, which is how the edit recorder
// stages the old-body snapshot; when nothing changed the update is a
// no-op write with no history row and no fan-out. A staged snapshot
// commits in the same batch as the edited row, so an aborted edit leaves
// no history behind.
func EditMessage(ctx context.Context, id, newBody, editor string) (models.Message, error) {
	defer telemetry.StartSpan(ctx, "edit_message")()
	old, err := store.GetMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if err := validation.ValidateEdit(newBody); err != nil {
		return models.Message{}, err
	}
	next := old
	next.Body = newBody
	if next.Body != old.Body {
		if editor == "" {
			editor = old.Sender
		}
		next.EditedBy = editor
	}
	if err := events.FireBeforeMessageWrite(ctx, &old, &next); err != nil {
		history.DropStaged(next.ID)
		return models.Message{}, err
	}
	if h, staged := history.StagedEdit(next.ID); staged {
		if err := store.SaveMessageWithHistory(next, h); err != nil {
			history.DropStaged(next.ID)
			return models.Message{}, err
		}
	} else if err := store.SaveMessage(next, false); err != nil {
		return models.Message{}, err
	}
	// The row is durable; after-write trouble never unwinds the edit. A
	// chain abort before NotifyEdits would strand the stage mark, so it is
	// dropped here (fan-out is best-effort anyway).
	if err := events.FireAfterMessageWrite(ctx, &next, false); err != nil {
		history.DropStaged(next.ID)
		logger.Error("after_write_hooks_failed", "msg", next.ID, "error", err)
	}
	return next, nil
}

// MarkMessageRead flips the read flag of a message addressed to userID.
func MarkMessageRead(ctx context.Context, id, userID string) (models.Message, error) {
	old, err := store.GetMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if old.Receiver != userID {
		return models.Message{}, fmt.Errorf("%w: message is not addressed to %s", models.ErrValidation, userID)
	}
	if old.Read {
		return old, nil
	}
	next := old
	next.Read = true
	if err := events.FireBeforeMessageWrite(ctx, &old, &next); err != nil {
		return models.Message{}, err
	}
	if err := store.SaveMessage(next, false); err != nil {
		return models.Message{}, err
	}
	if err := events.FireAfterMessageWrite(ctx, &next, false); err != nil {
		logger.Error("after_write_hooks_failed", "msg", next.ID, "error", err)
	}
	return next, nil
}

// MarkConversationRead marks every unread message addressed to userID in
// the conversation as read, returning how many flipped.
func MarkConversationRead(ctx context.Context, convID, userID string) (int, error) {
	msgs, err := ListConversationMessages(convID, 0)
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, m := range msgs {
		if m.Receiver != userID || m.Read {
			continue
		}
		if _, err := MarkMessageRead(ctx, m.ID, userID); err != nil {
			return flipped, err
		}
		flipped++
	}
	return flipped, nil
}

// DeleteMessage removes a message and its reply subtree.
func DeleteMessage(_ context.Context, id string) (store.CascadeStats, error) {
	return store.DeleteMessageCascade(id)
}

// GetEditHistory returns a message's edit snapshots, newest first.
func GetEditHistory(msgID string) ([]models.MessageHistory, error) {
	if _, err := store.GetMessage(msgID); err != nil {
		return nil, err
	}
	rows, err := store.ListMessageHistory(msgID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// GetOriginalContent returns the body the message was first sent with.
func GetOriginalContent(msgID string) (string, error) {
	return history.OriginalContent(msgID)
}

// GetThreadedReplies resolves a message's reply tree down to maxDepth.
func GetThreadedReplies(msgID string, maxDepth int) (threads.Node, error) {
	return threads.Resolve(msgID, maxDepth)
}

// UnreadMessages returns the unread messages addressed directly to a user.
func UnreadMessages(userID string) ([]models.Message, error) {
	if _, err := store.GetUser(userID); err != nil {
		return nil, err
	}
	return store.ListReceivedMessages(userID, true)
}

// ListNotifications returns a user's notifications, newest first.
func ListNotifications(userID string, unreadOnly bool) ([]models.Notification, error) {
	if _, err := store.GetUser(userID); err != nil {
		return nil, err
	}
	return store.ListUserNotifications(userID, unreadOnly)
}

// MarkNotificationRead flips a notification's read flag.
func MarkNotificationRead(userID, notifID string) error {
	return store.MarkNotificationRead(userID, notifID)
}
