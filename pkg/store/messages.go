package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"

	"github.com/cockroachdb/pebble"
)

func msgKey(id string) string { return "msg:" + id }

func convMsgIndexKey(convID string, ts int64, msgID string) string {
	return "conv:" + convID + ":msg:" + padTS(ts) + "-" + msgID
}

func replyIndexKey(parentID string, ts int64, msgID string) string {
	return "reply:" + parentID + ":" + padTS(ts) + "-" + msgID
}

// SaveMessage persists a message. On insert it also writes the
// conversation ordering index, the reply index when the message has a
// parent, and the sender/receiver cascade indexes; all keys commit in one
// batch. Updates rewrite only the primary row: SentTS is immutable so the
// index keys never move.
func SaveMessage(m models.Message, created bool) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if !created {
		if err := setRaw(msgKey(m.ID), data); err != nil {
			logger.Error("save_message_failed", "msg", m.ID, "error", err)
			return err
		}
		entityWrites.WithLabelValues("message").Inc()
		return nil
	}

	b := NewBatch()
	_ = b.Set([]byte(msgKey(m.ID)), data, nil)
	_ = b.Set([]byte(convMsgIndexKey(m.Conversation, m.SentTS, m.ID)), []byte(m.ID), nil)
	if m.Parent != "" {
		_ = b.Set([]byte(replyIndexKey(m.Parent, m.SentTS, m.ID)), []byte(m.ID), nil)
	}
	_ = b.Set([]byte("idx:sender:"+m.Sender+":"+m.ID), nil, nil)
	if m.Receiver != "" {
		_ = b.Set([]byte("idx:receiver:"+m.Receiver+":"+m.ID), nil, nil)
	}
	if err := ApplyBatch(b); err != nil {
		logger.Error("save_message_failed", "msg", m.ID, "thread", m.Conversation, "error", err)
		return err
	}
	entityWrites.WithLabelValues("message").Inc()
	logger.Debug("message_saved", "msg", m.ID, "conversation", m.Conversation, "created", created)
	return nil
}

// SaveMessageWithHistory rewrites a message row and appends its edit
// snapshot in one batch: the edited body and the history row holding the
// previous body commit together or not at all.
func SaveMessageWithHistory(m models.Message, h models.MessageHistory) error {
	mdata, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	hdata, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal history row: %w", err)
	}
	b := NewBatch()
	_ = b.Set([]byte(msgKey(m.ID)), mdata, nil)
	_ = b.Set([]byte(historyKey(h.Message, h.EditedTS, h.ID)), hdata, nil)
	if err := ApplyBatch(b); err != nil {
		logger.Error("save_message_with_history_failed", "msg", m.ID, "history", h.ID, "error", err)
		return err
	}
	entityWrites.WithLabelValues("message").Inc()
	entityWrites.WithLabelValues("history").Inc()
	logger.Debug("message_edit_saved", "msg", m.ID, "history", h.ID)
	return nil
}

// GetMessage returns the latest stored row for a message id or
// models.ErrNotFound.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	v, err := getRaw(msgKey(id))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message %s: %w", id, err)
	}
	return m, nil
}

// ListConversationMessageIDs returns message ids of a conversation in
// insertion order.
func ListConversationMessageIDs(convID string) ([]string, error) {
	var ids []string
	err := iterPrefix("conv:"+convID+":msg:", func(_ string, v []byte) error {
		ids = append(ids, string(v))
		return nil
	})
	return ids, err
}

// ListConversationMessages returns all messages of a conversation in
// insertion order. A limit > 0 keeps only the newest entries.
func ListConversationMessages(convID string, limit int) ([]models.Message, error) {
	ids, err := ListConversationMessageIDs(convID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := GetMessage(id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListReceivedMessages returns the messages addressed directly to a user.
// unreadOnly keeps only rows not yet marked read.
func ListReceivedMessages(userID string, unreadOnly bool) ([]models.Message, error) {
	ids, err := indexedMessageIDs("idx:receiver:" + userID + ":")
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := GetMessage(id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if unreadOnly && m.Read {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListReplies returns the direct replies of a message ordered by sent
// timestamp ascending.
func ListReplies(parentID string) ([]models.Message, error) {
	var out []models.Message
	err := iterPrefix("reply:"+parentID+":", func(_ string, v []byte) error {
		m, err := GetMessage(string(v))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// DeleteMessageCascade removes a message together with its reply subtree,
// history rows and notifications. The whole subtree commits in one batch.
func DeleteMessageCascade(id string) (CascadeStats, error) {
	var stats CascadeStats
	m, err := GetMessage(id)
	if err != nil {
		return stats, err
	}
	b := NewBatch()
	if err := cascadeMessageInto(b, m, &stats); err != nil {
		return stats, err
	}
	if err := ApplyBatch(b); err != nil {
		return stats, err
	}
	entityDeletes.WithLabelValues("message").Add(float64(stats.MessagesDeleted))
	logger.Info("message_cascade_deleted", "msg", id,
		"messages", stats.MessagesDeleted,
		"history", stats.HistoryDeleted,
		"notifications", stats.NotificationsDeleted)
	return stats, nil
}

// cascadeMessageInto stages deletion of m and its descendants into b.
func cascadeMessageInto(b *pebble.Batch, m models.Message, stats *CascadeStats) error {
	// Depth-first over the reply tree; parent references never cycle, which
	// write-time validation guarantees.
	replies, err := ListReplies(m.ID)
	if err != nil {
		return err
	}
	for _, r := range replies {
		if err := cascadeMessageInto(b, r, stats); err != nil {
			return err
		}
	}

	_ = b.Delete([]byte(msgKey(m.ID)), nil)
	_ = b.Delete([]byte(convMsgIndexKey(m.Conversation, m.SentTS, m.ID)), nil)
	if m.Parent != "" {
		_ = b.Delete([]byte(replyIndexKey(m.Parent, m.SentTS, m.ID)), nil)
	}
	_ = b.Delete([]byte("idx:sender:"+m.Sender+":"+m.ID), nil)
	if m.Receiver != "" {
		_ = b.Delete([]byte("idx:receiver:"+m.Receiver+":"+m.ID), nil)
	}

	// History rows die with the message.
	hist, err := ListMessageHistory(m.ID)
	if err != nil {
		return err
	}
	hpfx := "history:msg:" + m.ID + ":"
	if end := prefixEnd(hpfx); end != nil {
		_ = b.DeleteRange([]byte(hpfx), end, nil)
	}
	stats.HistoryDeleted += len(hist)

	// Notifications referencing the message, located via the message index.
	n, err := stageMessageNotifications(b, m.ID)
	if err != nil {
		return err
	}
	stats.NotificationsDeleted += n
	stats.MessagesDeleted++
	return nil
}

func stageMessageNotifications(b *pebble.Batch, msgID string) (int, error) {
	pfx := "notif:msg:" + msgID + ":"
	count := 0
	err := iterPrefix(pfx, func(k string, v []byte) error {
		primary := string(v)
		if raw, gerr := getRaw(primary); gerr == nil {
			var n models.Notification
			if json.Unmarshal(raw, &n) == nil {
				_ = b.Delete([]byte(notifUniqKey(n.User, n.Message, n.Type)), nil)
			}
		}
		_ = b.Delete([]byte(primary), nil)
		_ = b.Delete([]byte(k), nil)
		count++
		return nil
	})
	return count, err
}
