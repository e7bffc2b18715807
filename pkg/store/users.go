package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

func userKey(id string) string { return "user:" + id }

// SaveUser stores the user record keyed by id.
func SaveUser(u models.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := setRaw(userKey(u.ID), b); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	entityWrites.WithLabelValues("user").Inc()
	return nil
}

// GetUser returns the user with the given id or models.ErrNotFound.
func GetUser(id string) (models.User, error) {
	var u models.User
	v, err := getRaw(userKey(id))
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(v, &u); err != nil {
		return u, fmt.Errorf("invalid stored user %s: %w", id, err)
	}
	return u, nil
}

// ListUsers returns all stored users.
func ListUsers() ([]models.User, error) {
	var out []models.User
	err := iterPrefix("user:", func(_ string, v []byte) error {
		var u models.User
		if err := json.Unmarshal(v, &u); err == nil {
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

// FindUserByEmail returns the user with the given email, if any. Emails are
// unique; the first match wins.
func FindUserByEmail(email string) (models.User, error) {
	var found *models.User
	err := iterPrefix("user:", func(_ string, v []byte) error {
		var u models.User
		if err := json.Unmarshal(v, &u); err == nil && strings.EqualFold(u.Email, email) {
			found = &u
			return errStopIter
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return models.User{}, err
	}
	if found == nil {
		return models.User{}, fmt.Errorf("%w: user email %s", models.ErrNotFound, email)
	}
	return *found, nil
}

var errStopIter = errors.New("stop iteration")

// CascadeStats summarizes rows removed by a cascading delete.
type CascadeStats struct {
	MessagesDeleted      int `json:"messages_deleted"`
	HistoryDeleted       int `json:"history_deleted"`
	NotificationsDeleted int `json:"notifications_deleted"`
	ConversationsUpdated int `json:"conversations_updated"`
	ConversationsDeleted int `json:"conversations_deleted"`
}

func (s *CascadeStats) add(o CascadeStats) {
	s.MessagesDeleted += o.MessagesDeleted
	s.HistoryDeleted += o.HistoryDeleted
	s.NotificationsDeleted += o.NotificationsDeleted
	s.ConversationsUpdated += o.ConversationsUpdated
	s.ConversationsDeleted += o.ConversationsDeleted
}

// DeleteUserCascade removes the user row plus everything referentially
// owned by it: messages sent or received by the user (with their reply
// trees, history and notifications), the user's own notifications, and the
// user's membership in conversation participant sets. Emptied conversations
// are NOT deleted here; that is a derived condition the cleanup coordinator
// handles after the delete event fires.
func DeleteUserCascade(id string) (CascadeStats, error) {
	var stats CascadeStats
	if db == nil {
		return stats, errNotOpen
	}

	// Messages sent by the user.
	sent, err := indexedMessageIDs("idx:sender:" + id + ":")
	if err != nil {
		return stats, err
	}
	for _, mid := range sent {
		s, err := DeleteMessageCascade(mid)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return stats, fmt.Errorf("cascade delete of sent message %s: %w", mid, err)
		}
		stats.add(s)
	}

	// Messages addressed directly to the user.
	received, err := indexedMessageIDs("idx:receiver:" + id + ":")
	if err != nil {
		return stats, err
	}
	for _, mid := range received {
		s, err := DeleteMessageCascade(mid)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return stats, fmt.Errorf("cascade delete of received message %s: %w", mid, err)
		}
		stats.add(s)
	}

	// Notifications targeted at the user that survived the message cascades.
	n, err := deleteUserNotifications(id)
	if err != nil {
		return stats, err
	}
	stats.NotificationsDeleted += n

	// Membership removal; the conversation itself stays even when emptied.
	convs, err := ListConversations()
	if err != nil {
		return stats, err
	}
	for _, c := range convs {
		if c.RemoveParticipant(id) {
			if err := SaveConversation(c); err != nil {
				return stats, fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
			}
			stats.ConversationsUpdated++
		}
	}

	// Drop the cascade indexes and the user row itself.
	b := NewBatch()
	for _, pfx := range []string{"idx:sender:" + id + ":", "idx:receiver:" + id + ":"} {
		if end := prefixEnd(pfx); end != nil {
			_ = b.DeleteRange([]byte(pfx), end, nil)
		}
	}
	_ = b.Delete([]byte(userKey(id)), nil)
	if err := ApplyBatch(b); err != nil {
		return stats, err
	}
	entityDeletes.WithLabelValues("user").Inc()
	logger.Info("user_cascade_deleted", "user", id,
		"messages", stats.MessagesDeleted,
		"notifications", stats.NotificationsDeleted,
		"conversations_updated", stats.ConversationsUpdated)
	return stats, nil
}

func indexedMessageIDs(prefix string) ([]string, error) {
	var ids []string
	err := iterPrefix(prefix, func(k string, _ []byte) error {
		ids = append(ids, k[len(prefix):])
		return nil
	})
	return ids, err
}

func deleteUserNotifications(userID string) (int, error) {
	type row struct {
		key string
		n   models.Notification
	}
	var rows []row
	pfx := "notif:user:" + userID + ":"
	err := iterPrefix(pfx, func(k string, v []byte) error {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err == nil {
			rows = append(rows, row{key: k, n: n})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	b := NewBatch()
	for _, r := range rows {
		_ = b.Delete([]byte(r.key), nil)
		_ = b.Delete([]byte(notifMsgIndexKey(r.n.Message, r.n.ID)), nil)
		_ = b.Delete([]byte(notifUniqKey(r.n.User, r.n.Message, r.n.Type)), nil)
	}
	if err := ApplyBatch(b); err != nil {
		return 0, err
	}
	entityDeletes.WithLabelValues("notification").Add(float64(len(rows)))
	return len(rows), nil
}
