package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

func notifUserKey(userID string, ts int64, notifID string) string {
	return "notif:user:" + userID + ":" + padTS(ts) + "-" + notifID
}

func notifMsgIndexKey(msgID, notifID string) string {
	return "notif:msg:" + msgID + ":" + notifID
}

func notifUniqKey(userID, msgID string, typ models.NotificationType) string {
	return "notif:uniq:" + userID + ":" + msgID + ":" + string(typ)
}

// ApplyNotificationBatch persists a set of notifications in a single
// atomic batch. When unique is true, rows whose (user, message, type)
// marker already exists are skipped rather than failing the batch. Returns
// the number of rows written and the number skipped.
func ApplyNotificationBatch(notifs []models.Notification, unique bool) (int, int, error) {
	if len(notifs) == 0 {
		return 0, 0, nil
	}
	if db == nil {
		return 0, 0, errNotOpen
	}
	b := NewBatch()
	written, skipped := 0, 0
	for _, n := range notifs {
		if unique {
			if _, err := getRaw(notifUniqKey(n.User, n.Message, n.Type)); err == nil {
				skipped++
				continue
			} else if !errors.Is(err, models.ErrNotFound) {
				return 0, 0, err
			}
		}
		data, err := json.Marshal(n)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to marshal notification: %w", err)
		}
		primary := notifUserKey(n.User, n.CreatedTS, n.ID)
		_ = b.Set([]byte(primary), data, nil)
		_ = b.Set([]byte(notifMsgIndexKey(n.Message, n.ID)), []byte(primary), nil)
		_ = b.Set([]byte(notifUniqKey(n.User, n.Message, n.Type)), []byte(n.ID), nil)
		written++
	}
	if written == 0 {
		return 0, skipped, nil
	}
	if err := ApplyBatch(b); err != nil {
		return 0, skipped, err
	}
	entityWrites.WithLabelValues("notification").Add(float64(written))
	logger.Debug("notification_batch_applied", "written", written, "skipped", skipped)
	return written, skipped, nil
}

// ListUserNotifications returns the notifications addressed to a user,
// newest first. unreadOnly keeps only rows not yet marked read.
func ListUserNotifications(userID string, unreadOnly bool) ([]models.Notification, error) {
	var out []models.Notification
	err := iterPrefix("notif:user:"+userID+":", func(_ string, v []byte) error {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err == nil {
			if unreadOnly && n.IsRead {
				return nil
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys sort oldest-first; callers expect newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListMessageNotifications returns all notifications referencing a message.
func ListMessageNotifications(msgID string) ([]models.Notification, error) {
	var out []models.Notification
	err := iterPrefix("notif:msg:"+msgID+":", func(_ string, v []byte) error {
		raw, gerr := getRaw(string(v))
		if gerr != nil {
			if errors.Is(gerr, models.ErrNotFound) {
				return nil
			}
			return gerr
		}
		var n models.Notification
		if json.Unmarshal(raw, &n) == nil {
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// MarkNotificationRead flips the is_read flag of one of the user's
// notifications. Returns models.ErrNotFound when the id is absent.
func MarkNotificationRead(userID, notifID string) error {
	pfx := "notif:user:" + userID + ":"
	var key string
	var n models.Notification
	err := iterPrefix(pfx, func(k string, v []byte) error {
		var cand models.Notification
		if json.Unmarshal(v, &cand) == nil && cand.ID == notifID {
			key, n = k, cand
			return errStopIter
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: notification %s", models.ErrNotFound, notifID)
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	data, merr := json.Marshal(n)
	if merr != nil {
		return fmt.Errorf("failed to marshal notification: %w", merr)
	}
	return setRaw(key, data)
}
