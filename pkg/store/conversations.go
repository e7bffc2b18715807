package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

func convKey(id string) string { return "conv:" + id + ":meta" }

// SaveConversation stores conversation metadata under a reserved key.
func SaveConversation(c models.Conversation) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := setRaw(convKey(c.ID), b); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	entityWrites.WithLabelValues("conversation").Inc()
	return nil
}

// GetConversation returns the conversation with the given id or
// models.ErrNotFound.
func GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	v, err := getRaw(convKey(id))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored conversation %s: %w", id, err)
	}
	return c, nil
}

// ListConversations returns all saved conversation metadata values.
func ListConversations() ([]models.Conversation, error) {
	var out []models.Conversation
	err := iterPrefix("conv:", func(k string, v []byte) error {
		if !strings.HasSuffix(k, ":meta") {
			return nil
		}
		var c models.Conversation
		if err := json.Unmarshal(v, &c); err == nil {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// ListEmptyConversations returns the ids of conversations whose participant
// set is empty. Emptiness is a derived condition the cascade machinery does
// not detect on its own.
func ListEmptyConversations() ([]string, error) {
	convs, err := ListConversations()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range convs {
		if len(c.Participants) == 0 {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

// TouchConversation advances the conversation's UpdatedTS. Used by the
// after-write hook when a message lands.
func TouchConversation(id string, ts int64) error {
	c, err := GetConversation(id)
	if err != nil {
		return err
	}
	if ts > c.UpdatedTS {
		c.UpdatedTS = ts
	}
	return SaveConversation(c)
}

// DeleteConversationCascade removes the conversation metadata and every
// message in it, including each message's reply tree, history rows and
// notifications.
func DeleteConversationCascade(id string) (CascadeStats, error) {
	var stats CascadeStats
	if _, err := GetConversation(id); err != nil {
		return stats, err
	}
	ids, err := ListConversationMessageIDs(id)
	if err != nil {
		return stats, err
	}
	for _, mid := range ids {
		s, err := DeleteMessageCascade(mid)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return stats, fmt.Errorf("cascade delete of message %s: %w", mid, err)
		}
		stats.add(s)
	}
	b := NewBatch()
	pfx := "conv:" + id + ":"
	if end := prefixEnd(pfx); end != nil {
		_ = b.DeleteRange([]byte(pfx), end, nil)
	}
	if err := ApplyBatch(b); err != nil {
		return stats, err
	}
	stats.ConversationsDeleted++
	entityDeletes.WithLabelValues("conversation").Inc()
	logger.Info("conversation_cascade_deleted", "conversation", id, "messages", stats.MessagesDeleted)
	return stats, nil
}
