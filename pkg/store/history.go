package store

import (
	"encoding/json"
	"fmt"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
)

func historyKey(msgID string, ts int64, histID string) string {
	return "history:msg:" + msgID + ":" + padTS(ts) + "-" + histID
}

// AppendHistory writes one append-only edit-history row. Rows are never
// updated after creation.
func AppendHistory(h models.MessageHistory) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal history row: %w", err)
	}
	if err := setRaw(historyKey(h.Message, h.EditedTS, h.ID), data); err != nil {
		logger.Error("append_history_failed", "msg", h.Message, "error", err)
		return err
	}
	entityWrites.WithLabelValues("history").Inc()
	return nil
}

// ListMessageHistory returns all history rows for a message in
// chronological (oldest-first) order.
func ListMessageHistory(msgID string) ([]models.MessageHistory, error) {
	var out []models.MessageHistory
	err := iterPrefix("history:msg:"+msgID+":", func(_ string, v []byte) error {
		var h models.MessageHistory
		if err := json.Unmarshal(v, &h); err == nil {
			out = append(out, h)
		}
		return nil
	})
	return out, err
}
