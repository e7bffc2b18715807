package models

import "errors"

// Sentinel errors forming the caller-visible error taxonomy. Fan-out and
// cleanup failures are internal and never surface through these.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// NotificationType discriminates why a notification row exists.
type NotificationType string

const (
	NotifyNewMessage  NotificationType = "new_message"
	NotifyMessageEdit NotificationType = "message_edit"
	NotifyMention     NotificationType = "mention"
)

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedTS   int64  `json:"created_ts,omitempty"`
	UpdatedTS   int64  `json:"updated_ts,omitempty"`
}

type Conversation struct {
	ID string `json:"id"`
	// Participants holds user ids; order carries no meaning.
	Participants []string `json:"participants"`
	CreatedTS    int64    `json:"created_ts,omitempty"`
	// UpdatedTS advances whenever a message lands in the conversation.
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}

// HasParticipant reports whether uid is in the participant set.
func (c *Conversation) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// RemoveParticipant drops uid from the participant set and reports whether
// anything changed.
func (c *Conversation) RemoveParticipant(uid string) bool {
	out := c.Participants[:0]
	removed := false
	for _, p := range c.Participants {
		if p == uid {
			removed = true
			continue
		}
		out = append(out, p)
	}
	c.Participants = out
	return removed
}

type Message struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	// Receiver is set for direct messages only; group messages leave it empty
	// and fan out to all non-sender participants.
	Receiver     string `json:"receiver,omitempty"`
	Conversation string `json:"conversation"`
	Body         string `json:"body"`
	// SentTS is immutable after creation.
	SentTS int64 `json:"sent_ts"`
	Edited bool  `json:"edited,omitempty"`
	// EditedBy records the user who performed the last edit.
	EditedBy string `json:"edited_by,omitempty"`
	Read     bool   `json:"read,omitempty"`
	// Parent references another message in the same conversation; replies
	// form a tree, never a cycle.
	Parent string `json:"parent,omitempty"`
}

type Notification struct {
	ID      string           `json:"id"`
	User    string           `json:"user"`
	Message string           `json:"message"`
	Type    NotificationType `json:"type"`
	IsRead  bool             `json:"is_read,omitempty"`
	// CreatedTS (ns)
	CreatedTS int64 `json:"created_ts"`
}

// MessageHistory snapshots a message body as it was before one edit.
// Rows are append-only and die with their message.
type MessageHistory struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	OldBody string `json:"old_body"`
	// EditedTS (ns)
	EditedTS int64 `json:"edited_ts"`
}
