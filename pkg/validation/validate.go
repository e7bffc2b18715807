// Package validation holds the write-time rules for users, conversations
// and messages. Structural limits are configurable via SetRules;
// referential checks (participants, parent linkage) read the store.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"relaydb/pkg/models"
	"relaydb/pkg/store"
)

// Rules carries the configurable structural limits.
type Rules struct {
	MaxBodyLen      int
	MaxParticipants int
}

// DefaultRules are applied until config overrides them.
var DefaultRules = Rules{
	MaxBodyLen:      64 * 1024,
	MaxParticipants: 256,
}

var rules = DefaultRules

// SetRules replaces the active limits. Zero fields fall back to defaults.
func SetRules(r Rules) {
	if r.MaxBodyLen <= 0 {
		r.MaxBodyLen = DefaultRules.MaxBodyLen
	}
	if r.MaxParticipants <= 0 {
		r.MaxParticipants = DefaultRules.MaxParticipants
	}
	rules = r
}

func invalid(msgs []string) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(msgs, "; "))
}

// ValidateUser checks a user row before persistence.
func ValidateUser(u models.User) error {
	var errs []string
	if strings.TrimSpace(u.Email) == "" {
		errs = append(errs, "email is required")
	} else if !strings.Contains(u.Email, "@") {
		errs = append(errs, "email is malformed")
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	return nil
}

// ValidateConversation checks conversation metadata and that every
// participant exists.
func ValidateConversation(c models.Conversation) error {
	var errs []string
	if len(c.Participants) == 0 {
		errs = append(errs, "at least one participant is required")
	}
	if len(c.Participants) > rules.MaxParticipants {
		errs = append(errs, fmt.Sprintf("too many participants: %d > %d", len(c.Participants), rules.MaxParticipants))
	}
	seen := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if seen[p] {
			errs = append(errs, "duplicate participant: "+p)
			continue
		}
		seen[p] = true
		if _, err := store.GetUser(p); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				errs = append(errs, "unknown participant: "+p)
			} else {
				return err
			}
		}
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	return nil
}

// ValidateNewMessage checks a message before its first write: body limits,
// sender/receiver membership in the conversation, and parent linkage.
func ValidateNewMessage(m models.Message) error {
	var errs []string
	if strings.TrimSpace(m.Body) == "" {
		errs = append(errs, "body is required")
	}
	if len(m.Body) > rules.MaxBodyLen {
		errs = append(errs, fmt.Sprintf("body too large: %d > %d", len(m.Body), rules.MaxBodyLen))
	}
	if m.Sender == "" {
		errs = append(errs, "sender is required")
	}
	if m.Conversation == "" {
		errs = append(errs, "conversation is required")
	}
	if len(errs) > 0 {
		return invalid(errs)
	}

	conv, err := store.GetConversation(m.Conversation)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return invalid([]string{"unknown conversation: " + m.Conversation})
		}
		return err
	}
	if !conv.HasParticipant(m.Sender) {
		errs = append(errs, "sender is not a participant")
	}
	if m.Receiver != "" && !conv.HasParticipant(m.Receiver) {
		errs = append(errs, "receiver is not a participant")
	}
	if m.Parent != "" {
		if perrs, err := checkParent(m); err != nil {
			return err
		} else {
			errs = append(errs, perrs...)
		}
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	return nil
}

// ValidateEdit checks the replacement body of an existing message.
func ValidateEdit(body string) error {
	var errs []string
	if strings.TrimSpace(body) == "" {
		errs = append(errs, "body is required")
	}
	if len(body) > rules.MaxBodyLen {
		errs = append(errs, fmt.Sprintf("body too large: %d > %d", len(body), rules.MaxBodyLen))
	}
	if len(errs) > 0 {
		return invalid(errs)
	}
	return nil
}

// checkParent verifies the parent exists, lives in the same conversation,
// and that following parent links never revisits a message. The walk is
// bounded so a corrupted chain cannot loop forever.
func checkParent(m models.Message) ([]string, error) {
	parent, err := store.GetMessage(m.Parent)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []string{"unknown parent message: " + m.Parent}, nil
		}
		return nil, err
	}
	if parent.Conversation != m.Conversation {
		return []string{"parent belongs to a different conversation"}, nil
	}
	seen := map[string]bool{m.ID: true}
	cur := parent
	for hops := 0; hops < 10000; hops++ {
		if seen[cur.ID] {
			return []string{"parent chain contains a cycle"}, nil
		}
		seen[cur.ID] = true
		if cur.Parent == "" {
			return nil, nil
		}
		next, err := store.GetMessage(cur.Parent)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		cur = next
	}
	return []string{"parent chain too deep"}, nil
}
