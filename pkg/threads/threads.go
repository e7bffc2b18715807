// Package threads resolves reply trees for display.
package threads

import (
	"errors"

	"relaydb/pkg/models"
	"relaydb/pkg/store"
)

// DefaultMaxDepth bounds reply-tree recursion when the caller does not
// choose a depth.
const DefaultMaxDepth = 5

// Node is one message in a resolved reply tree.
type Node struct {
	Message models.Message `json:"message"`
	Replies []Node         `json:"replies,omitempty"`
}

// Resolve loads the message with the given id and its reply tree down to
// maxDepth levels of replies. maxDepth <= 0 means DefaultMaxDepth is NOT
// substituted: depth 0 returns the root with no replies, negative depths
// are treated as 0. Trees deeper than maxDepth are truncated, never an
// error. Siblings are ordered by sent timestamp ascending.
func Resolve(rootID string, maxDepth int) (Node, error) {
	m, err := store.GetMessage(rootID)
	if err != nil {
		return Node{}, err
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	node := Node{Message: m}
	if err := attachReplies(&node, maxDepth); err != nil {
		return Node{}, err
	}
	return node, nil
}

func attachReplies(n *Node, depth int) error {
	if depth == 0 {
		return nil
	}
	replies, err := store.ListReplies(n.Message.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, r := range replies {
		child := Node{Message: r}
		if err := attachReplies(&child, depth-1); err != nil {
			return err
		}
		n.Replies = append(n.Replies, child)
	}
	return nil
}

// Count returns the number of messages in the tree, root included.
func (n Node) Count() int {
	total := 1
	for _, c := range n.Replies {
		total += c.Count()
	}
	return total
}
