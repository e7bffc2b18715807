package utils

import "github.com/google/uuid"

// Entity ids are prefixed UUIDs so raw store keys remain self-describing
// when inspected with low-level tooling.

func GenUserID() string  { return "user-" + uuid.NewString() }
func GenConvID() string  { return "conv-" + uuid.NewString() }
func GenMsgID() string   { return "msg-" + uuid.NewString() }
func GenNotifID() string { return "notif-" + uuid.NewString() }
func GenHistID() string  { return "hist-" + uuid.NewString() }

// ShortID returns an unprefixed 8-char id for ephemeral identifiers such
// as request ids.
func ShortID() string { return uuid.NewString()[:8] }
