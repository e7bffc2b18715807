// Package fanout materializes notifications for message activity. It runs
// inside the write path as after-write handlers but is best-effort: a
// failed fan-out is logged and counted, never surfaced to the sender.
package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"
	"relaydb/pkg/store"
	"relaydb/pkg/utils"
)

// Policy controls duplicate suppression for generated notifications.
type Policy string

const (
	// PolicyUnique drops a notification when the recipient already holds
	// one for the same message and type.
	PolicyUnique Policy = "unique"
	// PolicyAllowDuplicates writes a fresh notification on every event.
	PolicyAllowDuplicates Policy = "allow-duplicates"
)

var policy = PolicyUnique

// SetPolicy switches the duplicate-suppression behavior. Called once at
// startup from config.
func SetPolicy(p Policy) {
	if p == PolicyAllowDuplicates {
		policy = PolicyAllowDuplicates
		return
	}
	policy = PolicyUnique
}

var (
	notifsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydb_fanout_notifications_total",
		Help: "Notifications created by fan-out, by type.",
	}, []string{"type"})
	notifsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaydb_fanout_skipped_total",
		Help: "Notifications suppressed by the uniqueness policy.",
	})
	fanoutErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaydb_fanout_errors_total",
		Help: "Fan-out attempts that failed to persist.",
	})
)

func init() {
	prometheus.MustRegister(notifsCreated, notifsSkipped, fanoutErrors)
}

// OnMessageWritten is the after-write handler: new messages fan out
// new-message notifications, edits fan out edit notifications. Always
// returns nil; fan-out failure never aborts the write chain.
func OnMessageWritten(ctx context.Context, msg *models.Message, created bool) error {
	if created {
		deliver(ctx, msg, models.NotifyNewMessage)
	}
	return nil
}

// OnMessageEdited fans out edit notifications for an updated message. The
// history recorder calls this once it has confirmed the body changed.
func OnMessageEdited(ctx context.Context, msg *models.Message) {
	deliver(ctx, msg, models.NotifyMessageEdit)
}

func deliver(_ context.Context, msg *models.Message, typ models.NotificationType) {
	recipients, err := Recipients(msg)
	if err != nil {
		fanoutErrors.Inc()
		logger.Error("fanout_recipients_failed", "msg", msg.ID, "type", string(typ), "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	now := time.Now().UnixNano()
	batch := make([]models.Notification, 0, len(recipients))
	for _, uid := range recipients {
		batch = append(batch, models.Notification{
			ID:        utils.GenNotifID(),
			User:      uid,
			Message:   msg.ID,
			Type:      typ,
			CreatedTS: now,
		})
	}
	written, skipped, err := store.ApplyNotificationBatch(batch, policy == PolicyUnique)
	if err != nil {
		fanoutErrors.Inc()
		logger.Error("fanout_apply_failed", "msg", msg.ID, "type", string(typ), "recipients", len(batch), "error", err)
		return
	}
	notifsCreated.WithLabelValues(string(typ)).Add(float64(written))
	if skipped > 0 {
		notifsSkipped.Add(float64(skipped))
	}
	logger.Debug("fanout_delivered", "msg", msg.ID, "type", string(typ), "written", written, "skipped", skipped)
}

// Recipients resolves who gets notified for a message: the explicit
// receiver when one is set, otherwise every conversation participant
// except the sender. An empty result means no fan-out.
func Recipients(msg *models.Message) ([]string, error) {
	if msg.Receiver != "" {
		if msg.Receiver == msg.Sender {
			return nil, nil
		}
		return []string{msg.Receiver}, nil
	}
	conv, err := store.GetConversation(msg.Conversation)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != msg.Sender {
			out = append(out, p)
		}
	}
	return out, nil
}
