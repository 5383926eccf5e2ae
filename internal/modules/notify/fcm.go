// README: FCM push notifications to driver devices about tour changes they did not make.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"tourdispatch/internal/modules/fleet"
	"tourdispatch/internal/modules/tour"
)

// Sender is the subset of *messaging.Client the notifier needs.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMNotifier struct {
	sender Sender
	log    *zap.Logger
}

func NewFCMNotifier(sender Sender, log *zap.Logger) *FCMNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCMNotifier{sender: sender, log: log}
}

// TourCanceled tells the driver their tour was canceled. Drivers without a
// registered device are skipped.
func (n *FCMNotifier) TourCanceled(ctx context.Context, d *fleet.Driver, t *tour.Tour, reason string) error {
	if d == nil || d.DeviceToken == "" {
		n.log.Debug("no device token, skipping push", zap.String("tour_id", string(t.ID)))
		return nil
	}

	body := "Your tour was canceled by dispatch."
	if reason != "" {
		body = fmt.Sprintf("Your tour was canceled: %s", reason)
	}
	msg := &messaging.Message{
		Token: d.DeviceToken,
		Data: map[string]string{
			"type":      "tour_canceled",
			"tour_id":   string(t.ID),
			"tour_date": t.Date.Format("2006-01-02"),
			"stops":     strconv.Itoa(len(t.Stops)),
			"reason":    reason,
		},
		Notification: &messaging.Notification{
			Title: "Tour canceled",
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for tour %s: %w", t.ID, err)
	}
	n.log.Info("FCM sent", zap.String("tour_id", string(t.ID)), zap.String("message_id", messageID))
	return nil
}
