// services/notify.go - Notification collaborator
package services

import (
	"context"

	"quizdash/logger"
)

// NotificationKind enumerates the notifications this subsystem produces.
type NotificationKind string

const (
	NotificationChallengeRequest  NotificationKind = "challenge_request"
	NotificationChallengeAccepted NotificationKind = "challenge_accepted"
)

// Notifier delivers a notification toward a user. Fire-and-forget: a failed
// delivery must never block or roll back the state transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, targetUserID string, payload map[string]interface{}) error
}

// LogNotifier records deliveries in the log. Stands in for the external
// email/push collaborator, which is out of scope here.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, kind NotificationKind, targetUserID string, payload map[string]interface{}) error {
	logger.Info("notification", "kind", string(kind), "target", targetUserID, "payload", payload)
	return nil
}

// BrokerNotifier pushes the notification onto the target user's topic so a
// connected client sees it live (direct-challenge delivery).
type BrokerNotifier struct {
	broker *Broker
}

func NewBrokerNotifier(broker *Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

func (n *BrokerNotifier) Notify(_ context.Context, kind NotificationKind, targetUserID string, payload map[string]interface{}) error {
	n.broker.Publish(UserTopic(targetUserID), string(kind), payload)
	return nil
}

// MultiNotifier fans out to several notifiers; the first error is returned
// after all deliveries were attempted.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, kind NotificationKind, targetUserID string, payload map[string]interface{}) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, kind, targetUserID, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
