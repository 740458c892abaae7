package ports

import "github.com/eleven-am/relay/internal/domain"

// SubscriptionRequest configures a subscription against a target path.
type SubscriptionRequest struct {
	TargetPath string

	// ReplayState delivers the target's last known state to a late
	// subscriber as an initial notification.
	ReplayState bool

	// ExpirationMicros bounds the subscription's lifetime; zero means it
	// lives until explicitly stopped.
	ExpirationMicros int64
}

// NotificationHandler receives each state-changing operation observed on the
// subscribed path. The handler must complete the notification operation.
type NotificationHandler func(op *domain.Operation)

// SubscriptionManager opens and closes subscriptions against local service
// paths.
type SubscriptionManager interface {
	// Subscribe registers notify against req.TargetPath. op carries the
	// subscriber identity and completes once the subscription is active, or
	// fails if the target does not exist.
	Subscribe(op *domain.Operation, req SubscriptionRequest, notify NotificationHandler)

	// Unsubscribe removes the subscription identified by op (a clone of the
	// original subscribe operation, with ActionDelete). op completes on
	// confirmed removal.
	Unsubscribe(op *domain.Operation)
}
