package ports

import "github.com/eleven-am/relay/internal/domain"

// ServiceDescriptor is the routing-relevant view of a registered service.
type ServiceDescriptor struct {
	Path              string
	Capabilities      domain.CapabilitySet
	ChildCapabilities domain.CapabilitySet
	NodeSelectorPath  string
}

// ServiceHost is the runtime the coordination core runs inside. It resolves
// local services, computes ownership through a node selector, manages
// subscriptions and re-enqueues operations for retry. Implementations are
// concurrency-safe.
type ServiceHost interface {
	RequestSender

	// FindService resolves a locally attached service instance by path.
	FindService(path string) (*ServiceDescriptor, bool)

	// RegistrySnapshot returns an immutable capability view of the registry
	// for routing resolution.
	RegistrySnapshot() domain.RegistrySnapshot

	// SelectOwner resolves the owner for key through the node selector at
	// selectorPath. op completes with a SelectOwnerResponse body.
	SelectOwner(selectorPath, key string, op *domain.Operation)

	// ServiceAvailable reports whether the service at path is attached and
	// still processing requests.
	ServiceAvailable(path string) bool

	Subscriptions() SubscriptionManager

	Retry() RetryTracker

	// Stats returns the named-counter recorder for a service path.
	Stats(servicePath string) StatRecorder
}
