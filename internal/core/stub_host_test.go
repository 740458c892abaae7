package core

import (
	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// stubHost is a scriptable ServiceHost for exercising the filter chain and
// the task factory without a real runtime.
type stubHost struct {
	services  map[string]*ports.ServiceDescriptor
	available map[string]bool

	selectRsp ports.SelectOwnerResponse
	selectErr error

	sendFn func(op *domain.Operation)
	sent   []*domain.Operation

	retried []*domain.Operation

	subs  *stubSubscriptions
	stats map[string]*stubStats
}

func newStubHost() *stubHost {
	return &stubHost{
		services:  make(map[string]*ports.ServiceDescriptor),
		available: make(map[string]bool),
		subs:      &stubSubscriptions{},
		stats:     make(map[string]*stubStats),
		selectRsp: ports.SelectOwnerResponse{IsLocalHostOwner: true},
	}
}

func (h *stubHost) addService(desc ports.ServiceDescriptor) {
	d := desc
	h.services[desc.Path] = &d
	h.available[desc.Path] = true
}

func (h *stubHost) SendRequest(op *domain.Operation) {
	h.sent = append(h.sent, op)
	if h.sendFn != nil {
		h.sendFn(op)
	}
}

func (h *stubHost) FindService(path string) (*ports.ServiceDescriptor, bool) {
	desc, ok := h.services[path]
	return desc, ok
}

func (h *stubHost) RegistrySnapshot() domain.RegistrySnapshot {
	snapshot := make(domain.RegistrySnapshot, len(h.services))
	for path, desc := range h.services {
		snapshot[path] = domain.RegistryEntry{
			Capabilities:      desc.Capabilities,
			ChildCapabilities: desc.ChildCapabilities,
		}
	}
	return snapshot
}

func (h *stubHost) SelectOwner(selectorPath, key string, op *domain.Operation) {
	if h.selectErr != nil {
		op.Fail(h.selectErr)
		return
	}
	rsp := h.selectRsp
	rsp.Key = key
	op.SetBody(&rsp)
	op.Complete()
}

func (h *stubHost) ServiceAvailable(path string) bool {
	return h.available[path]
}

func (h *stubHost) Subscriptions() ports.SubscriptionManager {
	return h.subs
}

func (h *stubHost) Retry() ports.RetryTracker {
	return stubRetry{host: h}
}

func (h *stubHost) Stats(servicePath string) ports.StatRecorder {
	s, ok := h.stats[servicePath]
	if !ok {
		s = &stubStats{values: make(map[string]float64)}
		h.stats[servicePath] = s
	}
	return s
}

type stubRetry struct {
	host *stubHost
}

func (r stubRetry) TrackForRetry(nowMicros int64, cause error, op *domain.Operation) {
	r.host.retried = append(r.host.retried, op)
}

type stubSubscriptions struct {
	notify             ports.NotificationHandler
	request            ports.SubscriptionRequest
	subscribeErr       error
	unsubscribeMissing bool
	unsubscribed       []*domain.Operation
}

func (s *stubSubscriptions) Subscribe(op *domain.Operation, req ports.SubscriptionRequest, notify ports.NotificationHandler) {
	if s.subscribeErr != nil {
		op.Fail(s.subscribeErr)
		return
	}
	s.request = req
	s.notify = notify
	op.Complete()
}

func (s *stubSubscriptions) Unsubscribe(op *domain.Operation) {
	s.unsubscribed = append(s.unsubscribed, op)
	if s.unsubscribeMissing {
		domain.FailServiceNotFound(op)
		return
	}
	op.Complete()
}

type stubStats struct {
	values map[string]float64
}

func (s *stubStats) Adjust(name string, delta float64) { s.values[name] += delta }
func (s *stubStats) Set(name string, value float64)    { s.values[name] = value }
func (s *stubStats) Value(name string) float64         { return s.values[name] }
