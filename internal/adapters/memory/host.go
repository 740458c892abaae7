package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/relay/internal/core"
	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
	"github.com/eleven-am/relay/internal/xjson"
	"github.com/google/uuid"
)

// SelectOwnerFunc computes the owner for a key. The default treats the local
// node as owner of everything; clustered deployments inject their selector.
type SelectOwnerFunc func(selectorPath, key string) ports.SelectOwnerResponse

type serviceEntry struct {
	desc      ports.ServiceDescriptor
	handler   core.OperationHandler
	available bool
}

type subscription struct {
	id         string
	targetPath string
	notify     ports.NotificationHandler
	timer      *time.Timer
}

// Host is an in-memory ServiceHost: a path-keyed service registry with
// document storage, synchronous local dispatch, subscription fan-out and
// per-service statistics. It backs single-node embedding and the test
// surface; durable storage stays an external collaborator.
type Host struct {
	nodeID  string
	address string
	logger  *slog.Logger

	mu        sync.RWMutex
	services  map[string]*serviceEntry
	documents map[string]xjson.RawMessage
	subs      map[string]map[uint64]*subscription
	stats     map[string]*statRecorder

	chain       *core.Chain
	remote      ports.RequestSender
	retry       ports.RetryTracker
	selectOwner SelectOwnerFunc
}

func NewHost(nodeID, address string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		nodeID:    nodeID,
		address:   address,
		logger:    logger.With("component", "memory-host", "node_id", nodeID),
		services:  make(map[string]*serviceEntry),
		documents: make(map[string]xjson.RawMessage),
		subs:      make(map[string]map[uint64]*subscription),
		stats:     make(map[string]*statRecorder),
		retry:     noopRetryTracker{},
	}
	h.selectOwner = func(selectorPath, key string) ports.SelectOwnerResponse {
		return ports.SelectOwnerResponse{
			Key:              key,
			IsLocalHostOwner: true,
			OwnerNodeID:      nodeID,
			OwnerAddress:     address,
		}
	}
	return h
}

// SetChain installs the filter chain every locally delivered operation runs
// through.
func (h *Host) SetChain(chain *core.Chain) {
	h.chain = chain
}

// SetRemoteSender installs the transport used for operations targeting
// another node.
func (h *Host) SetRemoteSender(sender ports.RequestSender) {
	h.remote = sender
}

func (h *Host) SetRetryTracker(tracker ports.RetryTracker) {
	if tracker != nil {
		h.retry = tracker
	}
}

func (h *Host) SetSelectOwnerFunc(fn SelectOwnerFunc) {
	if fn != nil {
		h.selectOwner = fn
	}
}

func (h *Host) NodeID() string {
	return h.nodeID
}

func (h *Host) Address() string {
	return h.address
}

// RegisterService attaches a service at desc.Path. handler may be nil, in
// which case the host applies generic document handling.
func (h *Host) RegisterService(desc ports.ServiceDescriptor, handler core.OperationHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services[desc.Path] = &serviceEntry{
		desc:      desc,
		handler:   handler,
		available: true,
	}
}

// StopService marks the service at path as no longer available and drops its
// document.
func (h *Host) StopService(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.services[path]; ok {
		entry.available = false
	}
	delete(h.documents, path)
}

// SendRequest delivers op: remote operations go through the transport,
// local ones through the filter chain into local handling. Delivery is
// inline; completions run on the caller's goroutine unless a remote hop
// intervenes.
func (h *Host) SendRequest(op *domain.Operation) {
	if op.Address() != "" && op.Address() != h.address {
		if h.remote == nil {
			op.Fail(domain.Error{
				Type:    domain.ErrorTypeInternal,
				Message: "no transport configured for remote address " + op.Address(),
			})
			return
		}
		h.remote.SendRequest(op)
		return
	}

	if h.chain != nil {
		h.chain.ProcessRequest(op, h.HandleLocal)
		return
	}
	h.HandleLocal(op)
}

// HandleLocal dispatches an operation that passed routing to the service at
// its path.
func (h *Host) HandleLocal(op *domain.Operation) {
	h.mu.RLock()
	entry, ok := h.services[op.Path()]
	h.mu.RUnlock()

	if !ok || !entry.available {
		domain.FailServiceNotFound(op)
		return
	}

	if entry.handler != nil {
		entry.handler(op)
		return
	}

	h.handleDocument(op, entry)
}

// ChildCreateHandler returns the generic creation handler for a factory path,
// suitable as a TaskFactory's pass-through delegate.
func (h *Host) ChildCreateHandler(factoryPath string) core.OperationHandler {
	return func(op *domain.Operation) {
		isIdempotentPut := op.Action() == domain.ActionPut &&
			op.HasOption(domain.OptionPostToPut)
		switch {
		case op.Action() == domain.ActionPost || isIdempotentPut:
			h.createChild(factoryPath, op)
		case op.Action() == domain.ActionGet:
			h.listChildren(factoryPath, op)
		default:
			op.Fail(domain.Error{
				Type:    domain.ErrorTypeValidation,
				Message: "action not supported on factory: " + string(op.Action()),
			})
		}
	}
}

func (h *Host) createChild(factoryPath string, op *domain.Operation) {
	raw, err := op.EncodeBody()
	if err != nil || len(raw) == 0 {
		op.Fail(domain.ErrBodyRequired)
		return
	}

	var doc map[string]interface{}
	if err := xjson.Unmarshal(raw, &doc); err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeValidation, Message: "body is not a JSON object"})
		return
	}

	selfLink, _ := doc["documentSelfLink"].(string)
	if selfLink == "" {
		selfLink = domain.BuildPath(factoryPath, uuid.NewString())
		doc["documentSelfLink"] = selfLink
	}

	stored, err := xjson.Marshal(doc)
	if err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeInternal, Message: err.Error()})
		return
	}

	h.mu.Lock()
	var childCaps domain.CapabilitySet
	if factory, ok := h.services[factoryPath]; ok {
		childCaps = factory.desc.ChildCapabilities.Clone()
	}
	h.documents[selfLink] = stored
	h.services[selfLink] = &serviceEntry{
		desc: ports.ServiceDescriptor{
			Path:         selfLink,
			Capabilities: childCaps,
		},
		available: true,
	}
	h.mu.Unlock()

	op.SetBody(xjson.RawMessage(stored))
	op.SetStatusCode(domain.StatusOK)
	op.Complete()
}

func (h *Host) listChildren(factoryPath string, op *domain.Operation) {
	prefix := factoryPath + "/"
	var links []string
	h.mu.RLock()
	for path := range h.documents {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			links = append(links, path)
		}
	}
	h.mu.RUnlock()

	op.SetBody(map[string]interface{}{"documentLinks": links})
	op.Complete()
}

// handleDocument applies generic CRUD against the stored document backing a
// child service. State-changing actions fan out to subscribers.
func (h *Host) handleDocument(op *domain.Operation, entry *serviceEntry) {
	path := op.Path()

	switch op.Action() {
	case domain.ActionGet:
		h.mu.RLock()
		doc, ok := h.documents[path]
		h.mu.RUnlock()
		if !ok {
			domain.FailServiceNotFound(op)
			return
		}
		op.SetBody(doc)
		op.Complete()

	case domain.ActionPut:
		raw, err := op.EncodeBody()
		if err != nil || len(raw) == 0 {
			op.Fail(domain.ErrBodyRequired)
			return
		}
		h.mu.Lock()
		h.documents[path] = raw
		h.mu.Unlock()
		h.notifySubscribers(path, domain.ActionPut, raw)
		op.SetBody(xjson.RawMessage(raw))
		op.Complete()

	case domain.ActionPatch:
		raw, err := op.EncodeBody()
		if err != nil || len(raw) == 0 {
			op.Fail(domain.ErrBodyRequired)
			return
		}
		h.mu.Lock()
		current := h.documents[path]
		merged, err := domain.MergeDocuments(current, raw)
		if err != nil {
			h.mu.Unlock()
			op.Fail(err)
			return
		}
		h.documents[path] = merged
		h.mu.Unlock()
		h.notifySubscribers(path, domain.ActionPatch, merged)
		op.SetBody(xjson.RawMessage(merged))
		op.Complete()

	case domain.ActionDelete:
		h.mu.Lock()
		last := h.documents[path]
		delete(h.documents, path)
		entry.available = false
		h.mu.Unlock()
		h.notifySubscribers(path, domain.ActionDelete, last)
		h.dropSubscriptions(path)
		op.Complete()

	default:
		op.Fail(domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "action not supported: " + string(op.Action()),
		})
	}
}

func (h *Host) FindService(path string) (*ports.ServiceDescriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.services[path]
	if !ok || !entry.available {
		return nil, false
	}
	desc := entry.desc
	return &desc, true
}

func (h *Host) RegistrySnapshot() domain.RegistrySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot := make(domain.RegistrySnapshot, len(h.services))
	for path, entry := range h.services {
		if !entry.available {
			continue
		}
		snapshot[path] = domain.RegistryEntry{
			Capabilities:      entry.desc.Capabilities.Clone(),
			ChildCapabilities: entry.desc.ChildCapabilities.Clone(),
		}
	}
	return snapshot
}

func (h *Host) SelectOwner(selectorPath, key string, op *domain.Operation) {
	rsp := h.selectOwner(selectorPath, key)
	op.SetBody(&rsp)
	op.Complete()
}

func (h *Host) ServiceAvailable(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.services[path]
	return ok && entry.available
}

func (h *Host) Subscriptions() ports.SubscriptionManager {
	return (*subscriptionManager)(h)
}

func (h *Host) Retry() ports.RetryTracker {
	return h.retry
}

func (h *Host) Stats(servicePath string) ports.StatRecorder {
	h.mu.Lock()
	defer h.mu.Unlock()
	recorder, ok := h.stats[servicePath]
	if !ok {
		recorder = newStatRecorder()
		h.stats[servicePath] = recorder
	}
	return recorder
}

func (h *Host) notifySubscribers(path string, action domain.Action, body xjson.RawMessage) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs[path]))
	for _, sub := range h.subs[path] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		nOp := domain.NewOperation(action, path)
		if body != nil {
			nOp.SetBody(body)
		}
		sub.notify(nOp)
	}
}

// dropSubscriptions removes every binding against path. The deletion
// notification is the last one a subscriber sees, so pending expiration
// timers are stopped along the way.
func (h *Host) dropSubscriptions(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[path] {
		if sub.timer != nil {
			sub.timer.Stop()
		}
	}
	delete(h.subs, path)
}

type noopRetryTracker struct{}

func (noopRetryTracker) TrackForRetry(nowMicros int64, cause error, op *domain.Operation) {
	op.Fail(cause)
}
