package core

import (
	"log/slog"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// ForwardFilter redirects a request arriving at the wrong replica to the
// owning replica. Requests that are already forwarded, originate from
// replication, or have forwarding disabled pass through untouched.
type ForwardFilter struct {
	logger *slog.Logger
}

func NewForwardFilter(logger *slog.Logger) *ForwardFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForwardFilter{
		logger: logger.With("component", "forward-filter"),
	}
}

func (f *ForwardFilter) ProcessRequest(op *domain.Operation, ctx *ProcessingContext) FilterResult {
	if op.HasOption(domain.OptionFromReplication) ||
		op.HasOption(domain.OptionForwarded) ||
		op.HasOption(domain.OptionForwardingDisabled) {
		// no need to forward
		return FilterContinue
	}

	servicePath := op.Path()
	if servicePath == "" {
		domain.FailServiceNotFound(op)
		return FilterFailedStop
	}

	host := ctx.Host()
	service, known := host.FindService(servicePath)
	if known {
		ctx.SetService(service)
	}

	res := domain.ResolveRouting(servicePath, host.RegistrySnapshot())
	caps := res.Capabilities

	if caps == nil {
		// options could not be found directly nor indirectly - do not forward
		return FilterContinue
	}

	if res.ServiceKnown && (!caps.Has(domain.CapabilityOwnerSelection) ||
		caps.Has(domain.CapabilityFactory)) {
		return FilterContinue
	}

	if !res.ServiceKnown && (!caps.Has(domain.CapabilityFactory) ||
		!(caps.Has(domain.CapabilityReplication) ||
			caps.Has(domain.CapabilityOwnerSelection))) {
		return FilterContinue
	}

	selectorPath := f.resolveSelectorPath(host, service, res.EffectivePath)

	ctx.SetSuspendConsumer(func(op *domain.Operation) {
		f.selectAndForwardToOwner(op, res.EffectivePath, selectorPath, ctx)
	})
	return FilterSuspend
}

// resolveSelectorPath finds the node-selector for the effective path, falling
// back from the service itself to its parent.
func (f *ForwardFilter) resolveSelectorPath(host ports.ServiceHost, service *ports.ServiceDescriptor, effectivePath string) string {
	if service != nil && service.NodeSelectorPath != "" {
		return service.NodeSelectorPath
	}
	if desc, ok := host.FindService(effectivePath); ok && desc.NodeSelectorPath != "" {
		return desc.NodeSelectorPath
	}
	if desc, ok := host.FindService(domain.ParentPath(effectivePath)); ok {
		return desc.NodeSelectorPath
	}
	return ""
}

func (f *ForwardFilter) selectAndForwardToOwner(op *domain.Operation, path, selectorPath string, ctx *ProcessingContext) {
	host := ctx.Host()

	selectOp := domain.NewPost(selectorPath).
		SetExpiration(op.Expiration()).
		SetCompletion(func(o *domain.Operation, err error) {
			if err != nil {
				f.logger.Error("owner selection failed",
					"path", op.Path(), "op", op.ID(), "error", err)
				ctx.Resume(op, FilterFailedStop, err)
				op.SetRetryCount(0)
				op.Fail(err)
				return
			}

			var rsp ports.SelectOwnerResponse
			if decodeErr := o.DecodeBody(&rsp); decodeErr != nil {
				ctx.Resume(op, FilterFailedStop, decodeErr)
				op.Fail(decodeErr)
				return
			}

			if rsp.IsLocalHostOwner {
				ctx.Resume(op, FilterContinue, nil)
				return
			}
			f.forwardToOwner(op, &rsp, ctx)
		})

	host.SelectOwner(selectorPath, path, selectOp)
}

func (f *ForwardFilter) forwardToOwner(op *domain.Operation, rsp *ports.SelectOwnerResponse, ctx *ProcessingContext) {
	forwardOp := op.Clone().SetCompletion(func(fo *domain.Operation, fe error) {
		if fe != nil {
			f.retryOrFailRequest(op, fo, fe, ctx)
			return
		}

		op.SetStatusCode(fo.StatusCode())
		op.SetBody(fo.Body())
		op.TransferResponseHeadersFrom(fo)

		ctx.Resume(op, FilterSuccessStop, nil)
		op.Complete()
	})

	// A peer might have become unresponsive; keep the hop short and retry
	// against whatever peer gets selected next, until the client operation
	// expires.
	now := domain.NowMicros()
	remaining := op.Expiration() - now
	if remaining < 0 {
		remaining = 0
	}
	forwardOp.SetExpiration(now + remaining/10)
	forwardOp.SetAddress(rsp.OwnerAddress)

	PrepareForwardRequest(forwardOp)
	ctx.Host().SendRequest(forwardOp)
}

// PrepareForwardRequest marks an operation as a forwarding hop: the receiving
// node must not forward it again nor retry it.
func PrepareForwardRequest(fwdOp *domain.Operation) {
	fwdOp.ToggleOption(domain.OptionForwarded, true)
	fwdOp.ToggleOption(domain.OptionForwardingDisabled, true)
	fwdOp.SetConnectionTag(domain.ConnectionTagForwarding)
}

func (f *ForwardFilter) retryOrFailRequest(op *domain.Operation, fo *domain.Operation, fe error, ctx *ProcessingContext) {
	shouldRetry := false

	if fo != nil && fo.HasBody() {
		var rsp domain.ErrorResponse
		if err := fo.DecodeBody(&rsp); err == nil {
			shouldRetry = rsp.ShouldRetry()
		}
	}

	if fo != nil && fo.StatusCode() == domain.StatusTimeout {
		// the I/O path may have timed out; keep retrying until the operation
		// expiration is reached
		shouldRetry = true
	}

	if op.HasOption(domain.OptionForwarded) {
		// only the node the client directly contacted retries; a node that
		// received a forwarded operation must not, or retries would amplify
		// across hops
		shouldRetry = false
	}

	if op.IsExpired(domain.NowMicros()) {
		ctx.Resume(op, FilterFailedStop, fe)
		if fo != nil && fo.HasBody() {
			op.SetBody(fo.Body())
		}
		op.Fail(domain.NewCancellationError(op.Expiration()))
		return
	}

	if !shouldRetry {
		ctx.Resume(op, FilterFailedStop, fe)
		domain.FailForwardedRequest(op, fo, fe)
		return
	}

	// Reported as a failure for diagnostics; the retry tracker starts a fresh
	// pass through the whole pipeline.
	ctx.Resume(op, FilterFailedStop, fe)
	ctx.Host().Retry().TrackForRetry(domain.NowMicros(), fe, op)
}
