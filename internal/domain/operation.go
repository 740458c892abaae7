package domain

import (
	"sync/atomic"
	"time"

	"github.com/eleven-am/relay/internal/xjson"
)

type Action string

const (
	ActionGet    Action = "GET"
	ActionPost   Action = "POST"
	ActionPut    Action = "PUT"
	ActionPatch  Action = "PATCH"
	ActionDelete Action = "DELETE"
)

// OperationOption flags alter pipeline behavior for a single operation.
type OperationOption uint16

const (
	OptionForwarded OperationOption = 1 << iota
	OptionFromReplication
	OptionForwardingDisabled
	OptionPostToPut
	OptionConnectionSharing
)

// ConnectionTagForwarding marks connections used for owner forwarding so they
// do not share pools with regular client traffic.
const ConnectionTagForwarding = "forwarding"

// CompletionHandler receives the terminal outcome of an operation. err is nil
// on success. A handler is invoked at most once.
type CompletionHandler func(op *Operation, err error)

var operationID atomic.Uint64

// Operation is the unit of work: a request descriptor with a completion
// continuation. It is owned and mutated by whichever component currently
// processes it; it is not safe for concurrent mutation.
//
// Completion handlers form an explicit chain. SetCompletion installs the base
// handler, NestCompletion pushes a handler on top of the chain. Complete and
// Fail pop exactly one handler per call, so a nested handler runs first and is
// expected to call Complete or Fail again to reach the handler below it.
type Operation struct {
	id              uint64
	action          Action
	path            string
	address         string
	body            interface{}
	statusCode      int
	expirationUsec  int64
	retryCount      int
	connectionTag   string
	options         OperationOption
	responseHeaders map[string]string
	completions     []CompletionHandler
}

func NewOperation(action Action, path string) *Operation {
	return &Operation{
		id:         operationID.Add(1),
		action:     action,
		path:       path,
		statusCode: StatusOK,
	}
}

func NewGet(path string) *Operation    { return NewOperation(ActionGet, path) }
func NewPost(path string) *Operation   { return NewOperation(ActionPost, path) }
func NewPut(path string) *Operation    { return NewOperation(ActionPut, path) }
func NewPatch(path string) *Operation  { return NewOperation(ActionPatch, path) }
func NewDelete(path string) *Operation { return NewOperation(ActionDelete, path) }

// NowMicros is the absolute microsecond clock every expiration is measured
// against.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}

func (o *Operation) ID() uint64 {
	return o.id
}

func (o *Operation) Action() Action {
	return o.action
}

func (o *Operation) SetAction(a Action) *Operation {
	o.action = a
	return o
}

func (o *Operation) Path() string {
	return o.path
}

func (o *Operation) SetPath(path string) *Operation {
	o.path = path
	return o
}

// Address is the routable address of the remote node this operation targets.
// Empty means local delivery.
func (o *Operation) Address() string {
	return o.address
}

func (o *Operation) SetAddress(addr string) *Operation {
	o.address = addr
	return o
}

// SetBody stores an opaque body value. The value is only serialized when the
// operation crosses a process boundary, and only decoded on DecodeBody.
func (o *Operation) SetBody(v interface{}) *Operation {
	o.body = v
	return o
}

func (o *Operation) Body() interface{} {
	return o.body
}

func (o *Operation) HasBody() bool {
	return o.body != nil
}

// DecodeBody materializes the opaque body into out.
func (o *Operation) DecodeBody(out interface{}) error {
	switch b := o.body.(type) {
	case nil:
		return ErrBodyRequired
	case []byte:
		return xjson.Unmarshal(b, out)
	case xjson.RawMessage:
		return xjson.Unmarshal(b, out)
	default:
		return xjson.Roundtrip(b, out)
	}
}

// EncodeBody serializes the body for the wire.
func (o *Operation) EncodeBody() ([]byte, error) {
	switch b := o.body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case xjson.RawMessage:
		return b, nil
	default:
		return xjson.Marshal(b)
	}
}

func (o *Operation) StatusCode() int {
	return o.statusCode
}

func (o *Operation) SetStatusCode(code int) *Operation {
	o.statusCode = code
	return o
}

func (o *Operation) Expiration() int64 {
	return o.expirationUsec
}

// SetExpiration sets the absolute expiration in microseconds.
func (o *Operation) SetExpiration(usec int64) *Operation {
	o.expirationUsec = usec
	return o
}

// SetExpirationIn sets the expiration d from now.
func (o *Operation) SetExpirationIn(d time.Duration) *Operation {
	o.expirationUsec = NowMicros() + d.Microseconds()
	return o
}

func (o *Operation) IsExpired(nowUsec int64) bool {
	return o.expirationUsec != 0 && o.expirationUsec < nowUsec
}

func (o *Operation) RetryCount() int {
	return o.retryCount
}

func (o *Operation) SetRetryCount(n int) *Operation {
	o.retryCount = n
	return o
}

func (o *Operation) ConnectionTag() string {
	return o.connectionTag
}

func (o *Operation) SetConnectionTag(tag string) *Operation {
	o.connectionTag = tag
	return o
}

func (o *Operation) ToggleOption(opt OperationOption, enable bool) *Operation {
	if enable {
		o.options |= opt
	} else {
		o.options &^= opt
	}
	return o
}

func (o *Operation) HasOption(opt OperationOption) bool {
	return o.options&opt != 0
}

func (o *Operation) SetResponseHeader(name, value string) *Operation {
	if o.responseHeaders == nil {
		o.responseHeaders = make(map[string]string)
	}
	o.responseHeaders[name] = value
	return o
}

func (o *Operation) ResponseHeader(name string) string {
	return o.responseHeaders[name]
}

func (o *Operation) ResponseHeaders() map[string]string {
	return o.responseHeaders
}

func (o *Operation) TransferResponseHeadersFrom(other *Operation) *Operation {
	for name, value := range other.responseHeaders {
		o.SetResponseHeader(name, value)
	}
	return o
}

// SetCompletion resets the handler chain to the single handler h.
func (o *Operation) SetCompletion(h CompletionHandler) *Operation {
	o.completions = o.completions[:0]
	if h != nil {
		o.completions = append(o.completions, h)
	}
	return o
}

// NestCompletion pushes h on top of the handler chain. h runs before any
// handler installed earlier; the earlier handlers only run when h (or code it
// triggers) calls Complete or Fail again.
func (o *Operation) NestCompletion(h CompletionHandler) *Operation {
	o.completions = append(o.completions, h)
	return o
}

// Complete delivers a successful outcome to the topmost pending handler.
func (o *Operation) Complete() {
	o.finish(nil)
}

// Fail delivers err to the topmost pending handler. If no failure status has
// been set yet, one is derived from the error class.
func (o *Operation) Fail(err error) {
	if o.statusCode < StatusFailureThreshold {
		o.statusCode = statusForError(err)
	}
	o.finish(err)
}

func (o *Operation) finish(err error) {
	n := len(o.completions)
	if n == 0 {
		return
	}
	h := o.completions[n-1]
	o.completions = o.completions[:n-1]
	h(o, err)
}

// Clone copies the request descriptor for a derived wire operation. The clone
// shares the opaque body, carries the same id (it represents the same logical
// request) and starts with an empty completion chain.
func (o *Operation) Clone() *Operation {
	clone := &Operation{
		id:             o.id,
		action:         o.action,
		path:           o.path,
		address:        o.address,
		body:           o.body,
		statusCode:     o.statusCode,
		expirationUsec: o.expirationUsec,
		retryCount:     o.retryCount,
		connectionTag:  o.connectionTag,
		options:        o.options,
	}
	if o.responseHeaders != nil {
		clone.responseHeaders = make(map[string]string, len(o.responseHeaders))
		for name, value := range o.responseHeaders {
			clone.responseHeaders[name] = value
		}
	}
	return clone
}

// FailServiceNotFound fails op with a not-found outcome for its own path.
func FailServiceNotFound(op *Operation) {
	op.SetStatusCode(StatusNotFound)
	op.SetBody(&ErrorResponse{
		Message:    "service not found: " + op.Path(),
		StatusCode: StatusNotFound,
	})
	op.Fail(&ServiceNotFoundError{Path: op.Path()})
}

// FailForwardedRequest fails op preserving the upstream status code and body
// where available, falling back to the generic failure-threshold status when
// no upstream response exists.
func FailForwardedRequest(op *Operation, upstream *Operation, err error) {
	if upstream != nil {
		op.SetStatusCode(upstream.StatusCode())
		if upstream.HasBody() {
			op.SetBody(upstream.Body())
		}
	} else {
		op.SetStatusCode(StatusFailureThreshold)
	}
	op.Fail(err)
}
