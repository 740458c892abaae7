package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/xjson"
)

// Pragma headers carrying operation options across node boundaries.
const (
	HeaderForwarded          = "X-Relay-Forwarded"
	HeaderFromReplication    = "X-Relay-From-Replication"
	HeaderForwardingDisabled = "X-Relay-Forwarding-Disabled"
	HeaderPostToPut          = "X-Relay-Post-To-Put"
	HeaderConnectionTag      = "X-Relay-Connection-Tag"
	HeaderExpirationMicros   = "X-Relay-Expiration-Micros"
)

var optionHeaders = map[string]domain.OperationOption{
	HeaderForwarded:          domain.OptionForwarded,
	HeaderFromReplication:    domain.OptionFromReplication,
	HeaderForwardingDisabled: domain.OptionForwardingDisabled,
	HeaderPostToPut:          domain.OptionPostToPut,
}

// Client sends operations to remote nodes over HTTP. The operation model
// (verb + path + opaque body + status passthrough) maps directly onto HTTP.
type Client struct {
	client *http.Client
	scheme string
	logger *slog.Logger
}

func NewClient(cfg domain.TransportConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &Client{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns: cfg.MaxIdleConns,
			},
		},
		scheme: scheme,
		logger: logger.With("component", "http-transport"),
	}
}

// SendRequest dispatches op to op.Address without blocking the caller.
func (c *Client) SendRequest(op *domain.Operation) {
	go c.roundTrip(op)
}

func (c *Client) roundTrip(op *domain.Operation) {
	body, err := op.EncodeBody()
	if err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeValidation, Message: "body encode: " + err.Error()})
		return
	}

	ctx := context.Background()
	if op.Expiration() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMicro(op.Expiration()))
		defer cancel()
	}

	url := c.scheme + "://" + op.Address() + op.Path()
	req, err := http.NewRequestWithContext(ctx, string(op.Action()), url, bytes.NewReader(body))
	if err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeValidation, Message: "build request: " + err.Error()})
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for header, option := range optionHeaders {
		if op.HasOption(option) {
			req.Header.Set(header, "true")
		}
	}
	if op.ConnectionTag() != "" {
		req.Header.Set(HeaderConnectionTag, op.ConnectionTag())
	}
	if op.Expiration() > 0 {
		req.Header.Set(HeaderExpirationMicros, strconv.FormatInt(op.Expiration(), 10))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			op.SetStatusCode(domain.StatusTimeout)
			op.Fail(domain.Error{Type: domain.ErrorTypeTimeout, Message: "request timed out: " + err.Error()})
			return
		}
		op.SetStatusCode(domain.StatusFailureThreshold)
		op.Fail(err)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeInternal, Message: "read response: " + err.Error()})
		return
	}

	op.SetStatusCode(resp.StatusCode)
	if len(data) > 0 {
		op.SetBody(xjson.RawMessage(data))
	}
	for name := range resp.Header {
		op.SetResponseHeader(name, resp.Header.Get(name))
	}

	if resp.StatusCode >= domain.StatusFailureThreshold {
		op.Fail(remoteError(resp.StatusCode, data))
		return
	}
	op.Complete()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func remoteError(statusCode int, data []byte) error {
	var rsp domain.ErrorResponse
	if len(data) > 0 && xjson.Unmarshal(data, &rsp) == nil && rsp.Message != "" {
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: rsp.Message,
			Details: map[string]interface{}{"statusCode": statusCode},
		}
	}
	return domain.Error{
		Type:    domain.ErrorTypeInternal,
		Message: http.StatusText(statusCode),
		Details: map[string]interface{}{"statusCode": statusCode},
	}
}
