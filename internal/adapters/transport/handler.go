package transport

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
	"github.com/eleven-am/relay/internal/xjson"
)

// Handler converts inbound HTTP requests into operations and feeds them to
// the host pipeline. The serving goroutine parks until the operation reaches
// a terminal outcome; the pipeline itself stays continuation-driven.
type Handler struct {
	host   ports.ServiceHost
	logger *slog.Logger
}

func NewHandler(host ports.ServiceHost, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		host:   host,
		logger: logger.With("component", "http-handler"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	op := domain.NewOperation(domain.Action(r.Method), r.URL.Path)
	if len(body) > 0 {
		op.SetBody(xjson.RawMessage(body))
	}

	for header, option := range optionHeaders {
		if r.Header.Get(header) == "true" {
			op.ToggleOption(option, true)
		}
	}
	if tag := r.Header.Get(HeaderConnectionTag); tag != "" {
		op.SetConnectionTag(tag)
	}
	if exp := r.Header.Get(HeaderExpirationMicros); exp != "" {
		if usec, err := strconv.ParseInt(exp, 10, 64); err == nil {
			op.SetExpiration(usec)
		}
	}

	done := make(chan struct{})
	op.SetCompletion(func(o *domain.Operation, opErr error) {
		defer close(done)

		data, encErr := o.EncodeBody()
		if encErr != nil {
			h.logger.Error("response body encode failed", "op", o.ID(), "error", encErr)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		for name, value := range o.ResponseHeaders() {
			w.Header().Set(name, value)
		}
		if len(data) > 0 {
			w.Header().Set("Content-Type", "application/json")
		}
		status := o.StatusCode()
		if status == 0 {
			if opErr != nil {
				status = domain.StatusInternalError
			} else {
				status = domain.StatusOK
			}
		}
		w.WriteHeader(status)
		if len(data) > 0 {
			if _, writeErr := w.Write(data); writeErr != nil {
				h.logger.Warn("response write failed", "op", o.ID(), "error", writeErr)
			}
		}
	})

	h.host.SendRequest(op)
	<-done
}
