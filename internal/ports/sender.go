package ports

import "github.com/eleven-am/relay/internal/domain"

// RequestSender sends an operation and delivers its outcome later through the
// operation's completion chain. SendRequest never blocks on I/O.
type RequestSender interface {
	SendRequest(op *domain.Operation)
}

// RequestSenderFunc adapts a function to the RequestSender interface.
type RequestSenderFunc func(op *domain.Operation)

func (f RequestSenderFunc) SendRequest(op *domain.Operation) {
	f(op)
}
