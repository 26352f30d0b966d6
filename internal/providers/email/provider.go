package email

import (
	"context"
	"errors"
)

// ErrTransportUnavailable is returned by providers that cannot deliver mail
// because no transport is configured.
var ErrTransportUnavailable = errors.New("transport_unavailable")

type Message struct {
	To      []string
	Subject string
	HTML    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
	// Configured reports whether Send can reach a mail transport.
	Configured() bool
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return ErrTransportUnavailable
}

func (p *NoOpProvider) Configured() bool { return false }
