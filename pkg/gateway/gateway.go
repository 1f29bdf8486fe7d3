package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient and ErrPermanent are the sentinel errors gateways use when
// classifying send failures. Transient failures (timeouts, rate limits,
// 5xx-class responses) are retried; permanent failures (invalid recipient,
// rejected payload) dead-letter immediately.
var (
	ErrTransient = errors.New("transient gateway error")
	ErrPermanent = errors.New("permanent gateway error")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Receipt is the provider's acknowledgment of an accepted send.
type Receipt struct {
	ProviderReference string `json:"provider_reference"`
}

// Gateway is the external send boundary. Implementations must bound each
// call with a timeout and classify every failure as transient or permanent.
type Gateway interface {
	Send(ctx context.Context, recipient, body string) (*Receipt, error)
}
