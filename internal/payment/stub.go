package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
)

// Authorizer approves an amount and returns an opaque reference.
type Authorizer interface {
	Authorize(ctx context.Context, amountCents int64) (string, error)
}

// Stub approves everything without talking to a processor.
type Stub struct{}

func (Stub) Authorize(ctx context.Context, amountCents int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amountCents < 0 {
		return "", apperr.Validation(apperr.CodeInvalidInput, "payment amount must not be negative")
	}
	return "pay_" + uuid.NewString(), nil
}
