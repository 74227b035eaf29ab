// Package policy lets a signer vet envelopes before producing a partial signature.
package policy

import (
	"context"
	"errors"
	"fmt"

	"Cosign/internal/envelope"
)

// ErrDenied is returned when a policy refuses to sign.
var ErrDenied = errors.New("denied by signing policy")

// Policy decides whether a signer may sign an envelope.
type Policy interface {
	Approve(ctx context.Context, env *envelope.Envelope) error
}

// Func adapts a function to Policy.
type Func func(ctx context.Context, env *envelope.Envelope) error

// Approve implements Policy.
func (f Func) Approve(ctx context.Context, env *envelope.Envelope) error {
	return f(ctx, env)
}

// AllowAll approves every envelope.
var AllowAll Policy = Func(func(context.Context, *envelope.Envelope) error { return nil })

// Kinds approves only the listed envelope kinds.
func Kinds(kinds ...envelope.Kind) Policy {
	return Func(func(_ context.Context, env *envelope.Envelope) error {
		for _, k := range kinds {
			if env.Kind() == k {
				return nil
			}
		}

		return fmt.Errorf("%w: kind %s not allowed", ErrDenied, env.Kind())
	})
}

// All approves when every policy approves, checked in order.
func All(policies ...Policy) Policy {
	return Func(func(ctx context.Context, env *envelope.Envelope) error {
		for _, p := range policies {
			if err := p.Approve(ctx, env); err != nil {
				return err
			}
		}

		return nil
	})
}
