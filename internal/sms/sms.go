// Package sms defines the outbound one-time-code delivery contract. The
// spec treats the SMS provider as an external collaborator: only its
// send(phone, code) contract is in scope, not any particular vendor
// integration.
package sms

import (
	"context"
	"log/slog"
)

// Provider dispatches a one-time code to phone. Implementations must not
// block longer than the caller's context deadline.
type Provider interface {
	Send(ctx context.Context, phone, code string) error
}

// SandboxProvider logs the code instead of dispatching it, for local
// development and CI; spec.md §4.3 step 7 permits returning the code in the
// response body only in sandbox mode, which the OTP service gates
// separately from this provider.
type SandboxProvider struct {
	logger *slog.Logger
}

func NewSandboxProvider(logger *slog.Logger) *SandboxProvider {
	return &SandboxProvider{logger: logger}
}

func (p *SandboxProvider) Send(ctx context.Context, phone, code string) error {
	p.logger.InfoContext(ctx, "sandbox sms dispatch", "phone", phone, "code", code)
	return nil
}
