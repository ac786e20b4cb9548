package plugin

import (
	"context"
	"errors"
)

// Property keys the sandbox gateway reacts to, for demos and tests.
const (
	SandboxDeclineProperty = "sandbox_decline"
	SandboxPendingProperty = "sandbox_pending"
	SandboxErrorProperty   = "sandbox_error"
)

var errSandboxFailure = errors.New("sandbox gateway failure")

// SandboxGateway is an in-process gateway that settles every call
// deterministically. It processes the requested amount unless instructed
// otherwise through plugin properties.
type SandboxGateway struct{}

func NewSandboxGateway() *SandboxGateway { return &SandboxGateway{} }

func (g *SandboxGateway) call(_ context.Context, req CallRequest) (*GatewayResult, error) {
	for _, p := range req.Properties {
		switch p.Key {
		case SandboxDeclineProperty:
			return &GatewayResult{
				Status:           StatusError,
				Amount:           req.Amount,
				Currency:         req.Currency,
				GatewayErrorCode: "51",
				GatewayError:     "insufficient funds",
			}, nil
		case SandboxPendingProperty:
			return &GatewayResult{Status: StatusPending, Amount: req.Amount, Currency: req.Currency}, nil
		case SandboxErrorProperty:
			return nil, errSandboxFailure
		}
	}
	return &GatewayResult{Status: StatusProcessed, Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *SandboxGateway) AuthorizePayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

func (g *SandboxGateway) CapturePayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

func (g *SandboxGateway) PurchasePayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

func (g *SandboxGateway) VoidPayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

func (g *SandboxGateway) CreditPayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

func (g *SandboxGateway) RefundPayment(ctx context.Context, req CallRequest) (*GatewayResult, error) {
	return g.call(ctx, req)
}

var _ GatewayPlugin = (*SandboxGateway)(nil)
