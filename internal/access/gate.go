package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scriptgate/scriptgate/internal/db/models"
	"github.com/scriptgate/scriptgate/internal/telemetry"
)

// Transformer renders the protected script for a granted caller. status is the
// line describing the caller's remaining credits.
type Transformer interface {
	Transform(ctx context.Context, status string) ([]byte, error)
}

// AttemptRecorder receives exactly one Attempt per delivery.
type AttemptRecorder interface {
	Record(attempt Attempt)
}

// Request is one delivery attempt as seen by the gate.
type Request struct {
	Username   string
	Secret     string
	IPAddress  string
	OriginPage string
	UserAgent  string
	RequestID  string
}

// Result is what the caller gets back. Body is set only when Granted.
type Result struct {
	Granted bool
	Reason  string
	Status  string
	Body    []byte
	// Unavailable marks denials caused by a store failure rather than by the
	// caller's credentials.
	Unavailable bool
}

// Gate authorizes, consumes, records and transforms, in that order.
type Gate struct {
	authorizer  *Authorizer
	ledger      *Ledger
	recorder    AttemptRecorder
	transformer Transformer
}

// NewGate wires the delivery pipeline.
func NewGate(authorizer *Authorizer, ledger *Ledger, recorder AttemptRecorder, transformer Transformer) *Gate {
	return &Gate{
		authorizer:  authorizer,
		ledger:      ledger,
		recorder:    recorder,
		transformer: transformer,
	}
}

// Deliver runs one attempt. A non-nil error means the credit (if any) was
// spent but the content could not be produced.
func (g *Gate) Deliver(ctx context.Context, req Request) (*Result, error) {
	decision, err := g.authorizer.Authorize(ctx, req.Username, req.Secret)
	if err != nil {
		slog.Error("authorization lookup failed", "username", req.Username, "request_id", req.RequestID, "error", err)
		return g.deny(req, nil, ReasonUnavailable, true), nil
	}
	if !decision.Granted {
		return g.deny(req, decision.Account, decision.Reason, false), nil
	}

	account := decision.Account
	status := StatusMessage(true, 0)
	if !account.IsAdmin {
		remaining, err := g.ledger.Consume(ctx, account)
		switch {
		case errors.Is(err, ErrRaceLost):
			return g.deny(req, account, ReasonNoCredits, false), nil
		case err != nil:
			slog.Error("credit consumption failed", "username", req.Username, "request_id", req.RequestID, "error", err)
			return g.deny(req, account, ReasonUnavailable, true), nil
		}
		status = StatusMessage(false, remaining)
	}

	g.record(req, account, true, status)
	telemetry.ScriptDeliveriesTotal.WithLabelValues("granted", "").Inc()

	body, err := g.transformer.Transform(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to transform content: %w", err)
	}

	return &Result{Granted: true, Status: status, Body: body}, nil
}

func (g *Gate) deny(req Request, account *models.Account, reason string, unavailable bool) *Result {
	g.record(req, account, false, reason)
	telemetry.ScriptDeliveriesTotal.WithLabelValues("denied", reason).Inc()
	return &Result{Reason: reason, Unavailable: unavailable}
}

func (g *Gate) record(req Request, account *models.Account, granted bool, message string) {
	attempt := Attempt{
		Username:   req.Username,
		IPAddress:  req.IPAddress,
		OriginPage: req.OriginPage,
		UserAgent:  req.UserAgent,
		RequestID:  req.RequestID,
		Granted:    granted,
		Message:    message,
	}
	if account != nil {
		id := account.ID
		attempt.AccountID = &id
	}
	g.recorder.Record(attempt)
}
