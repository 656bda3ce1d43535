package gateway

import (
	"context"
	"errors"
	"time"
)

// Observer records rail call latency and outcome.
type Observer interface {
	ObserveRailCall(rail, op, outcome string, elapsed time.Duration)
}

type observed struct {
	Adapter
	obs Observer
	now func() time.Time
}

// WithObserver decorates adapter so each call is reported to obs.
func WithObserver(adapter Adapter, obs Observer) Adapter {
	if obs == nil {
		return adapter
	}
	return &observed{Adapter: adapter, obs: obs, now: time.Now}
}

func (o *observed) TransferFunds(ctx context.Context, req TransferRequest) (Result, error) {
	start := o.now()
	res, err := o.Adapter.TransferFunds(ctx, req)
	o.obs.ObserveRailCall(string(o.Rail()), "transfer", outcomeLabel(res, err), o.now().Sub(start))
	return res, err
}

func (o *observed) QueryTransfer(ctx context.Context, reference string) (Result, error) {
	start := o.now()
	res, err := o.Adapter.QueryTransfer(ctx, reference)
	o.obs.ObserveRailCall(string(o.Rail()), "query", outcomeLabel(res, err), o.now().Sub(start))
	return res, err
}

func outcomeLabel(res Result, err error) string {
	switch {
	case errors.Is(err, ErrUnknownOutcome):
		return "unknown"
	case err != nil:
		return "error"
	default:
		return res.Outcome.String()
	}
}
