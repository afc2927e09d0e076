package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Caller cancellation and deadline expiry are propagated as-is: retrying a
// secondary backend against a dead context only adds latency.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	if a.primary == nil {
		if a.fallback != nil {
			return a.fallback.Generate(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback adapter misconfigured")
	}

	resp, err := a.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}
	if a.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := a.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
