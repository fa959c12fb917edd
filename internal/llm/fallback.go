package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
// Once the primary has streamed a fragment the reply belongs to it: a later
// failure is returned as-is rather than restarting the reply elsewhere.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary Adapter, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

// Primary returns the preferred adapter used before fallback.
func (a *FallbackAdapter) Primary() Adapter { return a.primary }

// Secondary returns the fallback adapter.
func (a *FallbackAdapter) Secondary() Adapter { return a.fallback }

func (a *FallbackAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.StreamResponse(ctx, req, onDelta)
		}
		return Response{}, fmt.Errorf("fallback adapter misconfigured")
	}

	streamed := false
	resp, err := a.primary.StreamResponse(ctx, req, func(delta string) error {
		if delta != "" {
			streamed = true
		}
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || streamed || a.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := a.fallback.StreamResponse(ctx, req, onDelta)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
