// Package retrycall implements the Retry/Fallback Caller: it drives a
// ProviderPort call through up to R attempts against the primary
// provider, classifying failures as transient or terminal, and advances
// to the next provider in a fallback chain on terminal failure or
// attempt exhaustion.
package retrycall

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/neelabh-labs/agentcore"
)

// AttemptEvent describes a single call attempt, passed to OnAttempt so
// the caller (the worker) can emit decision traces without this package
// knowing about the tracer.
type AttemptEvent struct {
	Provider    agentcore.ProviderID
	AttemptNum  int // 1-based within the current provider
	ChainIndex  int // 0-based position in the fallback chain
	Err         error
	WillAdvance bool // true if this failure ends attempts against Provider (terminal error or retries exhausted), including on the last provider in the chain
}

// Caller drives the retry/fallback algorithm against a Routing Policy
// and a ProviderPort.
type Caller struct {
	provider   agentcore.ProviderPort
	onResult   func(id agentcore.ProviderID, success bool, at time.Time)
	maxRetries int
	baseDelay  time.Duration
	logger     agentcore.Logger
	telemetry  agentcore.Telemetry
}

// New builds a Caller. onResult is invoked after every attempt so the
// Routing Policy's health state stays current; it may be nil in tests.
func New(provider agentcore.ProviderPort, onResult func(agentcore.ProviderID, bool, time.Time), cfg *agentcore.Config) *Caller {
	maxRetries := 3
	baseDelay := 200 * time.Millisecond
	var logger agentcore.Logger = &agentcore.NoOpLogger{}
	var telemetry agentcore.Telemetry = agentcore.NoOpTelemetry{}
	if cfg != nil {
		if cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}
		if cfg.RetryBaseDelay > 0 {
			baseDelay = cfg.RetryBaseDelay
		}
		if cfg.Logger() != nil {
			logger = cfg.Logger()
		}
		if cfg.Telemetry() != nil {
			telemetry = cfg.Telemetry()
		}
	}
	return &Caller{
		provider:   provider,
		onResult:   onResult,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
		telemetry:  telemetry,
	}
}

// Call drives the chain: up to c.maxRetries attempts per provider in
// chain, advancing to the next provider on a terminal error or once
// attempts against the current provider are exhausted. credential is
// resolved once by the caller (the Vault lookup happens outside this
// package) and passed through to every attempt unchanged.
func (c *Caller) Call(ctx context.Context, chain []agentcore.ProviderID, prompt, model string, credential *string, onAttempt func(AttemptEvent)) (agentcore.ProviderResponse, error) {
	if len(chain) == 0 {
		return agentcore.ProviderResponse{}, agentcore.NewOrchestratorError("retrycall.Call", "provider", "", agentcore.ErrNoProvidersAvailable)
	}

	ctx, span := c.telemetry.StartSpan(ctx, "retrycall.Call")
	defer span.End()

	totalAttempts := 0
	var lastErr error

	for chainIdx, providerID := range chain {
		for attempt := 1; attempt <= c.maxRetries; attempt++ {
			totalAttempts++
			resp, err := c.provider.Call(ctx, providerID, prompt, model, credential)
			now := time.Now()

			if err == nil {
				if c.onResult != nil {
					c.onResult(providerID, true, now)
				}
				resp.UsedProvider = providerID
				resp.Attempts = totalAttempts
				resp.Success = true
				span.SetAttribute("provider", string(providerID))
				span.SetAttribute("attempts", totalAttempts)
				return resp, nil
			}

			lastErr = err
			if c.onResult != nil {
				c.onResult(providerID, false, now)
			}

			terminal := agentcore.IsTerminal(err)
			exhausted := attempt == c.maxRetries
			willAdvance := terminal || exhausted

			if onAttempt != nil {
				onAttempt(AttemptEvent{
					Provider:    providerID,
					AttemptNum:  attempt,
					ChainIndex:  chainIdx,
					Err:         err,
					WillAdvance: willAdvance,
				})
			}
			c.logger.WarnWithContext(ctx, "provider call failed", map[string]interface{}{
				"provider": string(providerID),
				"attempt":  attempt,
				"terminal": terminal,
				"error":    err.Error(),
			})

			if willAdvance {
				break
			}

			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				return agentcore.ProviderResponse{Error: ctx.Err()}, ctx.Err()
			case <-time.After(c.backoffDelay(attempt)):
			}
		}
	}

	if lastErr == nil {
		lastErr = agentcore.ErrNoProvidersAvailable
	}
	span.RecordError(lastErr)
	wrapped := agentcore.NewOrchestratorError("retrycall.Call", "provider", "", lastErr)
	return agentcore.ProviderResponse{Success: false, Attempts: totalAttempts, Error: wrapped}, wrapped
}

// backoffDelay computes base*2^(attempt-1) with +/-20% jitter, using
// cenkalti/backoff's ExponentialBackOff as the underlying policy so the
// curve matches the rest of the ecosystem's retry shape rather than a
// hand-rolled formula.
func (c *Caller) backoffDelay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.baseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxInterval = 30 * time.Second

	d := c.baseDelay
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d <= 0 {
		d = c.baseDelay
	}
	return d
}
