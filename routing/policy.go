// Package routing implements the Routing Policy: the provider health and
// selection component that picks a primary provider for a request and
// builds an ordered fallback chain, informed by capability matching,
// cost, priority, and rolling health state.
package routing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neelabh-labs/agentcore"
)

// Policy owns the health/cost state of every known provider. A single
// Policy is shared by every worker in the pool; all access goes through
// the RWMutex so concurrent workers never race on provider health.
type Policy struct {
	mu               sync.RWMutex
	providers        map[agentcore.ProviderID]*agentcore.ProviderState
	cooldown         time.Duration
	failureThreshold int
	errorDecayWindow time.Duration
	now              func() time.Time
}

// New builds a Policy with no registered providers.
func New(cfg *agentcore.Config) *Policy {
	cooldown := 60 * time.Second
	threshold := 3
	decay := 5 * time.Minute
	if cfg != nil {
		if cfg.ProviderCooldown > 0 {
			cooldown = cfg.ProviderCooldown
		}
		if cfg.ConsecutiveFailureThreshold > 0 {
			threshold = cfg.ConsecutiveFailureThreshold
		}
		if cfg.ErrorDecayWindow > 0 {
			decay = cfg.ErrorDecayWindow
		}
	}
	return &Policy{
		providers:        make(map[agentcore.ProviderID]*agentcore.ProviderState),
		cooldown:         cooldown,
		failureThreshold: threshold,
		errorDecayWindow: decay,
		now:              time.Now,
	}
}

// Register adds or replaces a provider's static configuration (priority,
// capabilities, cost rate). Newly registered providers start enabled and
// healthy.
func (p *Policy) Register(state agentcore.ProviderState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state.Enabled = true
	state.Healthy = true
	p.providers[state.ID] = &state
}

// SetEnabled toggles whether a provider may be picked at all, independent
// of its health.
func (p *Policy) SetEnabled(id agentcore.ProviderID, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.providers[id]; ok {
		s.Enabled = enabled
	}
}

// Snapshot returns a copy of every known provider's current state, for
// health reporting (GetHealthMetrics).
func (p *Policy) Snapshot() []agentcore.ProviderState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]agentcore.ProviderState, 0, len(p.providers))
	for _, s := range p.providers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (p *Policy) available(s *agentcore.ProviderState) bool {
	if !s.Enabled {
		return false
	}
	if s.Healthy {
		return true
	}
	return p.now().Sub(s.LastErrorTime) >= p.cooldown
}

func (p *Policy) matches(s *agentcore.ProviderState, req agentcore.Request) bool {
	if req.RequiresVision && !s.Capabilities.SupportsVision {
		return false
	}
	if req.RequiresTools && !s.Capabilities.SupportsTools {
		return false
	}
	if req.RequiresJSONMode && !s.Capabilities.SupportsJSONMode {
		return false
	}
	if req.RequiresStreaming && !s.Capabilities.SupportsStreaming {
		return false
	}
	if s.Capabilities.MaxContextTokens > 0 && agentcore.EstimateTokens(req.Prompt) > s.Capabilities.MaxContextTokens {
		return false
	}
	if req.BudgetRemaining.IsPositive() {
		if cost := EstimateCost(*s, req); cost.GreaterThan(req.BudgetRemaining) {
			return false
		}
	}
	return true
}

// EstimateCost projects the cost of serving req against provider s, using
// the spec's ceil(len/4) token estimate for the prompt and
// req.MaxOutputTokens (or a conservative default) for the response.
func EstimateCost(s agentcore.ProviderState, req agentcore.Request) decimal.Decimal {
	inTokens := agentcore.EstimateTokens(req.Prompt)
	outTokens := req.MaxOutputTokens
	if outTokens <= 0 {
		outTokens = 512
	}
	in := decimal.NewFromInt(int64(inTokens)).Div(decimal.NewFromInt(1000)).Mul(s.CostRate.InputPerThousand)
	out := decimal.NewFromInt(int64(outTokens)).Div(decimal.NewFromInt(1000)).Mul(s.CostRate.OutputPerThousand)
	return in.Add(out)
}

// candidates returns every provider eligible for req, ordered by
// ascending priority (and, for providers with the same priority,
// ascending estimated cost), excluding those in excludeSet.
func (p *Policy) candidates(req agentcore.Request, excludeSet map[agentcore.ProviderID]bool) []*agentcore.ProviderState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*agentcore.ProviderState, 0, len(p.providers))
	for _, s := range p.providers {
		if excludeSet[s.ID] {
			continue
		}
		if !p.available(s) {
			continue
		}
		if !p.matches(s, req) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return EstimateCost(*out[i], req).LessThan(EstimateCost(*out[j], req))
	})
	return out
}

// Pick selects the single best provider for req. If hint names an
// available, matching provider it is preferred regardless of priority
// ordering (the caller asked for it explicitly).
func (p *Policy) Pick(req agentcore.Request, hint agentcore.ProviderID) (agentcore.ProviderID, error) {
	cands := p.candidates(req, nil)
	if len(cands) == 0 {
		return "", fmt.Errorf("routing: %w", agentcore.ErrNoProvidersAvailable)
	}
	if hint != "" {
		for _, c := range cands {
			if c.ID == hint {
				return hint, nil
			}
		}
	}
	return cands[0].ID, nil
}

// FallbackChain builds the ordered list of providers to try for req,
// starting at primary (if it is itself eligible) and followed by every
// other eligible provider in priority/cost order.
func (p *Policy) FallbackChain(primary agentcore.ProviderID, req agentcore.Request) ([]agentcore.ProviderID, error) {
	chain := make([]agentcore.ProviderID, 0, 4)
	excluded := map[agentcore.ProviderID]bool{}

	if primary != "" {
		cands := p.candidates(req, nil)
		for _, c := range cands {
			if c.ID == primary {
				chain = append(chain, primary)
				excluded[primary] = true
				break
			}
		}
	}
	for _, c := range p.candidates(req, excluded) {
		chain = append(chain, c.ID)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("routing: %w", agentcore.ErrNoProvidersAvailable)
	}
	return chain, nil
}

// OnResult updates a provider's rolling health after a call attempt.
// A success resets consecutive failures to zero and, if the provider's
// last error is older than the decay window, decrements its sticky
// error count by one. A failure increments both counters and, once
// consecutive failures reach the configured threshold, marks the
// provider unhealthy (subject to cooldown-based recovery in available).
func (p *Policy) OnResult(id agentcore.ProviderID, success bool, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.providers[id]
	if !ok {
		return
	}
	if success {
		s.ConsecutiveFailures = 0
		s.LastSuccessTime = at
		s.Healthy = true
		if !s.LastErrorTime.IsZero() && at.Sub(s.LastErrorTime) >= p.errorDecayWindow && s.ErrorCount > 0 {
			s.ErrorCount--
		}
		return
	}
	s.ErrorCount++
	s.ConsecutiveFailures++
	s.LastErrorTime = at
	if s.ConsecutiveFailures >= p.failureThreshold {
		s.Healthy = false
	}
}
