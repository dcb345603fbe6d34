// Package agentcoretest provides hand-written fake implementations of
// this module's ports for use in package tests. These are plain structs,
// not a mocking framework: each records what it was called with and
// returns scripted or zero-value results.
package agentcoretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/neelabh-labs/agentcore"
)

var (
	_ agentcore.StoragePort = (*Storage)(nil)
	_ agentcore.ProviderPort = (*Provider)(nil)
	_ agentcore.VaultPort    = (*Vault)(nil)
	_ agentcore.WebhookPort  = (*Webhook)(nil)
	_ agentcore.BudgetPort   = (*Budget)(nil)
)

// Storage is an in-memory StoragePort.
type Storage struct {
	mu     sync.Mutex
	Runs   map[string]*agentcore.Run
	Traces []agentcore.DecisionTrace
	Msgs   []agentcore.Message
	Usage  []agentcore.UsageRecord
	Audits []agentcore.AuditLog
	Orgs   map[string]*agentcore.Org
}

// NewStorage builds an empty Storage.
func NewStorage() *Storage {
	return &Storage{Runs: map[string]*agentcore.Run{}, Orgs: map[string]*agentcore.Org{}}
}

func (s *Storage) GetRun(ctx context.Context, runID string) (*agentcore.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.Runs[runID]
	if !ok {
		return nil, fmt.Errorf("agentcoretest: %w", agentcore.ErrRunNotFound)
	}
	return run, nil
}

func (s *Storage) UpdateRun(ctx context.Context, runID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.Runs[runID]
	if !ok {
		run = &agentcore.Run{RunID: runID}
		s.Runs[runID] = run
	}
	if v, ok := fields["status"]; ok {
		if status, ok := v.(agentcore.RunStatus); ok {
			run.Status = status
		}
	}
	if v, ok := fields["output"]; ok {
		if s, ok := v.(string); ok {
			run.Output = s
		}
	}
	if v, ok := fields["error"]; ok {
		if s, ok := v.(string); ok {
			run.OutputError = s
		}
	}
	if v, ok := fields["used_provider"]; ok {
		if p, ok := v.(agentcore.ProviderID); ok {
			run.UsedProvider = p
		}
	}
	if v, ok := fields["attempts"]; ok {
		if n, ok := v.(int); ok {
			run.Attempts = n
		}
	}
	return nil
}

func (s *Storage) CreateMessage(ctx context.Context, msg agentcore.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Msgs = append(s.Msgs, msg)
	return nil
}

func (s *Storage) CreateDecisionTrace(ctx context.Context, trace agentcore.DecisionTrace) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Traces = append(s.Traces, trace)
	return fmt.Sprintf("trace-%d", len(s.Traces)), nil
}

func (s *Storage) CreateUsageRecord(ctx context.Context, rec agentcore.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Usage = append(s.Usage, rec)
	return nil
}

func (s *Storage) CreateAuditLog(ctx context.Context, log agentcore.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audits = append(s.Audits, log)
	return nil
}

func (s *Storage) GetOrg(ctx context.Context, orgID string) (*agentcore.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.Orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("agentcoretest: org %w", agentcore.ErrRunNotFound)
	}
	return org, nil
}

// Provider is a scriptable ProviderPort: Fails[id] counts down failures
// (each returning the wrapped error) before a call to that provider
// succeeds with Response.
type Provider struct {
	mu       sync.Mutex
	Fails    map[agentcore.ProviderID][]error
	Response agentcore.ProviderResponse
	Calls    []agentcore.ProviderID
}

// NewProvider builds a Provider that always succeeds unless Fails is set.
func NewProvider() *Provider {
	return &Provider{
		Fails:    map[agentcore.ProviderID][]error{},
		Response: agentcore.ProviderResponse{Content: "ok"},
	}
}

func (p *Provider) Call(ctx context.Context, provider agentcore.ProviderID, prompt, model string, credential *string) (agentcore.ProviderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, provider)
	if script := p.Fails[provider]; len(script) > 0 {
		err := script[0]
		p.Fails[provider] = script[1:]
		return agentcore.ProviderResponse{}, err
	}
	return p.Response, nil
}

// Vault is a static VaultPort backed by a map.
type Vault struct {
	Secrets map[string]string
}

// NewVault builds a Vault returning nil (no credential) for unknown keys.
func NewVault() *Vault { return &Vault{Secrets: map[string]string{}} }

func (v *Vault) Get(ctx context.Context, userID, service string) (*string, error) {
	if s, ok := v.Secrets[userID+":"+service]; ok {
		return &s, nil
	}
	return nil, nil
}

// Webhook records every dispatched event.
type Webhook struct {
	mu    sync.Mutex
	Calls []WebhookCall
}

// WebhookCall is one recorded Dispatch invocation.
type WebhookCall struct {
	OrgID     string
	EventType string
	Payload   interface{}
}

func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) Dispatch(ctx context.Context, orgID, eventType string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Calls = append(w.Calls, WebhookCall{OrgID: orgID, EventType: eventType, Payload: payload})
	return nil
}

// Budget records every tracked cost.
type Budget struct {
	mu    sync.Mutex
	Spent map[string]decimal.Decimal
}

func NewBudget() *Budget { return &Budget{Spent: map[string]decimal.Decimal{}} }

func (b *Budget) TrackCost(ctx context.Context, orgID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Spent[orgID] = b.Spent[orgID].Add(amount)
	return nil
}
