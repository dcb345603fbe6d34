package agentcore

import (
	"context"

	"github.com/shopspring/decimal"
)

// MessageRole is the role of a persisted conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single persisted conversation turn.
type Message struct {
	ProjectID string
	RunID     string
	Role      MessageRole
	Content   string
}

// UsageRecord is an analytics-facing record of a completed call.
type UsageRecord struct {
	RunID        string
	OrgID        string
	Provider     ProviderID
	InputTokens  int
	OutputTokens int
	CostEstimate decimal.Decimal
}

// AuditLog is a single audit trail entry.
type AuditLog struct {
	OrgID  string
	UserID string // optional
	Action string
	Target string
	Detail map[string]interface{}
}

// Org is the minimal organization record the core needs.
type Org struct {
	OwnerUserID string
}

// StoragePort is the synchronous (but possibly blocking) persistence
// boundary. The core never depends on a concrete storage engine.
type StoragePort interface {
	GetRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, runID string, fields map[string]interface{}) error
	CreateMessage(ctx context.Context, msg Message) error
	CreateDecisionTrace(ctx context.Context, trace DecisionTrace) (id string, err error)
	CreateUsageRecord(ctx context.Context, rec UsageRecord) error
	CreateAuditLog(ctx context.Context, log AuditLog) error
	GetOrg(ctx context.Context, orgID string) (*Org, error)
}

// ProviderPort calls an external model provider. Implementations must
// distinguish transient from terminal errors by wrapping ErrTransientProvider
// or ErrTerminalProvider (see errors.go) so the Retry/Fallback Caller can
// classify failures without provider-specific knowledge.
type ProviderPort interface {
	Call(ctx context.Context, provider ProviderID, prompt string, model string, credential *string) (ProviderResponse, error)
}

// VaultPort resolves a credential secret for a user/service pair. A nil
// return with a nil error means "no credential" — CredentialMissing is
// not an error per spec.md §7; the provider port may accept nil.
type VaultPort interface {
	Get(ctx context.Context, userID string, service string) (secret *string, err error)
}

// WebhookPort dispatches a best-effort, fire-and-forget event to an
// external webhook subscriber. The core never awaits it.
type WebhookPort interface {
	Dispatch(ctx context.Context, orgID string, eventType string, payload interface{}) error
}

// BudgetPort tracks spend against an org's budget.
type BudgetPort interface {
	TrackCost(ctx context.Context, orgID string, amount decimal.Decimal) error
}
