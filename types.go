package agentcore

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderID enumerates the supported model providers.
type ProviderID string

const (
	ProviderOpenAI     ProviderID = "openai"
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderGoogle     ProviderID = "google"
	ProviderGroq       ProviderID = "groq"
	ProviderPerplexity ProviderID = "perplexity"
	ProviderXAI        ProviderID = "xai"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued           RunStatus = "queued"
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
)

// ApprovalStatus is the state of a single DecisionTrace's approval gate.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalGranted     ApprovalStatus = "granted"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// StepType enumerates the kinds of decisions the tracer records.
type StepType string

const (
	StepProviderSelection  StepType = "provider_selection"
	StepContextAnalysis    StepType = "context_analysis"
	StepRetry              StepType = "retry"
	StepFallback           StepType = "fallback"
	StepResponseGeneration StepType = "response_generation"
	StepErrorHandling      StepType = "error_handling"
	StepSecurityValidation StepType = "security_validation"
)

// Task is the in-memory unit of work handed to a worker. It is 1:1 with
// a Run at creation time.
type Task struct {
	RunID     string
	ProjectID string
	OrgID     string
	Goal      string
	Mode      string
	Priority  int
	Iteration int
	// ProviderHint is the caller's requested primary provider, used to
	// seed Routing Policy's pick for this task.
	ProviderHint ProviderID
	Model        string
	// RequiresVision/RequiresTools/RequiresJSONMode/RequiresStreaming
	// mirror the capability flags a Request carries to Routing Policy.
	RequiresVision    bool
	RequiresTools     bool
	RequiresJSONMode  bool
	RequiresStreaming bool
	MaxOutputTokens   int
	CreatedAt         time.Time
}

// Usage is token/cost accounting for a single provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostEstimate decimal.Decimal
}

// Run is the persisted mirror of a Task and its result.
type Run struct {
	RunID         string
	ProjectID     string
	OrgID         string
	Status        RunStatus
	Provider      ProviderID // requested
	Model         string
	UsedProvider  ProviderID // actual, may differ after fallback
	Attempts      int
	CostEstimate  decimal.Decimal
	Output        string
	OutputError   string
	Usage         Usage
	CreatedAt     time.Time
}

// DecisionTrace is an immutable step record for a Run.
type DecisionTrace struct {
	RunID          string
	StepNumber     int
	StepType       StepType
	Decision       string
	Reasoning      string
	Confidence     float64
	Alternatives   []string
	ContextUsed    map[string]interface{}
	DurationMs     int64
	ApprovalStatus ApprovalStatus
}

// Capabilities describes what a provider can do.
type Capabilities struct {
	MaxContextTokens int
	SupportsVision   bool
	SupportsTools    bool
	SupportsJSONMode bool
	SupportsStreaming bool
}

// CostRate is per-1000-token pricing for a provider.
type CostRate struct {
	InputPerThousand  decimal.Decimal
	OutputPerThousand decimal.Decimal
}

// ProviderState is the mutable in-memory health/cost record for a
// single provider, owned exclusively by the Routing Policy.
type ProviderState struct {
	ID                 ProviderID
	Priority           int // lower = higher preference
	Enabled            bool
	Healthy            bool
	ErrorCount         int
	ConsecutiveFailures int
	LastErrorTime      time.Time
	LastSuccessTime    time.Time
	Capabilities       Capabilities
	CostRate           CostRate
}

// ProviderResponse is the result of the Retry/Fallback Caller.
type ProviderResponse struct {
	Success      bool
	Content      string
	UsedProvider ProviderID
	Attempts     int
	Usage        Usage
	Error        error
}

// Request is what the Routing Policy and Retry/Fallback Caller act on,
// derived from a Task.
type Request struct {
	Prompt            string
	Model             string
	RequiresVision    bool
	RequiresTools     bool
	RequiresJSONMode  bool
	RequiresStreaming bool
	MaxOutputTokens   int
	BudgetRemaining   decimal.Decimal
}

// EstimateTokens implements the spec's token estimate: ceil(len/4).
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
