package automation

import (
	"time"

	"github.com/shopspring/decimal"

	"seatwatch/internal/scraping"
)

// Decision actions.
const (
	ActionPurchase = "purchase"
	ActionWait     = "wait"
	ActionSkip     = "skip"
)

// Rule statuses.
const (
	RuleActive   = "active"
	RuleInactive = "inactive"
)

// Purchase request statuses.
const (
	PurchasePending   = "pending"
	PurchaseCompleted = "completed"
	PurchaseFailed    = "failed"
)

// Condition keys accepted on a purchase rule.
const (
	CondMaxPrice           = "max_price"
	CondMinAvailability    = "min_availability"
	CondPreferredPlatforms = "preferred_platforms"
)

// Preferences carry a user's purchase execution settings. They are stored
// encrypted alongside the rule that owns them.
type Preferences struct {
	Strategy            string   `json:"strategy,omitempty"`
	MaxAttempts         int      `json:"max_attempts,omitempty"`
	ImmediateProcessing bool     `json:"immediate_processing,omitempty"`
	Recipients          []string `json:"recipients,omitempty"`
}

// PurchaseRule is a user's standing instruction to buy when conditions match.
// Criteria, conditions and preferences are encrypted at rest.
type PurchaseRule struct {
	RuleID              string
	UserID              string
	Criteria            scraping.Criteria
	Conditions          map[string]any
	Preferences         Preferences
	Status              string
	CreatedAt           time.Time
	UpdatedAt           *time.Time
	TriggeredCount      int64
	LastTriggered       *time.Time
	SuccessfulPurchases int64
	TotalSpent          decimal.Decimal
}

// RulePatch is a partial update to a purchase rule. Nil/empty fields are left
// unchanged.
type RulePatch struct {
	Criteria    scraping.Criteria
	Conditions  map[string]any
	Preferences *Preferences
	Status      string
}

// Decision is the output of the decision chain.
type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// PurchaseRequest is one queued purchase. Decision, preferences and result
// are encrypted at rest.
type PurchaseRequest struct {
	PurchaseID  string      `json:"purchase_id"`
	TicketID    string      `json:"ticket_id"`
	Decision    Decision    `json:"decision"`
	Preferences Preferences `json:"preferences"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	Result      *Result     `json:"result,omitempty"`
}

// Result is a strategy's execution outcome.
type Result struct {
	Success       bool             `json:"success"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Message       string           `json:"message,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Details       map[string]any   `json:"details,omitempty"`
}

// TriggerResult is one rule's outcome within a trigger sweep.
type TriggerResult struct {
	RuleID    string
	TicketID  string
	Triggered bool
	Decision  *DecisionResult
	Err       string
}

// DecisionResult wraps a decision and, when it cleared the execution gate,
// the purchase it produced.
type DecisionResult struct {
	Decision Decision
	Executed bool
	Purchase *PurchaseOutcome
}

// PurchaseOutcome reports what happened to one purchase request.
type PurchaseOutcome struct {
	PurchaseID string
	Status     string
	Message    string
	Result     *Result
}

// ProcessResult is one item's outcome within a queue drain.
type ProcessResult struct {
	PurchaseID string
	Status     string
	Result     *Result
	Err        string
}

// UserStatistics aggregates one user's automation activity.
type UserStatistics struct {
	UserID              string
	TotalRules          int
	ActiveRules         int
	TotalTriggered      int64
	SuccessfulPurchases int64
	TotalSpent          decimal.Decimal
	Timestamp           time.Time
}

// Statistics aggregates global automation state for operators.
type Statistics struct {
	TotalRules  int
	QueueDepth  int64
	QueueHealth string
	Timestamp   time.Time
}
