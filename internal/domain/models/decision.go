package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReasonCode string

const (
	ReasonNone     ReasonCode = "NONE"
	ReasonCooldown ReasonCode = "COOLDOWN"
	ReasonExitAll  ReasonCode = "EXIT_ALL"
	ReasonSell67   ReasonCode = "SELL_67"
	ReasonSell50   ReasonCode = "SELL_50"
	ReasonSell25   ReasonCode = "SELL_25"
	ReasonDrift    ReasonCode = "DRIFT"
	ReasonAborted  ReasonCode = "ABORTED"
)

type TriggerState string

const (
	StateIdle        TriggerState = "idle"
	StateEligible    TriggerState = "eligible"
	StateTriggered   TriggerState = "triggered"
	StateCoolingDown TriggerState = "cooling_down"
)

// RebalanceDecision is the outcome of one cycle. Once journaled it is never changed.
type RebalanceDecision struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	Triggered  bool             `json:"triggered"`
	State      TriggerState     `json:"state"`
	Reason     ReasonCode       `json:"reason"`
	Detail     string           `json:"detail"`
	Snapshot   MarketSnapshot   `json:"snapshot"`
	Signal     AllocationSignal `json:"signal"`
	Portfolio  PortfolioState   `json:"portfolio"`
	Plan       *RebalancePlan   `json:"plan,omitempty"`
	Verdict    *AdvisoryVerdict `json:"verdict,omitempty"`
	Executable bool             `json:"executable"`
	Degraded   bool             `json:"degraded"`
}

// RebalancePlan holds USD deltas per bucket: positive buys, negative sells.
type RebalancePlan struct {
	DecisionID string                     `json:"decision_id"`
	TotalValue decimal.Decimal            `json:"total_value"`
	Deltas     map[Bucket]decimal.Decimal `json:"deltas"`
}

type AdvisoryVerdict struct {
	Approved    bool      `json:"approved"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	Unavailable bool      `json:"unavailable"`
	Reviewer    string    `json:"reviewer,omitempty"`
	ReviewedAt  time.Time `json:"reviewed_at"`
}

const SafeDefaultReasoning = "advisory unavailable, rejecting for safety"

// SafeDefaultVerdict is what the gate answers when the reviewer cannot.
func SafeDefaultVerdict(at time.Time) AdvisoryVerdict {
	return AdvisoryVerdict{
		Approved:    false,
		Confidence:  0,
		Reasoning:   SafeDefaultReasoning,
		Unavailable: true,
		ReviewedAt:  at,
	}
}

// AdvisoryRequest is everything a reviewer sees about a proposed plan.
type AdvisoryRequest struct {
	Plan      RebalancePlan    `json:"plan"`
	Snapshot  MarketSnapshot   `json:"snapshot"`
	Reason    ReasonCode       `json:"reason"`
	Detail    string           `json:"detail"`
	Signal    AllocationSignal `json:"signal"`
	Portfolio PortfolioState   `json:"portfolio"`
}

type JournalKind string

const (
	JournalDecision JournalKind = "decision"
	JournalAborted  JournalKind = "aborted"
)

// JournalEntry is one append-only journal row.
type JournalEntry struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Kind        JournalKind        `json:"kind"`
	Triggered   bool               `json:"triggered"`
	Executable  bool               `json:"executable"`
	Reason      ReasonCode         `json:"reason"`
	AbortReason string             `json:"abort_reason,omitempty"`
	Decision    *RebalanceDecision `json:"decision,omitempty"`
}
