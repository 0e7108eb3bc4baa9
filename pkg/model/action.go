package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	KindCreateSell ActionKind = "create_sell"
	KindCreateBuy  ActionKind = "create_buy"
	KindFill       ActionKind = "fill"
	KindCancel     ActionKind = "cancel"
	KindApprove    ActionKind = "approve"
)

type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusConfirmed ActionStatus = "confirmed"
	StatusFailed    ActionStatus = "failed"
)

// Outcome is a terminal action status.
type Outcome = ActionStatus

// OptimisticAction is the locally staged record of a user action, written
// before any network call so the UI can render it instantly, then rewritten
// in place (matched by LocalID, never by content) as the ledger first accepts
// the submission and later reports its outcome.
type OptimisticAction struct {
	LocalID        string          `json:"localId"`
	Kind           ActionKind      `json:"kind"`
	PairID         string          `json:"pairId"`
	Amount         int64           `json:"amount"`
	PricePerUnit   decimal.Decimal `json:"pricePerUnit"`
	CounterOrderID string          `json:"counterOrderId,omitempty"`
	LedgerHandle   string          `json:"ledgerHandle,omitempty"`
	Status         ActionStatus    `json:"status"`
	FailReason     string          `json:"failReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	SettledAt      *time.Time      `json:"settledAt,omitempty"`
}

// Terminal reports whether the action has reached Confirmed or Failed.
func (a *OptimisticAction) Terminal() bool {
	return a.Status == StatusConfirmed || a.Status == StatusFailed
}

type NotificationStatus string

const (
	NotePending   NotificationStatus = "pending"
	NoteCompleted NotificationStatus = "completed"
	NoteFailed    NotificationStatus = "failed"
)

// Notification mirrors one OptimisticAction for user-facing status. It is
// created atomically with its action and updated in lock-step with it.
type Notification struct {
	ID            string             `json:"id"`
	LinkedLocalID string             `json:"linkedLocalId"`
	Title         string             `json:"title"`
	Message       string             `json:"message"`
	Status        NotificationStatus `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
}
