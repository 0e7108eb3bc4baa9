package api

import (
	"github.com/ohartl/rwadex/pkg/engine"
	"github.com/ohartl/rwadex/pkg/model"
)

// Request/response types for REST endpoints and WebSocket messages.

type CreateOrderRequest struct {
	PairID string `json:"pairId"`
	Side   string `json:"side"`   // "buy" or "sell"
	Amount int64  `json:"amount"`
	Price  string `json:"price"`  // decimal string
}

type FillOrderRequest struct {
	PairID  string `json:"pairId"`
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

type CancelOrderRequest struct {
	PairID  string `json:"pairId"`
	OrderID string `json:"orderId"`
}

// ActionResponse acknowledges a staged action. Status is "pending" unless the
// caller asked to wait for the terminal outcome.
type ActionResponse struct {
	LocalID        string `json:"localId"`
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
	LedgerHandle   string `json:"ledgerHandle,omitempty"`
	Error          string `json:"error,omitempty"`
}

type AccountInfo struct {
	Address string   `json:"address"`
	Pairs   []string `json:"pairs"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket messages
// ==============================

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// ModelUpdate is pushed on channel "model:<pairId>" whenever a new read-model
// version is published.
type ModelUpdate struct {
	Type  string           `json:"type"` // "model"
	Model engine.ReadModel `json:"model"`
}

// NotificationUpdate is pushed on channel "notifications".
type NotificationUpdate struct {
	Type         string             `json:"type"` // "notification"
	Notification model.Notification `json:"notification"`
}
