package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/optimistic"
)

// ActionOutcome is the terminal result of one user action.
type ActionOutcome struct {
	LocalID string
	Status  model.ActionStatus
	Handle  ledger.TxHandle
	Receipt ledger.Receipt
	Err     error
}

// ActionResult is returned synchronously when an action is staged: the
// optimistic record is already visible in the read model, and Done delivers
// the terminal outcome exactly once.
type ActionResult struct {
	LocalID      string
	Notification model.Notification
	Done         <-chan ActionOutcome
}

// CreateSellOrder stages and submits a new sell order. The maker must have
// approved the escrow first; a missing approval fails fast without staging.
func (e *Engine) CreateSellOrder(ctx context.Context, pairID string, amount int64, price decimal.Decimal) (*ActionResult, error) {
	if err := validateOrder(amount, price); err != nil {
		return nil, err
	}
	if err := e.gate.RequireForSell(ctx, e.owner, model.KindCreateSell); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}
	a := model.OptimisticAction{
		Kind:         model.KindCreateSell,
		PairID:       pairID,
		Amount:       amount,
		PricePerUnit: price,
	}
	return e.launch(a, ledger.Submission{
		Kind:         model.KindCreateSell,
		PairID:       pairID,
		Amount:       amount,
		PricePerUnit: price,
	}, "Sell order placed", fmt.Sprintf("Selling %d @ %s on %s", amount, price.String(), pairID))
}

// CreateBuyOrder stages and submits a new buy order.
func (e *Engine) CreateBuyOrder(ctx context.Context, pairID string, amount int64, price decimal.Decimal) (*ActionResult, error) {
	if err := validateOrder(amount, price); err != nil {
		return nil, err
	}
	a := model.OptimisticAction{
		Kind:         model.KindCreateBuy,
		PairID:       pairID,
		Amount:       amount,
		PricePerUnit: price,
	}
	return e.launch(a, ledger.Submission{
		Kind:         model.KindCreateBuy,
		PairID:       pairID,
		Amount:       amount,
		PricePerUnit: price,
	}, "Buy order placed", fmt.Sprintf("Buying %d @ %s on %s", amount, price.String(), pairID))
}

// FillOrder stages and submits a fill against an existing order. The
// counterparty order is read best-effort to enrich the optimistic record; a
// miss does not block the fill since the snapshot may simply lag the ledger.
func (e *Engine) FillOrder(ctx context.Context, pairID, orderID string, amount int64) (*ActionResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrSubmissionRejected)
	}
	price := decimal.Zero
	if counter, err := e.ledger.ReadOrder(ctx, orderID); err == nil {
		price = counter.PricePerUnit
	} else if !errors.Is(err, ledger.ErrOrderNotFound) {
		e.log.Warn("fill: counterparty read failed", zap.String("order", orderID), zap.Error(err))
	}
	a := model.OptimisticAction{
		Kind:           model.KindFill,
		PairID:         pairID,
		Amount:         amount,
		PricePerUnit:   price,
		CounterOrderID: orderID,
	}
	return e.launch(a, ledger.Submission{
		Kind:           model.KindFill,
		PairID:         pairID,
		Amount:         amount,
		CounterOrderID: orderID,
	}, "Fill submitted", fmt.Sprintf("Filling order %s for %d on %s", orderID, amount, pairID))
}

// CancelOrder stages and submits a cancellation of the caller's own order.
func (e *Engine) CancelOrder(ctx context.Context, pairID, orderID string) (*ActionResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrSubmissionRejected)
	}
	a := model.OptimisticAction{
		Kind:           model.KindCancel,
		PairID:         pairID,
		CounterOrderID: orderID,
	}
	return e.launch(a, ledger.Submission{
		Kind:           model.KindCancel,
		PairID:         pairID,
		CounterOrderID: orderID,
	}, "Cancellation submitted", fmt.Sprintf("Cancelling order %s on %s", orderID, pairID))
}

// GrantApproval delegates transfer capability to the escrow through the same
// optimistic cycle as any trade action, so its pending state is visible and a
// sell order cannot race ahead of it.
func (e *Engine) GrantApproval(ctx context.Context) (*ActionResult, error) {
	a := model.OptimisticAction{Kind: model.KindApprove}
	return e.launch(a, e.gate.GrantSubmission(),
		"Escrow approval requested", "Granting the escrow transfer capability")
}

func validateOrder(amount int64, price decimal.Decimal) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrSubmissionRejected)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrSubmissionRejected)
	}
	return nil
}

// launch stages the action together with its notification (lock-step), then
// runs the submit/await cycle in the background.
func (e *Engine) launch(a model.OptimisticAction, sub ledger.Submission, title, message string) (*ActionResult, error) {
	localID, err := e.cache.Stage(a)
	if err != nil {
		return nil, err
	}
	note, err := e.notes.Notify(localID, title, message)
	if err != nil {
		// Keep the pair consistent: an action without its notification must
		// not stay pending.
		e.settle(localID, model.StatusFailed, "notification write failed")
		return nil, err
	}
	done := make(chan ActionOutcome, 1)
	e.wg.Add(1)
	go e.execute(localID, a.PairID, sub, done)
	return &ActionResult{LocalID: localID, Notification: note, Done: done}, nil
}

func (e *Engine) execute(localID, pairID string, sub ledger.Submission, done chan<- ActionOutcome) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ConfirmTimeout)
	defer cancel()

	handle, err := e.ledger.Submit(ctx, sub)
	if err != nil {
		e.settle(localID, model.StatusFailed, err.Error())
		done <- ActionOutcome{
			LocalID: localID,
			Status:  model.StatusFailed,
			Err:     fmt.Errorf("%w: %w", ErrSubmissionRejected, err),
		}
		e.refreshAfterSettle(pairID)
		return
	}
	if err := e.cache.AttachHandle(localID, string(handle)); err != nil {
		e.log.Error("attach handle failed", zap.String("localId", localID), zap.Error(err))
	}

	receipt, err := e.ledger.AwaitConfirmation(ctx, handle)
	if err != nil {
		e.settle(localID, model.StatusFailed, "confirmation not observed: "+err.Error())
		done <- ActionOutcome{
			LocalID: localID,
			Status:  model.StatusFailed,
			Handle:  handle,
			Err:     fmt.Errorf("%w: %w", ErrConfirmationFailed, err),
		}
		e.refreshAfterSettle(pairID)
		return
	}

	out := ActionOutcome{LocalID: localID, Handle: handle, Receipt: receipt}
	if receipt.Success {
		out.Status = model.StatusConfirmed
		e.settle(localID, model.StatusConfirmed, "")
	} else {
		out.Status = model.StatusFailed
		out.Err = fmt.Errorf("%w: %s", ErrConfirmationFailed, receipt.Reason)
		e.settle(localID, model.StatusFailed, receipt.Reason)
	}
	done <- out
	e.refreshAfterSettle(pairID)
}

// settle transitions the action and its notification in the same logical
// step. Failure does not retry automatically; the caller must re-invoke the
// action explicitly.
func (e *Engine) settle(localID string, outcome model.Outcome, reason string) {
	if err := e.cache.Settle(localID, outcome, reason); err != nil &&
		!errors.Is(err, optimistic.ErrAlreadySettled) {
		e.log.Error("settle failed", zap.String("localId", localID), zap.Error(err))
	}
	if err := e.notes.UpdateForOutcome(localID, outcome, reason); err != nil {
		e.log.Error("notification update failed", zap.String("localId", localID), zap.Error(err))
	}
}

// refreshAfterSettle is the out-of-band Refreshing transition on settle.
// Pair-independent actions (approval) refresh every started pair.
func (e *Engine) refreshAfterSettle(pairID string) {
	if pairID != "" {
		_ = e.Refresh(pairID)
		return
	}
	for _, id := range e.Pairs() {
		_ = e.Refresh(id)
	}
}

// ReconcileStartup re-checks persisted actions that are still Pending and
// older than the reconciliation timeout, once, before they are surfaced:
// entries with a handle are resolved against the ledger's receipt, entries
// without one were never acknowledged and are settled Failed.
func (e *Engine) ReconcileStartup(ctx context.Context) {
	cutoff := e.clock.Now().Add(-e.cfg.ReconcileTimeout)
	for _, a := range e.cache.StalePending(cutoff) {
		if a.LedgerHandle == "" {
			e.settle(a.LocalID, model.StatusFailed, "submission never acknowledged by the ledger")
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		receipt, err := e.ledger.AwaitConfirmation(rctx, ledger.TxHandle(a.LedgerHandle))
		cancel()
		if err != nil {
			// Still unconfirmed; leave it pending rather than guessing.
			e.log.Info("startup reconcile: still pending",
				zap.String("localId", a.LocalID), zap.String("tx", a.LedgerHandle))
			continue
		}
		if receipt.Success {
			e.settle(a.LocalID, model.StatusConfirmed, "")
		} else {
			e.settle(a.LocalID, model.StatusFailed, receipt.Reason)
		}
	}
}
