// Package approval checks the one-time transfer-capability delegation a
// maker needs before the escrow can custody their asset. The grant itself is
// submitted through the regular optimistic action pipeline so its pending
// state stays visible like any other action.
package approval

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ohartl/rwadex/pkg/ledger"
	"github.com/ohartl/rwadex/pkg/model"
)

// ErrApprovalRequired fails a sell-order submission whose maker has not yet
// delegated transfer capability to the escrow.
var ErrApprovalRequired = errors.New("approval: escrow not approved as operator")

type Gate struct {
	ledger ledger.Ledger
}

func NewGate(l ledger.Ledger) *Gate {
	return &Gate{ledger: l}
}

// IsApproved reports whether owner has delegated transfer capability to the
// escrow.
func (g *Gate) IsApproved(ctx context.Context, owner common.Address) (bool, error) {
	return g.ledger.IsOperatorApproved(ctx, owner)
}

// RequireForSell gates sell-order creation: returns ErrApprovalRequired when
// the kind needs escrow custody of the maker's asset and the delegation is
// missing. Non-sell kinds pass unconditionally.
func (g *Gate) RequireForSell(ctx context.Context, owner common.Address, kind model.ActionKind) error {
	if kind != model.KindCreateSell {
		return nil
	}
	ok, err := g.IsApproved(ctx, owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrApprovalRequired
	}
	return nil
}

// GrantSubmission builds the ledger submission that delegates transfer
// capability. It is staged and settled by the caller like any other action.
func (g *Gate) GrantSubmission() ledger.Submission {
	return ledger.Submission{Kind: model.KindApprove}
}
