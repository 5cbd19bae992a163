package chainio

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/order"
)

// CowBalanceReader implements validation.BalanceReader against the
// configured COW token, the same erc20 balanceOf path BalancesAndAllowances
// already batches for trading balances.
type CowBalanceReader struct {
	balances *BalancesAndAllowances
	cowToken order.Address
}

func NewCowBalanceReader(balances *BalancesAndAllowances, cowToken order.Address) *CowBalanceReader {
	return &CowBalanceReader{balances: balances, cowToken: cowToken}
}

func (c *CowBalanceReader) BalanceOf(ctx context.Context, owner order.Address) (*big.Int, error) {
	query := auction.BalanceQuery{Owner: owner, Token: c.cowToken, Source: order.BalanceSourceErc20}
	res, err := c.balances.Balances(ctx, []auction.BalanceQuery{query})
	if err != nil {
		return nil, fmt.Errorf("chainio: reading cow balance: %w", err)
	}
	amount, ok := res[query]
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}
