package settlement

import (
	"fmt"
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// mergeUnwraps folds every KindUnwrap interaction on the same wrapper
// token into one, wherever it appears in the phase, so the settlement
// contract makes at most one WETH.withdraw-equivalent call per wrapped-
// native token address (spec.md §4.G "Interaction ordering", properties
// P8/P9: "at most one unwrap interaction per wrapped-native token
// address exists, with amount equal to the sum of inputs"). Matches
// the original encoder's UnwrapWethInteraction::merge, which folds
// every same-token unwrap regardless of adjacency, not just consecutive
// runs. The merged interaction keeps the position of that token's
// first unwrap; later duplicates are dropped.
func mergeUnwraps(in []Interaction) ([]Interaction, error) {
	out := make([]Interaction, 0, len(in))
	firstIdx := map[order.Address]int{}
	for _, ia := range in {
		if ia.Kind == KindUnwrap {
			if idx, seen := firstIdx[ia.Token]; seen {
				merged := &out[idx]
				sum := new(big.Int).Add(merged.AmountOut, ia.AmountOut)
				if sum.BitLen() > 256 {
					return nil, fmt.Errorf("settlement: merged unwrap amount for %x overflows uint256", ia.Token)
				}
				merged.AmountOut = sum
				merged.AmountIn = sum
				continue
			}
			firstIdx[ia.Token] = len(out)
		}
		out = append(out, ia)
	}
	return out, nil
}

// insertApprovals prepends one ERC20 approval interaction per (token,
// spender) pair that a swap in the same or a later phase will need,
// skipping any pair the vault relayer already has sufficient allowance
// for, and deduplicating across the whole settlement so the same pair
// is never approved twice (spec.md §4.G "Approvals", property P8).
// Approvals always land in the pre-interaction phase, ahead of any
// interaction already staged there.
func insertApprovals(phases map[Phase][]Interaction, allowances AllowanceChecker) (map[Phase][]Interaction, error) {
	type key struct {
		token, spender order.Address
	}
	needed := map[key]*big.Int{}
	keysInOrder := make([]key, 0)

	for _, phase := range []Phase{PhasePre, PhaseIntra, PhasePost} {
		for _, ia := range phases[phase] {
			if ia.Kind != KindSwap {
				continue
			}
			k := key{token: ia.TokenIn, spender: ia.Target}
			if _, seen := needed[k]; !seen {
				needed[k] = ia.AmountIn
				keysInOrder = append(keysInOrder, k)
			} else if needed[k].Cmp(ia.AmountIn) < 0 {
				needed[k] = ia.AmountIn
			}
		}
	}

	approvals := make([]Interaction, 0, len(keysInOrder))
	for _, k := range keysInOrder {
		current, err := allowances.Allowance(k.token, k.spender)
		if err != nil {
			return nil, fmt.Errorf("settlement: checking allowance for %x/%x: %w", k.token, k.spender, err)
		}
		if current != nil && current.Cmp(needed[k]) >= 0 {
			continue
		}
		approvals = append(approvals, Interaction{
			Kind:    KindApproval,
			Token:   k.token,
			Spender: k.spender,
			Amount:  MaxUint256,
		})
	}

	out := make(map[Phase][]Interaction, 3)
	out[PhasePre] = append(append([]Interaction{}, approvals...), phases[PhasePre]...)
	out[PhaseIntra] = phases[PhaseIntra]
	out[PhasePost] = phases[PhasePost]
	return out, nil
}

// checkConservation enforces per-token balance conservation across every
// trade and interaction (spec.md §4.G "Conservation", property P6). From
// the settlement contract's perspective a trade brings in
// ExecutedSellAmount of the sell token and owes ExecutedBuyAmount of the
// buy token; an interaction sends AmountIn of TokenIn out and brings
// AmountOut of TokenOut in. The net balance change for every token must
// be exactly zero: a settlement that leaves tokens behind is rejected
// just like one that pays out more than it receives.
func checkConservation(trades []Trade, phases map[Phase][]Interaction) error {
	net := map[order.Address]*big.Int{}
	add := func(token order.Address, delta *big.Int) {
		cur, ok := net[token]
		if !ok {
			cur = new(big.Int)
			net[token] = cur
		}
		cur.Add(cur, delta)
	}

	for _, t := range trades {
		add(t.Sell, t.ExecutedSellAmount)
		add(t.Buy, new(big.Int).Neg(t.ExecutedBuyAmount))
	}
	for _, phase := range []Phase{PhasePre, PhaseIntra, PhasePost} {
		for _, ia := range phases[phase] {
			switch ia.Kind {
			case KindSwap, KindUnwrap:
				add(ia.TokenIn, new(big.Int).Neg(ia.AmountIn))
				add(ia.TokenOut, ia.AmountOut)
			}
		}
	}

	for token, delta := range net {
		if delta.Sign() != 0 {
			return fmt.Errorf("settlement: token %x is not conserved (net %s)", token, delta.String())
		}
	}
	return nil
}
