package postgres

import (
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// amountParam renders a *big.Int as the text Postgres will parse into a
// `numeric` column (spec.md §6 "numeric columns stored as big decimal").
func amountParam(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amountFromString(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errParseAmount(s)
	}
	return v, nil
}

type errParseAmount string

func (e errParseAmount) Error() string { return "orderbook/postgres: cannot parse amount " + string(e) }

func addrBytes(a order.Address) []byte { return a[:] }

func addrFromBytes(b []byte) order.Address {
	var a order.Address
	copy(a[:], b)
	return a
}

func uidBytes(u order.UID) []byte { return u[:] }

func uidFromBytes(b []byte) order.UID {
	var u order.UID
	copy(u[:], b)
	return u
}
