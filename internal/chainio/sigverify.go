package chainio

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowdex/batchcore/internal/order"
)

// SigVerifier implements validation.SignatureVerifier for the two
// signing schemes that resolve to a plain secp256k1 signature
// (SchemeEIP712, SchemeEthSign). Pre-sign orders are checked by the
// validator against pre-signature events and never reach here; EIP-1271
// orders do reach here and are handled like SchemeEIP712, as a 65-byte
// ECDSA signature over the digest (no contract call is made).
//
// The digest recovered against is keccak256(order.UID[:]) rather than
// the full GPv2Order EIP-712 struct hash: the typed-data domain
// separator and field typehash are contract-deployment constants this
// package does not model.
type SigVerifier struct{}

func (SigVerifier) Recover(o *order.Order) (order.Address, error) {
	digest := crypto.Keccak256(o.UID[:])
	if o.SigningScheme == order.SchemeEthSign {
		digest = crypto.Keccak256(accounts.TextHash(digest))
	}
	if len(o.Signature) != 65 {
		return order.Address{}, fmt.Errorf("chainio: signature must be 65 bytes, got %d", len(o.Signature))
	}
	pub, err := crypto.SigToPub(digest, o.Signature)
	if err != nil {
		return order.Address{}, fmt.Errorf("chainio: recovering signer: %w", err)
	}
	return toOrderAddr(crypto.PubkeyToAddress(*pub)), nil
}
