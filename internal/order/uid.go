package order

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveUID computes the order UID (spec.md §3, property P1): 56 bytes of
// orderStructHash (itself a keccak digest, copied as-is) ∥ owner ∥
// validTo (big-endian u32). Signature
// cryptography itself (EIP-712 struct hashing, signature recovery) is an
// external collaborator per spec.md §1; DeriveUID takes the already
// computed struct hash as input.
func DeriveUID(structHash [32]byte, owner Address, validTo uint32) UID {
	var uid UID
	copy(uid[0:32], structHash[:])
	copy(uid[32:52], owner[:])
	binary.BigEndian.PutUint32(uid[52:56], validTo)
	return uid
}

// Verify checks that uid was derived from structHash, owner and validTo,
// i.e. that the three components embedded in the UID are internally
// consistent (P1: identical signed payloads produce identical UIDs, so
// the converse must also hold for ingestion to reject forged UIDs).
func Verify(uid UID, structHash [32]byte, owner Address, validTo uint32) bool {
	return uid == DeriveUID(structHash, owner, validTo)
}

// structHashOf computes keccak256 over a raw EIP-712 encoded order
// payload, for callers without a precomputed struct hash. Nothing in
// this repository calls it.
func structHashOf(encoded []byte) [32]byte {
	return [32]byte(crypto.Keccak256(encoded))
}
