package trust

import (
	"crypto/ed25519"

	"github.com/colliery-io/cloacina-sub003/internal/crypto"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// VerifyOffline checks a package signature against one explicitly supplied
// public key, bypassing the trust store and any organization's trust chain
// entirely (spec §4.5 "offline single-key verification mode", spec §9.1's
// original_source/ supplement: "bypasses the trust store entirely in favor
// of one explicitly supplied public key"). Returns a *cloaca.VerificationError
// on any failure, matching the same typed taxonomy the online load protocol
// uses in internal/registry.
func VerifyOffline(publicKey ed25519.PublicKey, packageBytes []byte, signature []byte) error {
	if len(signature) == 0 {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeNotSigned, Msg: "no signature supplied"}
	}
	if !crypto.VerifySignature(publicKey, packageBytes, signature) {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeHashMismatch, Msg: "signature does not verify against the supplied public key"}
	}
	return nil
}
