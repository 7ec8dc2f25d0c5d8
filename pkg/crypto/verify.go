package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// transactionIntent is the intent prefix (scope, version, app id) for transaction data
var transactionIntent = []byte{0x00, 0x00, 0x00}

// TransactionDigest is the message every signer signs for a transaction
func TransactionDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(transactionIntent)+len(txBytes))
	msg = append(msg, transactionIntent...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

// ISignatureVerifier checks a serialized signature against an expected signer key
type ISignatureVerifier interface {
	VerifySignature(publicKey string, txBytes []byte, signature string) error
}

// Verifier verifies ed25519, secp256k1 and secp256r1 serialized signatures
type Verifier struct{}

// NewVerifier returns a verifier for the single-key schemes
func NewVerifier() *Verifier {
	return &Verifier{}
}

// VerifySignature checks that signature is a valid signature over txBytes made
// by the key publicKey. Both keys are base64 flag-prefixed encodings.
func (v *Verifier) VerifySignature(publicKey string, txBytes []byte, signature string) error {
	expected, err := ParsePublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	sig, err := ParseSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	if !bytes.Equal(sig.PublicKey.Bytes(), expected.Bytes()) {
		return fmt.Errorf("%w: signature was made by %s, expected %s",
			types.ErrInvalidSignature, sig.PublicKey.Base64(), expected.Base64())
	}

	digest := TransactionDigest(txBytes)
	if !verifyRaw(expected, digest[:], sig.Raw) {
		return fmt.Errorf("%w: %s signature does not match transaction", types.ErrInvalidSignature, expected.Scheme)
	}
	return nil
}

func verifyRaw(pk *PublicKey, digest []byte, raw []byte) bool {
	switch pk.Scheme {
	case SchemeEd25519:
		return ed25519.Verify(ed25519.PublicKey(pk.Raw), digest, raw)
	case SchemeSecp256k1:
		hash := sha256.Sum256(digest)
		return gethcrypto.VerifySignature(pk.Raw, hash[:], raw)
	case SchemeSecp256r1:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pk.Raw)
		if x == nil {
			return false
		}
		hash := sha256.Sum256(digest)
		r := new(big.Int).SetBytes(raw[:32])
		s := new(big.Int).SetBytes(raw[32:])
		return ecdsa.Verify(&ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, hash[:], r, s)
	}
	return false
}

// DecodeTxBytes decodes the base64 transaction payload carried on a track
func DecodeTxBytes(txBytes string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return nil, fmt.Errorf("tx_bytes is not valid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tx_bytes cannot be empty")
	}
	return data, nil
}
