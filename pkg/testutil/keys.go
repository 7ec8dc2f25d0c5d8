package testutil

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// KeyPair is a throwaway signing key used to produce real signatures in tests
type KeyPair struct {
	PublicKey *crypto.PublicKey

	ed25519Key ed25519.PrivateKey
	ecdsaKey   *ecdsa.PrivateKey
}

// NewKeyPair generates a key pair for the scheme
func NewKeyPair(t *testing.T, scheme crypto.SignatureScheme) *KeyPair {
	t.Helper()

	switch scheme {
	case crypto.SchemeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		return &KeyPair{
			PublicKey:  &crypto.PublicKey{Scheme: scheme, Raw: pub},
			ed25519Key: priv,
		}
	case crypto.SchemeSecp256k1:
		priv, err := gethcrypto.GenerateKey()
		require.NoError(t, err)
		return &KeyPair{
			PublicKey: &crypto.PublicKey{Scheme: scheme, Raw: gethcrypto.CompressPubkey(&priv.PublicKey)},
			ecdsaKey:  priv,
		}
	case crypto.SchemeSecp256r1:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		return &KeyPair{
			PublicKey: &crypto.PublicKey{Scheme: scheme, Raw: elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)},
			ecdsaKey:  priv,
		}
	}
	t.Fatalf("unsupported scheme %s", scheme)
	return nil
}

// SignTransaction returns the base64 serialized signature over the transaction bytes
func (k *KeyPair) SignTransaction(t *testing.T, txBytes []byte) string {
	t.Helper()

	digest := crypto.TransactionDigest(txBytes)

	var raw []byte
	switch k.PublicKey.Scheme {
	case crypto.SchemeEd25519:
		raw = ed25519.Sign(k.ed25519Key, digest[:])
	case crypto.SchemeSecp256k1:
		hash := sha256.Sum256(digest[:])
		sig, err := gethcrypto.Sign(hash[:], k.ecdsaKey)
		require.NoError(t, err)
		raw = sig[:crypto.SignatureLength] // drop the recovery id
	case crypto.SchemeSecp256r1:
		hash := sha256.Sum256(digest[:])
		r, s, err := ecdsa.Sign(rand.Reader, k.ecdsaKey, hash[:])
		require.NoError(t, err)
		raw = make([]byte, crypto.SignatureLength)
		r.FillBytes(raw[:32])
		s.FillBytes(raw[32:])
	}

	return crypto.SerializeSignature(k.PublicKey, raw)
}
