package crypto_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/testutil"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allSchemes = []crypto.SignatureScheme{
	crypto.SchemeEd25519,
	crypto.SchemeSecp256k1,
	crypto.SchemeSecp256r1,
}

func Test_VerifySignature(t *testing.T) {
	txBytes := []byte("transaction-data-to-sign")
	verifier := crypto.NewVerifier()

	for _, scheme := range allSchemes {
		t.Run(scheme.String(), func(t *testing.T) {
			kp := testutil.NewKeyPair(t, scheme)
			sig := kp.SignTransaction(t, txBytes)

			require.NoError(t, verifier.VerifySignature(kp.PublicKey.Base64(), txBytes, sig))

			err := verifier.VerifySignature(kp.PublicKey.Base64(), []byte("other-transaction"), sig)
			assert.True(t, errors.Is(err, types.ErrInvalidSignature))

			other := testutil.NewKeyPair(t, scheme)
			err = verifier.VerifySignature(other.PublicKey.Base64(), txBytes, sig)
			assert.True(t, errors.Is(err, types.ErrInvalidSignature))
		})
	}
}

func Test_VerifySignature_Malformed(t *testing.T) {
	verifier := crypto.NewVerifier()
	kp := testutil.NewKeyPair(t, crypto.SchemeEd25519)

	err := verifier.VerifySignature(kp.PublicKey.Base64(), []byte("tx"), "not base64!")
	assert.True(t, errors.Is(err, types.ErrInvalidSignature))

	short := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0x02})
	err = verifier.VerifySignature(kp.PublicKey.Base64(), []byte("tx"), short)
	assert.True(t, errors.Is(err, types.ErrInvalidSignature))
}

func Test_ParsePublicKey(t *testing.T) {
	for _, scheme := range allSchemes {
		kp := testutil.NewKeyPair(t, scheme)
		parsed, err := crypto.ParsePublicKey(kp.PublicKey.Base64())
		require.NoError(t, err)
		assert.Equal(t, scheme, parsed.Scheme)
		assert.Equal(t, kp.PublicKey.Raw, parsed.Raw)
	}

	_, err := crypto.ParsePublicKey(base64.StdEncoding.EncodeToString([]byte{0x05, 0x01}))
	assert.Error(t, err)

	_, err = crypto.ParsePublicKey(base64.StdEncoding.EncodeToString(append([]byte{0x00}, make([]byte, 31)...)))
	assert.Error(t, err)
}

func Test_AddressFromPublicKey(t *testing.T) {
	kp := testutil.NewKeyPair(t, crypto.SchemeEd25519)

	addr, err := crypto.AddressFromPublicKey(kp.PublicKey.Base64())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 66)
	assert.Equal(t, kp.PublicKey.Address(), addr)

	other := testutil.NewKeyPair(t, crypto.SchemeEd25519)
	assert.NotEqual(t, addr, other.PublicKey.Address())
}

func Test_DecodeTxBytes(t *testing.T) {
	data, err := crypto.DecodeTxBytes(base64.StdEncoding.EncodeToString([]byte("tx")))
	require.NoError(t, err)
	assert.Equal(t, []byte("tx"), data)

	_, err = crypto.DecodeTxBytes("")
	assert.Error(t, err)

	_, err = crypto.DecodeTxBytes("%%%")
	assert.Error(t, err)
}
