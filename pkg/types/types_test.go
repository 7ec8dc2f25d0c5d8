package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGroup(status MultisigStatus) *Account {
	return &Account{
		Key:    "group-1",
		Role:   RoleMultisigGroup,
		Status: AccountStatusActive,
		Multisig: &MultisigConfig{
			Members: []MultisigMember{
				{AccountKey: "b", Weight: 1, Position: 1},
				{AccountKey: "a", Weight: 1, Position: 0},
				{AccountKey: "c", Weight: 2, Position: 2},
			},
			Threshold: 2,
			Status:    status,
		},
	}
}

func TestSignerRef_JSON(t *testing.T) {
	t.Run("individual is a bare string", func(t *testing.T) {
		var signers Signers
		require.NoError(t, json.Unmarshal([]byte(`{"sender":"acct-1"}`), &signers))
		require.NotNil(t, signers.Sender)
		assert.Equal(t, "acct-1", signers.Sender.AccountKey)
		assert.False(t, signers.Sender.Multisig)
		assert.Nil(t, signers.Sponsor)

		data, err := json.Marshal(signers)
		require.NoError(t, err)
		assert.JSONEq(t, `{"sender":"acct-1"}`, string(data))
	})

	t.Run("group is an object", func(t *testing.T) {
		var signers Signers
		require.NoError(t, json.Unmarshal([]byte(`{"sponsor":{"msig_account":"g","msig_signers":["a","b"]}}`), &signers))
		require.NotNil(t, signers.Sponsor)
		assert.True(t, signers.Sponsor.Multisig)
		assert.Equal(t, "g", signers.Sponsor.AccountKey)
		assert.Equal(t, []string{"a", "b"}, signers.Sponsor.Members)
	})

	t.Run("group without account is rejected", func(t *testing.T) {
		var ref SignerRef
		assert.Error(t, json.Unmarshal([]byte(`{"msig_signers":["a"]}`), &ref))
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		var ref SignerRef
		assert.Error(t, json.Unmarshal([]byte(`""`), &ref))
	})
}

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Account)
		wantErr bool
	}{
		{name: "valid group", mutate: func(a *Account) {}},
		{name: "threshold above total weight", mutate: func(a *Account) { a.Multisig.Threshold = 5 }, wantErr: true},
		{name: "zero threshold", mutate: func(a *Account) { a.Multisig.Threshold = 0 }, wantErr: true},
		{name: "duplicate position", mutate: func(a *Account) { a.Multisig.Members[0].Position = 0 }, wantErr: true},
		{name: "duplicate member", mutate: func(a *Account) { a.Multisig.Members[0].AccountKey = "a" }, wantErr: true},
		{name: "zero weight", mutate: func(a *Account) { a.Multisig.Members[2].Weight = 0 }, wantErr: true},
		{name: "self member", mutate: func(a *Account) { a.Multisig.Members[0].AccountKey = "group-1" }, wantErr: true},
		{name: "individual with members", mutate: func(a *Account) { a.Role = RoleIndividual }, wantErr: true},
		{name: "unknown role", mutate: func(a *Account) { a.Role = "owner" }, wantErr: true},
		{name: "separator in key", mutate: func(a *Account) { a.Key = "group:1" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testGroup(MultisigStatusConfirmed)
			tt.mutate(account)
			err := account.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMultisigConfig_OrderedMembers(t *testing.T) {
	group := testGroup(MultisigStatusConfirmed)
	ordered := group.Multisig.OrderedMembers()

	require.Len(t, ordered, 3)
	assert.Equal(t, "a", ordered[0].AccountKey)
	assert.Equal(t, "b", ordered[1].AccountKey)
	assert.Equal(t, "c", ordered[2].AccountKey)
	// the stored order is untouched
	assert.Equal(t, "b", group.Multisig.Members[0].AccountKey)
}

func TestCheckGroupUpdate(t *testing.T) {
	t.Run("pending group may change", func(t *testing.T) {
		existing := testGroup(MultisigStatusPendingAttestation)
		updated := existing.Clone()
		updated.Multisig.Threshold = 3
		assert.NoError(t, CheckGroupUpdate(existing, updated))
	})

	t.Run("confirmed group keeps threshold", func(t *testing.T) {
		existing := testGroup(MultisigStatusConfirmed)
		updated := existing.Clone()
		updated.Multisig.Threshold = 3
		assert.True(t, errors.Is(CheckGroupUpdate(existing, updated), ErrImmutableGroup))
	})

	t.Run("confirmed group keeps weights", func(t *testing.T) {
		existing := testGroup(MultisigStatusConfirmed)
		updated := existing.Clone()
		updated.Multisig.Members[0].Weight = 4
		assert.True(t, errors.Is(CheckGroupUpdate(existing, updated), ErrImmutableGroup))
	})

	t.Run("confirmed group may be relabelled", func(t *testing.T) {
		existing := testGroup(MultisigStatusConfirmed)
		updated := existing.Clone()
		updated.UserName = "treasury"
		updated.Multisig.Members[0], updated.Multisig.Members[1] = updated.Multisig.Members[1], updated.Multisig.Members[0]
		assert.NoError(t, CheckGroupUpdate(existing, updated))
	})
}

func TestSignatureRequest_ResolvesOnce(t *testing.T) {
	now := time.Now()

	req := &SignatureRequest{ID: "r1", Status: SignerPending}
	require.ErrorIs(t, req.Approve("", now), ErrMissingSignature)
	require.Equal(t, SignerPending, req.Status)

	require.NoError(t, req.Approve("c2lnbmF0dXJl", now))
	assert.Equal(t, SignerSigned, req.Status)
	assert.Equal(t, "c2lnbmF0dXJl", req.Signature)

	assert.ErrorIs(t, req.Deny("changed my mind", now), ErrRequestResolved)
	assert.ErrorIs(t, req.Approve("other", now), ErrRequestResolved)
	assert.Equal(t, "c2lnbmF0dXJl", req.Signature)

	denied := &SignatureRequest{ID: "r2", Status: SignerPending}
	require.NoError(t, denied.Deny("no", now))
	assert.Equal(t, SignerDenied, denied.Status)
	assert.Empty(t, denied.Signature)
}

func TestSignRequestFilter_Matches(t *testing.T) {
	pendingSender := &SignatureRequest{Role: RoleSender, Status: SignerPending}
	signedSponsor := &SignatureRequest{Role: RoleSponsor, Status: SignerSigned}

	var all *SignRequestFilter
	assert.True(t, all.Matches(pendingSender))

	onlySponsor := &SignRequestFilter{SigningAs: RoleSponsor}
	assert.False(t, onlySponsor.Matches(pendingSender))
	assert.True(t, onlySponsor.Matches(signedSponsor))

	onlyPending := &SignRequestFilter{Pending: true}
	assert.True(t, onlyPending.Matches(pendingSender))
	assert.False(t, onlyPending.Matches(signedSponsor))
}

func TestSignatureTrack_Clone(t *testing.T) {
	passed := true
	track := &SignatureTrack{
		ID:                "t1",
		Sender:            MultisigGroup("g", "a"),
		TransactionPassed: &passed,
		Requests:          []*SignatureRequest{{ID: "r1", Status: SignerPending}},
	}

	clone := track.Clone()
	clone.Requests[0].Status = SignerSigned
	clone.Sender.Members[0] = "z"
	*clone.TransactionPassed = false

	assert.Equal(t, SignerPending, track.Requests[0].Status)
	assert.Equal(t, "a", track.Sender.Members[0])
	assert.True(t, *track.TransactionPassed)
}
