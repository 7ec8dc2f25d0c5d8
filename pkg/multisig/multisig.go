// Package multisig combines member signatures of a weighted multisig group into
// the single signature the chain verifies, and derives the group address.
package multisig

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

/*
Combined signature layout (all integers little endian):

	flag            0x03
	signatures      uleb128(n) || n x (scheme_u8 || raw_sig[64])   in member order
	bitmap          u16, bit i set iff member i signed
	public key      uleb128(m) || m x (scheme_u8 || raw_pk || weight_u8)
	threshold       u16

The multisig address hashes 0x03 || threshold_u16 || m x (scheme_u8 || raw_pk || weight_u8).
*/

// Member is one weighted key of a multisig public key
type Member struct {
	PublicKey *crypto.PublicKey
	Weight    uint8
}

// PublicKey is a group's ordered weighted key list plus its threshold.
// Member order is the group's canonical position order.
type PublicKey struct {
	Members   []Member
	Threshold uint16
}

// NewPublicKey validates and builds a multisig public key
func NewPublicKey(members []Member, threshold uint16) (*PublicKey, error) {
	if len(members) == 0 || len(members) > types.MaxMultisigMembers {
		return nil, fmt.Errorf("multisig must have between 1 and %d members, got %d", types.MaxMultisigMembers, len(members))
	}

	seen := make(map[string]bool, len(members))
	total := 0
	for i, m := range members {
		if m.PublicKey == nil {
			return nil, fmt.Errorf("member %d has no public key", i)
		}
		if m.Weight == 0 {
			return nil, fmt.Errorf("member %d has zero weight", i)
		}
		key := m.PublicKey.Base64()
		if seen[key] {
			return nil, fmt.Errorf("duplicate member public key %s", key)
		}
		seen[key] = true
		total += int(m.Weight)
	}
	if threshold == 0 || int(threshold) > total {
		return nil, fmt.Errorf("threshold %d must be between 1 and total weight %d", threshold, total)
	}

	return &PublicKey{Members: members, Threshold: threshold}, nil
}

// indexOf returns the member position of a base64 public key, or -1
func (pk *PublicKey) indexOf(publicKey string) int {
	for i, m := range pk.Members {
		if m.PublicKey.Base64() == publicKey {
			return i
		}
	}
	return -1
}

func (pk *PublicKey) encodeMembers(buf []byte) []byte {
	for _, m := range pk.Members {
		buf = append(buf, m.PublicKey.Bytes()...)
		buf = append(buf, m.Weight)
	}
	return buf
}

// Bytes encodes the public key section of a combined signature
func (pk *PublicKey) Bytes() []byte {
	buf := binary.AppendUvarint(nil, uint64(len(pk.Members)))
	buf = pk.encodeMembers(buf)
	return binary.LittleEndian.AppendUint16(buf, pk.Threshold)
}

// Address derives the group's chain address
func (pk *PublicKey) Address() string {
	buf := []byte{byte(crypto.SchemeMultisig)}
	buf = binary.LittleEndian.AppendUint16(buf, pk.Threshold)
	buf = pk.encodeMembers(buf)
	return crypto.HashToAddress(buf)
}

// Combine builds the combined signature from member signatures keyed by the
// member's base64 public key. Signatures are serialized single-key signatures.
// The output depends only on the set of signatures, never on map order.
func Combine(pk *PublicKey, signatures map[string]string) ([]byte, error) {
	if pk == nil {
		return nil, fmt.Errorf("multisig public key cannot be nil")
	}

	bySlot := make([][]byte, len(pk.Members))
	mapped := 0
	weight := 0
	for publicKey, serialized := range signatures {
		idx := pk.indexOf(publicKey)
		if idx < 0 {
			continue
		}
		sig, err := crypto.ParseSignature(serialized)
		if err != nil {
			return nil, fmt.Errorf("member %d signature: %w", idx, err)
		}
		if sig.Scheme != pk.Members[idx].PublicKey.Scheme {
			return nil, fmt.Errorf("%w: member %d signed with %s, key is %s",
				types.ErrMemberMismatch, idx, sig.Scheme, pk.Members[idx].PublicKey.Scheme)
		}
		slot := make([]byte, 0, 1+len(sig.Raw))
		slot = append(slot, byte(sig.Scheme))
		bySlot[idx] = append(slot, sig.Raw...)
		mapped++
		weight += int(pk.Members[idx].Weight)
	}

	if mapped != len(signatures) {
		return nil, fmt.Errorf("%w: mapped %d of %d signatures to group members",
			types.ErrMemberMismatch, mapped, len(signatures))
	}
	if weight < int(pk.Threshold) {
		return nil, fmt.Errorf("%w: signed weight %d, threshold %d",
			types.ErrWeightBelowThreshold, weight, pk.Threshold)
	}

	var bitmap uint16
	buf := []byte{byte(crypto.SchemeMultisig)}
	buf = binary.AppendUvarint(buf, uint64(mapped))
	for i, slot := range bySlot {
		if slot == nil {
			continue
		}
		bitmap |= 1 << uint(i)
		buf = append(buf, slot...)
	}
	buf = binary.LittleEndian.AppendUint16(buf, bitmap)
	buf = append(buf, pk.Bytes()...)

	return buf, nil
}

// CombineBase64 is Combine with the artifact encoded for chain submission
func CombineBase64(pk *PublicKey, signatures map[string]string) (string, error) {
	combined, err := Combine(pk, signatures)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(combined), nil
}
