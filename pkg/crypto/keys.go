package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SignatureScheme is the one-byte flag that prefixes serialized keys and signatures
type SignatureScheme byte

const (
	SchemeEd25519   SignatureScheme = 0x00
	SchemeSecp256k1 SignatureScheme = 0x01
	SchemeSecp256r1 SignatureScheme = 0x02
	SchemeMultisig  SignatureScheme = 0x03
)

// SignatureLength is the raw signature length for every single-key scheme
const SignatureLength = 64

func (s SignatureScheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeSecp256k1:
		return "secp256k1"
	case SchemeSecp256r1:
		return "secp256r1"
	case SchemeMultisig:
		return "multisig"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(s))
}

// PublicKeyLength returns the raw key length for the scheme, or 0 if it has none
func (s SignatureScheme) PublicKeyLength() int {
	switch s {
	case SchemeEd25519:
		return 32
	case SchemeSecp256k1, SchemeSecp256r1:
		return 33
	}
	return 0
}

// PublicKey is a single-key public key tagged with its scheme
type PublicKey struct {
	Scheme SignatureScheme
	Raw    []byte
}

// ParsePublicKey decodes base64(flag || raw key)
func ParsePublicKey(encoded string) (*PublicKey, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("public key is not valid base64: %w", err)
	}
	return PublicKeyFromBytes(data)
}

// PublicKeyFromBytes decodes flag || raw key
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key is empty")
	}
	scheme := SignatureScheme(data[0])
	expected := scheme.PublicKeyLength()
	if expected == 0 {
		return nil, fmt.Errorf("unsupported public key scheme %s", scheme)
	}
	if len(data)-1 != expected {
		return nil, fmt.Errorf("%s public key must be %d bytes, got %d", scheme, expected, len(data)-1)
	}
	return &PublicKey{Scheme: scheme, Raw: append([]byte(nil), data[1:]...)}, nil
}

// Bytes returns flag || raw key
func (p *PublicKey) Bytes() []byte {
	out := make([]byte, 0, len(p.Raw)+1)
	out = append(out, byte(p.Scheme))
	return append(out, p.Raw...)
}

// Base64 returns the canonical text form of the key
func (p *PublicKey) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Bytes())
}

// Address derives the chain address owned by the key
func (p *PublicKey) Address() string {
	return HashToAddress(p.Bytes())
}

// AddressFromPublicKey derives the chain address of a base64 encoded public key
func AddressFromPublicKey(encoded string) (string, error) {
	pk, err := ParsePublicKey(encoded)
	if err != nil {
		return "", err
	}
	return pk.Address(), nil
}

// HashToAddress hashes address preimage bytes into a 0x prefixed address
func HashToAddress(preimage []byte) string {
	sum := blake2b.Sum256(preimage)
	return "0x" + hex.EncodeToString(sum[:])
}

// Signature is a decoded serialized signature: flag || signature || public key
type Signature struct {
	Scheme    SignatureScheme
	Raw       []byte
	PublicKey *PublicKey
}

// ParseSignature decodes a base64 serialized single-key signature
func ParseSignature(encoded string) (*Signature, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("signature is not valid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("signature is empty")
	}

	scheme := SignatureScheme(data[0])
	keyLen := scheme.PublicKeyLength()
	if keyLen == 0 {
		return nil, fmt.Errorf("unsupported signature scheme %s", scheme)
	}
	if len(data) != 1+SignatureLength+keyLen {
		return nil, fmt.Errorf("%s signature must be %d bytes, got %d", scheme, 1+SignatureLength+keyLen, len(data))
	}

	pk, err := PublicKeyFromBytes(append([]byte{byte(scheme)}, data[1+SignatureLength:]...))
	if err != nil {
		return nil, err
	}
	return &Signature{
		Scheme:    scheme,
		Raw:       append([]byte(nil), data[1:1+SignatureLength]...),
		PublicKey: pk,
	}, nil
}

// SerializeSignature encodes flag || signature || public key as base64
func SerializeSignature(pk *PublicKey, raw []byte) string {
	out := make([]byte, 0, 1+len(raw)+len(pk.Raw))
	out = append(out, byte(pk.Scheme))
	out = append(out, raw...)
	out = append(out, pk.Raw...)
	return base64.StdEncoding.EncodeToString(out)
}
