package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxMultisigMembers is the widest group a combined signature bitmap can describe
const MaxMultisigMembers = 10

// AccountRole tags what an account may do
type AccountRole string

const (
	RoleIndividual    AccountRole = "individual"
	RoleMultisigGroup AccountRole = "multisig-group"
	RoleAdmin         AccountRole = "admin"
)

// AccountStatus is the lock state of an account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusLocked AccountStatus = "locked"
)

// MultisigStatus is the attestation state of a multisig group
type MultisigStatus string

const (
	MultisigStatusPendingAttestation MultisigStatus = "pending_attestation"
	MultisigStatusConfirmed          MultisigStatus = "confirmed"
	MultisigStatusDenied             MultisigStatus = "denied"
	MultisigStatusInvalid            MultisigStatus = "invalid"
)

// Account is an identity that can request transactions and, unless it is an
// admin, be named as a signer.
type Account struct {
	Key       string          `json:"key" yaml:"key"`
	UserName  string          `json:"user_name,omitempty" yaml:"user_name"`
	Role      AccountRole     `json:"role" yaml:"role"`
	Status    AccountStatus   `json:"status" yaml:"status"`
	PublicKey string          `json:"public_key,omitempty" yaml:"public_key"` // base64(flag || raw key)
	Address   string          `json:"address,omitempty" yaml:"address"`
	Multisig  *MultisigConfig `json:"multisig,omitempty" yaml:"multisig"`
	CreatedAt time.Time       `json:"created_at" yaml:"-"`
}

// MultisigConfig holds the weighted membership of a multisig-group account
type MultisigConfig struct {
	Members   []MultisigMember `json:"members" yaml:"members"`
	Threshold uint16           `json:"threshold" yaml:"threshold"`
	Status    MultisigStatus   `json:"status" yaml:"status"`
}

// MultisigMember is one weighted seat in a group
type MultisigMember struct {
	AccountKey string `json:"account_key" yaml:"account_key"`
	Weight     uint8  `json:"weight" yaml:"weight"`
	Position   int    `json:"position" yaml:"position"`
}

// IsMultisig reports whether the account is a multisig group
func (a *Account) IsMultisig() bool {
	return a.Role == RoleMultisigGroup
}

// IsConfirmedGroup reports whether the account is a group whose membership is frozen
func (a *Account) IsConfirmedGroup() bool {
	return a.IsMultisig() && a.Multisig != nil && a.Multisig.Status == MultisigStatusConfirmed
}

// OrderedMembers returns the members sorted by canonical position
func (m *MultisigConfig) OrderedMembers() []MultisigMember {
	members := make([]MultisigMember, len(m.Members))
	copy(members, m.Members)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Position < members[j].Position
	})
	return members
}

// TotalWeight sums all member weights
func (m *MultisigConfig) TotalWeight() int {
	total := 0
	for _, member := range m.Members {
		total += int(member.Weight)
	}
	return total
}

// Validate checks the structural rules of an account record
// AccountKeySeparator joins account keys into store index keys, so it cannot
// appear inside one
const AccountKeySeparator = ":"

func (a *Account) Validate() error {
	if a.Key == "" {
		return fmt.Errorf("account key cannot be empty")
	}
	if strings.Contains(a.Key, AccountKeySeparator) {
		return fmt.Errorf("account key %q cannot contain %q", a.Key, AccountKeySeparator)
	}
	switch a.Status {
	case AccountStatusActive, AccountStatusLocked:
	default:
		return fmt.Errorf("account %s: unknown status %q", a.Key, a.Status)
	}

	switch a.Role {
	case RoleIndividual, RoleAdmin:
		if a.Multisig != nil {
			return fmt.Errorf("account %s: only multisig groups carry a member list", a.Key)
		}
		return nil
	case RoleMultisigGroup:
		if a.Multisig == nil {
			return fmt.Errorf("account %s: multisig group has no member list", a.Key)
		}
		return a.Multisig.validate(a.Key)
	default:
		return fmt.Errorf("account %s: unknown role %q", a.Key, a.Role)
	}
}

func (m *MultisigConfig) validate(groupKey string) error {
	if len(m.Members) == 0 || len(m.Members) > MaxMultisigMembers {
		return fmt.Errorf("group %s: member count must be between 1 and %d, got %d", groupKey, MaxMultisigMembers, len(m.Members))
	}
	switch m.Status {
	case MultisigStatusPendingAttestation, MultisigStatusConfirmed, MultisigStatusDenied, MultisigStatusInvalid:
	default:
		return fmt.Errorf("group %s: unknown multisig status %q", groupKey, m.Status)
	}

	positions := make(map[int]bool, len(m.Members))
	keys := make(map[string]bool, len(m.Members))
	for _, member := range m.Members {
		if member.AccountKey == "" {
			return fmt.Errorf("group %s: member account key cannot be empty", groupKey)
		}
		if member.AccountKey == groupKey {
			return fmt.Errorf("group %s: a group cannot be its own member", groupKey)
		}
		if member.Weight == 0 {
			return fmt.Errorf("group %s: member %s has zero weight", groupKey, member.AccountKey)
		}
		if keys[member.AccountKey] {
			return fmt.Errorf("group %s: duplicate member %s", groupKey, member.AccountKey)
		}
		if positions[member.Position] {
			return fmt.Errorf("group %s: duplicate member position %d", groupKey, member.Position)
		}
		keys[member.AccountKey] = true
		positions[member.Position] = true
	}

	if m.Threshold == 0 || int(m.Threshold) > m.TotalWeight() {
		return fmt.Errorf("group %s: threshold %d must be between 1 and total weight %d", groupKey, m.Threshold, m.TotalWeight())
	}
	return nil
}

// CheckGroupUpdate rejects an update that would change the membership or
// threshold of a group that is already confirmed.
func CheckGroupUpdate(existing, updated *Account) error {
	if existing == nil || !existing.IsConfirmedGroup() {
		return nil
	}
	if !updated.IsMultisig() || updated.Multisig == nil {
		return fmt.Errorf("%w: group %s cannot change role", ErrImmutableGroup, existing.Key)
	}
	if existing.Multisig.Threshold != updated.Multisig.Threshold {
		return fmt.Errorf("%w: group %s threshold is frozen", ErrImmutableGroup, existing.Key)
	}

	before := existing.Multisig.OrderedMembers()
	after := updated.Multisig.OrderedMembers()
	if len(before) != len(after) {
		return fmt.Errorf("%w: group %s membership is frozen", ErrImmutableGroup, existing.Key)
	}
	for i := range before {
		if before[i] != after[i] {
			return fmt.Errorf("%w: group %s membership is frozen", ErrImmutableGroup, existing.Key)
		}
	}
	return nil
}

// SignatureStatus is the aggregate state of a SignatureTrack
type SignatureStatus string

const (
	StatusPendingSigners     SignatureStatus = "pending_signers"
	StatusPartiallyCompleted SignatureStatus = "partially_completed"
	StatusDenied             SignatureStatus = "denied"
	StatusSigned             SignatureStatus = "signed"
	StatusSignedAndExecuted  SignatureStatus = "signed_and_executed"
)

// IsResolved reports whether signer responses can no longer change the status
func (s SignatureStatus) IsResolved() bool {
	switch s {
	case StatusDenied, StatusSigned, StatusSignedAndExecuted:
		return true
	}
	return false
}

func (s SignatureStatus) String() string {
	return string(s)
}

// SignerStatus is the state of one signer's obligation
type SignerStatus string

const (
	SignerPending SignerStatus = "pending"
	SignerSigned  SignerStatus = "signed"
	SignerDenied  SignerStatus = "denied"
)

// SigningRole is the transaction role a signature authorizes
type SigningRole string

const (
	RoleSender  SigningRole = "sender"
	RoleSponsor SigningRole = "sponsor"
)

// ParseSigningRole accepts both the short and the tx_ prefixed role names
func ParseSigningRole(s string) (SigningRole, error) {
	switch s {
	case "sender", "tx_sender":
		return RoleSender, nil
	case "sponsor", "tx_sponsor":
		return RoleSponsor, nil
	}
	return "", fmt.Errorf("unknown signing role %q", s)
}

// SignatureTrack is one transaction awaiting signatures, together with the
// requests it owns.
type SignatureTrack struct {
	ID                  string              `json:"id"`
	RequestorKey        string              `json:"requestor_key"`
	TxBytes             string              `json:"tx_bytes"`
	Sender              *SignerRef          `json:"sender,omitempty"`
	Sponsor             *SignerRef          `json:"sponsor,omitempty"`
	Status              SignatureStatus     `json:"status"`
	TransactionPassed   *bool               `json:"transaction_passed,omitempty"`
	TransactionResponse string              `json:"transaction_response,omitempty"`
	Requests            []*SignatureRequest `json:"requests"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// SignatureRequest is a single signer's obligation within a track
type SignatureRequest struct {
	ID              string       `json:"id"`
	TrackID         string       `json:"track_id"`
	SignerKey       string       `json:"signer_key"`
	SignerPublicKey string       `json:"signer_public_key"`
	Role            SigningRole  `json:"role"`
	Status          SignerStatus `json:"status"`
	Signature       string       `json:"signature,omitempty"`
	DenialCause     string       `json:"denial_cause,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
}

// Request finds an owned request by id
func (t *SignatureTrack) Request(requestID string) *SignatureRequest {
	for _, r := range t.Requests {
		if r.ID == requestID {
			return r
		}
	}
	return nil
}

// RequestsFor returns the owned requests carrying the given role, in fan-out order
func (t *SignatureTrack) RequestsFor(role SigningRole) []*SignatureRequest {
	var out []*SignatureRequest
	for _, r := range t.Requests {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// HasSigner reports whether the account is named on any request of the track
func (t *SignatureTrack) HasSigner(accountKey string) bool {
	for _, r := range t.Requests {
		if r.SignerKey == accountKey {
			return true
		}
	}
	return false
}

// SignerKeys returns the distinct signer account keys in fan-out order
func (t *SignatureTrack) SignerKeys() []string {
	seen := make(map[string]bool, len(t.Requests))
	keys := make([]string, 0, len(t.Requests))
	for _, r := range t.Requests {
		if seen[r.SignerKey] {
			continue
		}
		seen[r.SignerKey] = true
		keys = append(keys, r.SignerKey)
	}
	return keys
}

// Approve marks a pending request signed with the given serialized signature
func (r *SignatureRequest) Approve(signature string, at time.Time) error {
	if r.Status != SignerPending {
		return fmt.Errorf("%w: request %s is %s", ErrRequestResolved, r.ID, r.Status)
	}
	if signature == "" {
		return fmt.Errorf("%w: request %s", ErrMissingSignature, r.ID)
	}
	r.Status = SignerSigned
	r.Signature = signature
	r.ResolvedAt = &at
	return nil
}

// Deny marks a pending request denied
func (r *SignatureRequest) Deny(cause string, at time.Time) error {
	if r.Status != SignerPending {
		return fmt.Errorf("%w: request %s is %s", ErrRequestResolved, r.ID, r.Status)
	}
	r.Status = SignerDenied
	r.Signature = ""
	r.DenialCause = cause
	r.ResolvedAt = &at
	return nil
}
