package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SignerRef names who signs for a transaction role: either a single account
// or a multisig group with an optional subset of its members.
//
// On the wire an individual is a bare string and a group is an object:
//
//	"acct-1"
//	{"msig_account": "group-1", "msig_signers": ["acct-1", "acct-2"]}
type SignerRef struct {
	AccountKey string
	Multisig   bool
	Members    []string
}

// Individual builds a reference to a single account
func Individual(accountKey string) *SignerRef {
	return &SignerRef{AccountKey: accountKey}
}

// MultisigGroup builds a reference to a group, optionally limited to a subset of members
func MultisigGroup(groupKey string, members ...string) *SignerRef {
	return &SignerRef{AccountKey: groupKey, Multisig: true, Members: members}
}

type multisigRefJSON struct {
	Account string   `json:"msig_account"`
	Signers []string `json:"msig_signers,omitempty"`
}

func (s SignerRef) MarshalJSON() ([]byte, error) {
	if !s.Multisig {
		return json.Marshal(s.AccountKey)
	}
	return json.Marshal(multisigRefJSON{Account: s.AccountKey, Signers: s.Members})
}

func (s *SignerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("signer account key cannot be empty")
		}
		*s = SignerRef{AccountKey: key}
		return nil
	}

	var ref multisigRefJSON
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("signer must be an account key or a multisig reference: %w", err)
	}
	if ref.Account == "" {
		return fmt.Errorf("msig_account is required")
	}
	*s = SignerRef{AccountKey: ref.Account, Multisig: true, Members: ref.Signers}
	return nil
}

// Signers is the optional sender/sponsor section of a transaction submission
type Signers struct {
	Sender  *SignerRef `json:"sender,omitempty"`
	Sponsor *SignerRef `json:"sponsor,omitempty"`
}

// TransactionRequest is the body of a transaction submission
type TransactionRequest struct {
	TxBytes string   `json:"tx_bytes"`
	Signers *Signers `json:"signers,omitempty"`
}

// TransactionResponse reports the track created for a submission
type TransactionResponse struct {
	TrackID        string          `json:"track_id"`
	Status         SignatureStatus `json:"status"`
	AccountsPosted []string        `json:"accounts_posted"`
}

// SigningOutcome is a signer's decision on one request
type SigningOutcome struct {
	Approved    bool   `json:"approved"`
	Signature   string `json:"signature,omitempty"`
	DenialCause string `json:"denial_cause,omitempty"`
}

// SigningResponse is the body of a signer's answer to a request
type SigningResponse struct {
	RequestID string          `json:"request_id"`
	Outcome   *SigningOutcome `json:"outcome"`
}

// SignatureStatusResponse is returned to a signer after their answer is applied
type SignatureStatusResponse struct {
	SignatureResponse   SignatureStatus `json:"signature_response"`
	Rejected            bool            `json:"rejected,omitempty"`
	TransactionPassed   *bool           `json:"transaction_passed,omitempty"`
	TransactionResponse string          `json:"transaction_response,omitempty"`
}

// SignRequestFilter narrows a signer's request listing. No status flag set
// means every status.
type SignRequestFilter struct {
	SigningAs SigningRole
	Pending   bool
	Signed    bool
	Denied    bool
}

// Matches reports whether a request passes the filter
func (f *SignRequestFilter) Matches(r *SignatureRequest) bool {
	if f == nil {
		return true
	}
	if f.SigningAs != "" && r.Role != f.SigningAs {
		return false
	}
	if !f.Pending && !f.Signed && !f.Denied {
		return true
	}
	switch r.Status {
	case SignerPending:
		return f.Pending
	case SignerSigned:
		return f.Signed
	case SignerDenied:
		return f.Denied
	}
	return false
}

// PendingSignatureRequest is a request listed for its signer, together with
// the bytes to be signed.
type PendingSignatureRequest struct {
	*SignatureRequest
	TxBytes     string          `json:"tx_bytes"`
	TrackStatus SignatureStatus `json:"track_status"`
	Requestor   string          `json:"requestor_key"`
}

// SignatureRequestsResponse lists a signer's requests
type SignatureRequestsResponse struct {
	Requests []*PendingSignatureRequest `json:"requests"`
}

// TracksResponse lists tracks
type TracksResponse struct {
	Tracks []*SignatureTrack `json:"tracks"`
}

// ErrorResponse is the JSON body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}
