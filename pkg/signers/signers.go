// Package signers turns the sender and sponsor of a transaction request into
// the flat list of accounts that must each sign.
package signers

import (
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// IDirectory is the subset of the account directory signer resolution needs
type IDirectory interface {
	Resolve(key string) (*types.Account, error)
	ResolveMultisig(groupKey string, subset []string) (*types.Account, []*types.Account, error)
}

// Signer is one account that must sign for a role
type Signer struct {
	Role      types.SigningRole
	Account   *types.Account
	PublicKey string
}

// Result is the outcome of resolution. Sender and Sponsor are the references
// recorded on the track; Sender is nil when it defaulted to the requestor.
type Result struct {
	Sender  *types.SignerRef
	Sponsor *types.SignerRef
	Signers []Signer
}

// AccountKeys lists the signer account keys in fan-out order
func (r *Result) AccountKeys() []string {
	keys := make([]string, 0, len(r.Signers))
	for _, s := range r.Signers {
		keys = append(keys, s.Account.Key)
	}
	return keys
}

// Resolver resolves signer references through the directory
type Resolver struct {
	directory IDirectory
}

// NewResolver creates a resolver
func NewResolver(directory IDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve expands the requested roles into concrete signers. Without a sender
// the requestor signs as sender, also when only a sponsor is named. Nothing is
// written here, so any error leaves no trace.
func (r *Resolver) Resolve(requestorKey string, payload *types.Signers) (*Result, error) {
	requestor, err := r.directory.Resolve(requestorKey)
	if err != nil {
		return nil, fmt.Errorf("requestor: %w", err)
	}

	var sender, sponsor *types.SignerRef
	if payload != nil {
		sender, sponsor = payload.Sender, payload.Sponsor
	}

	result := &Result{Sender: sender, Sponsor: sponsor}

	if sender == nil {
		result.Signers = append(result.Signers, signerFor(types.RoleSender, requestor))
	} else {
		resolved, err := r.resolveRef(types.RoleSender, sender)
		if err != nil {
			return nil, fmt.Errorf("sender: %w", err)
		}
		result.Signers = append(result.Signers, resolved...)
	}

	if sponsor != nil {
		resolved, err := r.resolveRef(types.RoleSponsor, sponsor)
		if err != nil {
			return nil, fmt.Errorf("sponsor: %w", err)
		}
		result.Signers = append(result.Signers, resolved...)
	}

	return result, nil
}

func (r *Resolver) resolveRef(role types.SigningRole, ref *types.SignerRef) ([]Signer, error) {
	if !ref.Multisig {
		account, err := r.directory.Resolve(ref.AccountKey)
		if err != nil {
			return nil, err
		}
		return []Signer{signerFor(role, account)}, nil
	}

	_, members, err := r.directory.ResolveMultisig(ref.AccountKey, ref.Members)
	if err != nil {
		return nil, err
	}
	out := make([]Signer, 0, len(members))
	for _, m := range members {
		out = append(out, signerFor(role, m))
	}
	return out, nil
}

func signerFor(role types.SigningRole, account *types.Account) Signer {
	return Signer{Role: role, Account: account, PublicKey: account.PublicKey}
}
