// Package directory looks up accounts and multisig groups and decides which of
// them may act as transaction signers.
package directory

import (
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/multisig"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"go.uber.org/zap"
)

// Directory resolves account references against the account store
type Directory struct {
	store  persistence.ICosignerPersistence
	logger *zap.Logger
}

// NewDirectory creates a directory over the given store
func NewDirectory(store persistence.ICosignerPersistence, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

func (d *Directory) load(key string) (*types.Account, error) {
	account, err := d.store.LoadAccount(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", key, err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrAccountNotFound, key)
	}
	return account, nil
}

// Resolve returns an account that may sign on its own.
// Admins, groups, locked accounts and individuals without key material are rejected.
func (d *Directory) Resolve(key string) (*types.Account, error) {
	account, err := d.load(key)
	if err != nil {
		return nil, err
	}

	switch account.Role {
	case types.RoleIndividual:
	case types.RoleAdmin:
		return nil, fmt.Errorf("%w: %s is an admin account", types.ErrInvalidAccountRole, key)
	case types.RoleMultisigGroup:
		return nil, fmt.Errorf("%w: %s is a multisig group, not an individual signer", types.ErrInvalidAccountRole, key)
	default:
		return nil, fmt.Errorf("%w: %s has role %q", types.ErrInvalidAccountRole, key, account.Role)
	}

	if account.PublicKey == "" || account.Address == "" {
		return nil, fmt.Errorf("%w: %s has no public key or address", types.ErrInvalidAccountRole, key)
	}
	if account.Status == types.AccountStatusLocked {
		return nil, fmt.Errorf("%w: %s", types.ErrAccountLocked, key)
	}
	return account, nil
}

// ResolveMultisig returns a confirmed group and the members that must sign for it,
// in canonical member order. An empty subset means every member. A non-empty
// subset must name distinct members whose weights reach the group threshold.
func (d *Directory) ResolveMultisig(groupKey string, subset []string) (*types.Account, []*types.Account, error) {
	group, err := d.load(groupKey)
	if err != nil {
		return nil, nil, err
	}
	if !group.IsMultisig() || group.Multisig == nil {
		return nil, nil, fmt.Errorf("%w: %s is not a multisig group", types.ErrInvalidAccountRole, groupKey)
	}
	if group.Multisig.Status != types.MultisigStatusConfirmed {
		return nil, nil, fmt.Errorf("%w: %s is %s", types.ErrMultisigNotConfirmed, groupKey, group.Multisig.Status)
	}

	ordered := group.Multisig.OrderedMembers()

	required := ordered
	if len(subset) > 0 {
		weights := make(map[string]uint8, len(ordered))
		for _, m := range ordered {
			weights[m.AccountKey] = m.Weight
		}

		named := make(map[string]bool, len(subset))
		weight := 0
		for _, key := range subset {
			w, ok := weights[key]
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s is not a member of %s", types.ErrInvalidMultisigMember, key, groupKey)
			}
			if named[key] {
				return nil, nil, fmt.Errorf("%w: %s named twice for %s", types.ErrInvalidMultisigMember, key, groupKey)
			}
			named[key] = true
			weight += int(w)
		}
		if weight < int(group.Multisig.Threshold) {
			return nil, nil, fmt.Errorf("%w: %s needs %d, named members weigh %d",
				types.ErrWeightBelowThreshold, groupKey, group.Multisig.Threshold, weight)
		}

		required = make([]types.MultisigMember, 0, len(subset))
		for _, m := range ordered {
			if named[m.AccountKey] {
				required = append(required, m)
			}
		}
	}

	signers := make([]*types.Account, 0, len(required))
	for _, m := range required {
		member, err := d.Resolve(m.AccountKey)
		if err != nil {
			return nil, nil, fmt.Errorf("group %s member: %w", groupKey, err)
		}
		signers = append(signers, member)
	}

	d.logger.Sugar().Debugw("Resolved multisig signers",
		"group", groupKey,
		"required", len(signers),
		"members", len(ordered),
	)
	return group, signers, nil
}

// MultisigPublicKey builds the weighted key list of a group from its members' public keys
func (d *Directory) MultisigPublicKey(group *types.Account) (*multisig.PublicKey, error) {
	if group == nil || !group.IsMultisig() || group.Multisig == nil {
		return nil, fmt.Errorf("%w: not a multisig group", types.ErrInvalidAccountRole)
	}

	ordered := group.Multisig.OrderedMembers()
	members := make([]multisig.Member, 0, len(ordered))
	for _, m := range ordered {
		account, err := d.load(m.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("group %s member: %w", group.Key, err)
		}
		pk, err := crypto.ParsePublicKey(account.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("group %s member %s: %w", group.Key, m.AccountKey, err)
		}
		members = append(members, multisig.Member{PublicKey: pk, Weight: m.Weight})
	}

	return multisig.NewPublicKey(members, group.Multisig.Threshold)
}

// MultisigPublicKeyFor loads a group by key and builds its weighted key list
func (d *Directory) MultisigPublicKeyFor(groupKey string) (*multisig.PublicKey, error) {
	group, err := d.load(groupKey)
	if err != nil {
		return nil, err
	}
	return d.MultisigPublicKey(group)
}
