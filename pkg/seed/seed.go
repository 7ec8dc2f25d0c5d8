// Package seed imports accounts and multisig groups from a YAML file.
package seed

import (
	"fmt"
	"io"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

/*
File layout:

	accounts:
	  - key: alice
	    user_name: Alice
	    public_key: AC3x...   # base64(flag || raw key); the address is derived
	  - key: ops
	    role: admin
	groups:
	  - key: treasury
	    threshold: 2
	    status: confirmed     # defaults to pending_attestation
	    members:
	      - account: alice
	        weight: 1
*/

// File is a parsed seed file
type File struct {
	Accounts []AccountEntry `yaml:"accounts"`
	Groups   []GroupEntry   `yaml:"groups"`
}

// AccountEntry is an individual or admin account
type AccountEntry struct {
	Key       string              `yaml:"key"`
	UserName  string              `yaml:"user_name"`
	Role      types.AccountRole   `yaml:"role"`
	PublicKey string              `yaml:"public_key"`
	Status    types.AccountStatus `yaml:"status"`
}

// GroupEntry is a multisig group. Member positions follow list order.
type GroupEntry struct {
	Key       string               `yaml:"key"`
	UserName  string               `yaml:"user_name"`
	Threshold uint16               `yaml:"threshold"`
	Status    types.MultisigStatus `yaml:"status"`
	Members   []MemberEntry        `yaml:"members"`
}

// MemberEntry is one weighted group seat
type MemberEntry struct {
	Account string `yaml:"account"`
	Weight  uint8  `yaml:"weight"`
}

// Summary counts what an import wrote
type Summary struct {
	Accounts int
	Groups   int
}

// Parse decodes a seed file, rejecting unknown fields
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Importer writes seed entries into a store
type Importer struct {
	store     persistence.ICosignerPersistence
	directory *directory.Directory
	logger    *zap.Logger
	now       func() time.Time
}

// NewImporter creates an importer
func NewImporter(store persistence.ICosignerPersistence, logger *zap.Logger) *Importer {
	return &Importer{
		store:     store,
		directory: directory.NewDirectory(store, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Import saves every account, then every group. Existing records are
// replaced, except that a confirmed group's membership and threshold are frozen.
func (i *Importer) Import(f *File) (*Summary, error) {
	summary := &Summary{}

	for _, entry := range f.Accounts {
		account, err := i.account(entry)
		if err != nil {
			return summary, err
		}
		if err := i.save(account); err != nil {
			return summary, err
		}
		summary.Accounts++
	}

	for _, entry := range f.Groups {
		group, err := i.group(entry)
		if err != nil {
			return summary, err
		}
		if err := i.save(group); err != nil {
			return summary, err
		}
		summary.Groups++
	}

	i.logger.Sugar().Infow("Seed imported", "accounts", summary.Accounts, "groups", summary.Groups)
	return summary, nil
}

func (i *Importer) account(entry AccountEntry) (*types.Account, error) {
	account := &types.Account{
		Key:       entry.Key,
		UserName:  entry.UserName,
		Role:      entry.Role,
		Status:    entry.Status,
		PublicKey: entry.PublicKey,
		CreatedAt: i.now(),
	}
	if account.Role == "" {
		account.Role = types.RoleIndividual
	}
	if account.Status == "" {
		account.Status = types.AccountStatusActive
	}
	if account.Role == types.RoleMultisigGroup {
		return nil, fmt.Errorf("account %s: groups belong under groups", entry.Key)
	}

	if account.Role == types.RoleIndividual {
		if entry.PublicKey == "" {
			return nil, fmt.Errorf("account %s: public_key is required", entry.Key)
		}
		address, err := crypto.AddressFromPublicKey(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", entry.Key, err)
		}
		account.Address = address
	}
	return account, nil
}

func (i *Importer) group(entry GroupEntry) (*types.Account, error) {
	cfg := &types.MultisigConfig{Threshold: entry.Threshold, Status: entry.Status}
	if cfg.Status == "" {
		cfg.Status = types.MultisigStatusPendingAttestation
	}
	for pos, m := range entry.Members {
		cfg.Members = append(cfg.Members, types.MultisigMember{AccountKey: m.Account, Weight: m.Weight, Position: pos})
	}

	group := &types.Account{
		Key:       entry.Key,
		UserName:  entry.UserName,
		Role:      types.RoleMultisigGroup,
		Status:    types.AccountStatusActive,
		Multisig:  cfg,
		CreatedAt: i.now(),
	}
	if err := group.Validate(); err != nil {
		return nil, err
	}

	pk, err := i.directory.MultisigPublicKey(group)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", entry.Key, err)
	}
	group.Address = pk.Address()
	return group, nil
}

func (i *Importer) save(account *types.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	existing, err := i.store.LoadAccount(account.Key)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", account.Key, err)
	}
	if err := types.CheckGroupUpdate(existing, account); err != nil {
		return err
	}
	if existing != nil {
		account.CreatedAt = existing.CreatedAt
	}

	if err := i.store.SaveAccount(account); err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.Key, err)
	}
	i.logger.Sugar().Debugw("Saved account", "key", account.Key, "role", account.Role, "address", account.Address)
	return nil
}
