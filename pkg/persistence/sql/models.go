package sql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

type metadataModel struct {
	Key   string `gorm:"primaryKey;type:varchar(64)"`
	Value string `gorm:"type:varchar(64)"`
}

func (metadataModel) TableName() string { return "cosigner_metadata" }

// accountModel keeps the account document whole; key and role are columns for lookups
type accountModel struct {
	Key       string    `gorm:"primaryKey;type:varchar(191)"`
	Role      string    `gorm:"type:varchar(32);index"`
	Data      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (accountModel) TableName() string { return "cosigner_accounts" }

type trackModel struct {
	ID                  string `gorm:"primaryKey;type:varchar(64)"`
	RequestorKey        string `gorm:"type:varchar(191);index"`
	TxBytes             string `gorm:"type:text"`
	Sender              string `gorm:"type:text"`
	Sponsor             string `gorm:"type:text"`
	Status              string `gorm:"type:varchar(32);index"`
	TransactionPassed   *bool
	TransactionResponse string          `gorm:"type:text"`
	CreatedAt           time.Time       `gorm:"autoCreateTime:false;index"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime:false"`
	Requests            []*requestModel `gorm:"foreignKey:TrackID"`
}

func (trackModel) TableName() string { return "cosigner_tracks" }

type requestModel struct {
	ID              string `gorm:"primaryKey;type:varchar(191)"`
	TrackID         string `gorm:"type:varchar(64);index"`
	Position        int
	SignerKey       string `gorm:"type:varchar(191);index"`
	SignerPublicKey string `gorm:"type:text"`
	Role            string `gorm:"type:varchar(16)"`
	Status          string `gorm:"type:varchar(16)"`
	Signature       string `gorm:"type:text"`
	DenialCause     string `gorm:"type:text"`
	ResolvedAt      *time.Time
}

func (requestModel) TableName() string { return "cosigner_signature_requests" }

func toAccountModel(account *types.Account) (*accountModel, error) {
	data, err := json.Marshal(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Account: %w", err)
	}
	return &accountModel{
		Key:       account.Key,
		Role:      string(account.Role),
		Data:      string(data),
		CreatedAt: account.CreatedAt,
	}, nil
}

func (m *accountModel) toAccount() (*types.Account, error) {
	var account types.Account
	if err := json.Unmarshal([]byte(m.Data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Account %s: %w", m.Key, err)
	}
	return &account, nil
}

func marshalSignerRef(ref *types.SignerRef) (string, error) {
	if ref == nil {
		return "", nil
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSignerRef(data string) (*types.SignerRef, error) {
	if data == "" {
		return nil, nil
	}
	var ref types.SignerRef
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func toTrackModel(track *types.SignatureTrack) (*trackModel, error) {
	sender, err := marshalSignerRef(track.Sender)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sender: %w", err)
	}
	sponsor, err := marshalSignerRef(track.Sponsor)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sponsor: %w", err)
	}

	m := &trackModel{
		ID:                  track.ID,
		RequestorKey:        track.RequestorKey,
		TxBytes:             track.TxBytes,
		Sender:              sender,
		Sponsor:             sponsor,
		Status:              string(track.Status),
		TransactionPassed:   track.TransactionPassed,
		TransactionResponse: track.TransactionResponse,
		CreatedAt:           track.CreatedAt,
		UpdatedAt:           track.UpdatedAt,
	}
	for i, r := range track.Requests {
		m.Requests = append(m.Requests, &requestModel{
			ID:              r.ID,
			TrackID:         track.ID,
			Position:        i,
			SignerKey:       r.SignerKey,
			SignerPublicKey: r.SignerPublicKey,
			Role:            string(r.Role),
			Status:          string(r.Status),
			Signature:       r.Signature,
			DenialCause:     r.DenialCause,
			ResolvedAt:      r.ResolvedAt,
		})
	}
	return m, nil
}

func (m *trackModel) toTrack() (*types.SignatureTrack, error) {
	sender, err := unmarshalSignerRef(m.Sender)
	if err != nil {
		return nil, fmt.Errorf("track %s: bad sender: %w", m.ID, err)
	}
	sponsor, err := unmarshalSignerRef(m.Sponsor)
	if err != nil {
		return nil, fmt.Errorf("track %s: bad sponsor: %w", m.ID, err)
	}

	track := &types.SignatureTrack{
		ID:                  m.ID,
		RequestorKey:        m.RequestorKey,
		TxBytes:             m.TxBytes,
		Sender:              sender,
		Sponsor:             sponsor,
		Status:              types.SignatureStatus(m.Status),
		TransactionPassed:   m.TransactionPassed,
		TransactionResponse: m.TransactionResponse,
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
	for _, r := range m.Requests {
		track.Requests = append(track.Requests, &types.SignatureRequest{
			ID:              r.ID,
			TrackID:         r.TrackID,
			SignerKey:       r.SignerKey,
			SignerPublicKey: r.SignerPublicKey,
			Role:            types.SigningRole(r.Role),
			Status:          types.SignerStatus(r.Status),
			Signature:       r.Signature,
			DenialCause:     r.DenialCause,
			ResolvedAt:      r.ResolvedAt,
		})
	}
	return track, nil
}
