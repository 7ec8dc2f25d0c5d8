package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// MarshalAccount serializes an Account to JSON bytes.
func MarshalAccount(account *types.Account) ([]byte, error) {
	if account == nil {
		return nil, fmt.Errorf("cannot marshal nil Account")
	}

	data, err := json.Marshal(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Account to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalAccount deserializes an Account from JSON bytes.
func UnmarshalAccount(data []byte) (*types.Account, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var account types.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Account: %w", err)
	}

	return &account, nil
}

// MarshalTrack serializes a SignatureTrack and its requests to JSON bytes.
// Key-value backends store the track as one aggregate so a single write
// covers the track and every request it owns.
func MarshalTrack(track *types.SignatureTrack) ([]byte, error) {
	if track == nil {
		return nil, fmt.Errorf("cannot marshal nil SignatureTrack")
	}

	data, err := json.Marshal(track)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SignatureTrack to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalTrack deserializes a SignatureTrack from JSON bytes.
func UnmarshalTrack(data []byte) (*types.SignatureTrack, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var track types.SignatureTrack
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SignatureTrack: %w", err)
	}

	return &track, nil
}

// ValidateNewTrack checks the ownership links of a track before it is created
func ValidateNewTrack(track *types.SignatureTrack) error {
	if track == nil {
		return fmt.Errorf("cannot save nil SignatureTrack")
	}
	if track.ID == "" {
		return fmt.Errorf("track id cannot be empty")
	}
	if track.RequestorKey == "" {
		return fmt.Errorf("track %s has no requestor", track.ID)
	}
	if len(track.Requests) == 0 {
		return fmt.Errorf("track %s has no signature requests", track.ID)
	}

	seen := make(map[string]bool, len(track.Requests))
	for _, r := range track.Requests {
		if r.ID == "" {
			return fmt.Errorf("track %s has a request without id", track.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("track %s has duplicate request %s", track.ID, r.ID)
		}
		if r.TrackID != track.ID {
			return fmt.Errorf("request %s belongs to track %s, not %s", r.ID, r.TrackID, track.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// CheckTrackUpdate rejects a mutator result that broke the ownership links
func CheckTrackUpdate(before, after *types.SignatureTrack) error {
	if after.ID != before.ID {
		return fmt.Errorf("track id cannot change from %s to %s", before.ID, after.ID)
	}
	if len(after.Requests) != len(before.Requests) {
		return fmt.Errorf("track %s: requests cannot be added or removed", before.ID)
	}
	for i := range before.Requests {
		if after.Requests[i].ID != before.Requests[i].ID || after.Requests[i].SignerKey != before.Requests[i].SignerKey {
			return fmt.Errorf("track %s: request identity cannot change", before.ID)
		}
	}
	return nil
}
