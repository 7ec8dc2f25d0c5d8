package persistence

import (
	"errors"
	"sort"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("persistence layer is closed")

// SortAccounts orders accounts by key
func SortAccounts(accounts []*types.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Key < accounts[j].Key
	})
}

// SortTracks orders tracks oldest first, breaking ties by id
func SortTracks(tracks []*types.SignatureTrack) {
	sort.Slice(tracks, func(i, j int) bool {
		if tracks[i].CreatedAt.Equal(tracks[j].CreatedAt) {
			return tracks[i].ID < tracks[j].ID
		}
		return tracks[i].CreatedAt.Before(tracks[j].CreatedAt)
	})
}

// PrepareAccount validates an account against the stored version before it is written
func PrepareAccount(existing, account *types.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	return types.CheckGroupUpdate(existing, account)
}

// ApplyTrackMutation runs fn on a copy of current and checks the result.
// current is never modified.
func ApplyTrackMutation(current *types.SignatureTrack, fn TrackMutator) (*types.SignatureTrack, error) {
	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := CheckTrackUpdate(current, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
