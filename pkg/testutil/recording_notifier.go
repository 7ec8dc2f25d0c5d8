package testutil

import (
	"context"
	"sync"

	"github.com/Layr-Labs/cosigner-go/pkg/notifier"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
)

// RecordingNotifier keeps every notification in memory
type RecordingNotifier struct {
	mu        sync.Mutex
	requested []*types.SignatureRequest
	resolved  []*types.SignatureTrack
}

var _ notifier.INotifier = (*RecordingNotifier)(nil)

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (r *RecordingNotifier) SigningRequested(_ context.Context, _ *types.SignatureTrack, request *types.SignatureRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, request.Clone())
}

func (r *RecordingNotifier) TrackResolved(_ context.Context, track *types.SignatureTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, track.Clone())
}

func (r *RecordingNotifier) Close() error { return nil }

// Requested returns the signing requests announced so far
func (r *RecordingNotifier) Requested() []*types.SignatureRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.SignatureRequest(nil), r.requested...)
}

// Resolved returns the resolved tracks announced so far
func (r *RecordingNotifier) Resolved() []*types.SignatureTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.SignatureTrack(nil), r.resolved...)
}
