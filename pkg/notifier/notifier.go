// Package notifier announces new signing requests and resolved tracks.
// Notification is best effort: failures are logged and never fail the caller.
package notifier

import (
	"context"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"go.uber.org/zap"
)

// Event types
const (
	EventSigningRequested = "signing_requested"
	EventTrackResolved    = "track_resolved"
)

// INotifier receives lifecycle events after they are committed
type INotifier interface {
	// SigningRequested announces that an account has a request to sign
	SigningRequested(ctx context.Context, track *types.SignatureTrack, request *types.SignatureRequest)

	// TrackResolved announces a denied or executed track
	TrackResolved(ctx context.Context, track *types.SignatureTrack)

	Close() error
}

// Event is the JSON document published for each notification
type Event struct {
	Type                string                `json:"type"`
	TrackID             string                `json:"track_id"`
	RequestID           string                `json:"request_id,omitempty"`
	AccountKey          string                `json:"account_key"`
	Role                types.SigningRole     `json:"role,omitempty"`
	Status              types.SignatureStatus `json:"status"`
	TransactionPassed   *bool                 `json:"transaction_passed,omitempty"`
	TransactionResponse string                `json:"transaction_response,omitempty"`
	Timestamp           time.Time             `json:"timestamp"`
}

func signingRequestedEvent(track *types.SignatureTrack, request *types.SignatureRequest) *Event {
	return &Event{
		Type:       EventSigningRequested,
		TrackID:    track.ID,
		RequestID:  request.ID,
		AccountKey: request.SignerKey,
		Role:       request.Role,
		Status:     track.Status,
		Timestamp:  time.Now().UTC(),
	}
}

func trackResolvedEvent(track *types.SignatureTrack) *Event {
	return &Event{
		Type:                EventTrackResolved,
		TrackID:             track.ID,
		AccountKey:          track.RequestorKey,
		Status:              track.Status,
		TransactionPassed:   track.TransactionPassed,
		TransactionResponse: track.TransactionResponse,
		Timestamp:           time.Now().UTC(),
	}
}

// LogNotifier writes events to the service log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SigningRequested(_ context.Context, track *types.SignatureTrack, request *types.SignatureRequest) {
	n.logger.Sugar().Infow("Signing requested",
		"track_id", track.ID,
		"request_id", request.ID,
		"signer", request.SignerKey,
		"role", request.Role,
	)
}

func (n *LogNotifier) TrackResolved(_ context.Context, track *types.SignatureTrack) {
	passed := false
	if track.TransactionPassed != nil {
		passed = *track.TransactionPassed
	}
	n.logger.Sugar().Infow("Signature track resolved",
		"track_id", track.ID,
		"requestor", track.RequestorKey,
		"status", track.Status,
		"transaction_passed", passed,
	)
}

func (n *LogNotifier) Close() error { return nil }
