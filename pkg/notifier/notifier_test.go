package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleTrack() *types.SignatureTrack {
	return &types.SignatureTrack{
		ID:           "track-1",
		RequestorKey: "alice",
		Status:       types.StatusPendingSigners,
		Requests: []*types.SignatureRequest{
			{ID: "req-1", TrackID: "track-1", SignerKey: "bob", Role: types.RoleSponsor, Status: types.SignerPending},
		},
	}
}

func TestKafkaNotifier_SigningRequested(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	writer := &fakeWriter{}
	n := newKafkaNotifier(writer, "cosigner-events", time.Second, testLogger)

	track := sampleTrack()
	n.SigningRequested(context.Background(), track, track.Requests[0])

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "bob", string(writer.messages[0].Key))

	var event Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, EventSigningRequested, event.Type)
	assert.Equal(t, "track-1", event.TrackID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, types.RoleSponsor, event.Role)
}

func TestKafkaNotifier_TrackResolved(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	writer := &fakeWriter{}
	n := newKafkaNotifier(writer, "cosigner-events", time.Second, testLogger)

	passed := false
	track := sampleTrack()
	track.Status = types.StatusDenied
	track.TransactionPassed = &passed
	track.TransactionResponse = "Signing denied."
	n.TrackResolved(context.Background(), track)

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "track-1", string(writer.messages[0].Key))

	var event Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, EventTrackResolved, event.Type)
	assert.Equal(t, "alice", event.AccountKey)
	assert.Equal(t, types.StatusDenied, event.Status)
	require.NotNil(t, event.TransactionPassed)
	assert.False(t, *event.TransactionPassed)
}

func TestKafkaNotifier_WriteFailureIsSwallowed(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	writer := &fakeWriter{err: errors.New("broker down")}
	n := newKafkaNotifier(writer, "cosigner-events", time.Second, testLogger)

	assert.NotPanics(t, func() {
		n.TrackResolved(context.Background(), sampleTrack())
	})
	require.NoError(t, n.Close())
	assert.True(t, writer.closed)
}

func TestNewKafkaNotifier_Config(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := NewKafkaNotifier(nil, testLogger)
	assert.Error(t, err)
	_, err = NewKafkaNotifier(&KafkaConfig{Brokers: []string{"localhost:9092"}}, testLogger)
	assert.Error(t, err)

	n, err := NewKafkaNotifier(&KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events", Username: "u", Password: "p"}, testLogger)
	require.NoError(t, err)
	require.NoError(t, n.Close())
}

func TestLogNotifier(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	n := NewLogNotifier(testLogger)

	track := sampleTrack()
	assert.NotPanics(t, func() {
		n.SigningRequested(context.Background(), track, track.Requests[0])
		n.TrackResolved(context.Background(), track)
	})
	assert.NoError(t, n.Close())
}
