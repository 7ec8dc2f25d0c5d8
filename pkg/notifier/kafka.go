package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

const kafkaMaxAttempts = 5

// KafkaConfig configures the Kafka notifier
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Username and Password enable SASL/PLAIN when set
	Username string
	Password string
	Timeout  time.Duration
}

// messageWriter is the part of kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON to one topic. Signing requests are
// keyed by signer account so a consumer sees an account's requests in order;
// resolutions are keyed by track id.
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaNotifier creates a notifier writing to the configured brokers
func NewKafkaNotifier(cfg *KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = &plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  kafkaMaxAttempts,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	logger.Sugar().Infow("Kafka notifier initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaNotifier(writer, cfg.Topic, timeout, logger), nil
}

func newKafkaNotifier(writer messageWriter, topic string, timeout time.Duration, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, topic: topic, timeout: timeout, logger: logger}
}

func (n *KafkaNotifier) SigningRequested(ctx context.Context, track *types.SignatureTrack, request *types.SignatureRequest) {
	n.publish(ctx, request.SignerKey, signingRequestedEvent(track, request))
}

func (n *KafkaNotifier) TrackResolved(ctx context.Context, track *types.SignatureTrack) {
	n.publish(ctx, track.ID, trackResolvedEvent(track))
}

func (n *KafkaNotifier) publish(ctx context.Context, key string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Sugar().Errorw("Failed to marshal notification", "type", event.Type, "track_id", event.TrackID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		n.logger.Sugar().Warnw("Failed to publish notification",
			"type", event.Type,
			"track_id", event.TrackID,
			"topic", n.topic,
			"error", err,
		)
	}
}

func (n *KafkaNotifier) Close() error {
	if err := n.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
