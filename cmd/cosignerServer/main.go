package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/auth"
	"github.com/Layr-Labs/cosigner-go/pkg/chain"
	"github.com/Layr-Labs/cosigner-go/pkg/config"
	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/finalizer"
	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/notifier"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/store"
	"github.com/Layr-Labs/cosigner-go/pkg/server"
	"github.com/Layr-Labs/cosigner-go/pkg/signers"
	"github.com/Layr-Labs/cosigner-go/pkg/tracker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "cosigner-server",
		Usage: "Multi-party transaction cosigning server",
		Description: `Collects signatures from every party named on a transaction and executes it on chain.

This server implements:
- Transaction submission with optional sender and sponsor, each an account or a multisig group
- Signing-request fan-out, listing and approval/denial
- Multisig signature aggregation and chain execution once every party signed`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvCosignerPort},
			},
			&cli.StringFlag{
				Name:    "store",
				Value:   config.StoreMemory.String(),
				Usage:   fmt.Sprintf("Persistence backend: %s", config.GetSupportedStoresString()),
				EnvVars: []string{config.EnvCosignerStore},
			},
			&cli.StringFlag{
				Name:    "badger-path",
				Usage:   "Data directory for the badger store",
				EnvVars: []string{config.EnvCosignerBadgerPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "host:port of the redis store",
				EnvVars: []string{config.EnvCosignerRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Password of the redis store",
				EnvVars: []string{config.EnvCosignerRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Database number of the redis store",
				EnvVars: []string{config.EnvCosignerRedisDB},
			},
			&cli.StringFlag{
				Name:    "sql-dsn",
				Usage:   "DSN for the mysql or sqlite store",
				EnvVars: []string{config.EnvCosignerSQLDSN},
			},
			&cli.StringFlag{
				Name:     "rpc-url",
				Aliases:  []string{"rpc"},
				Usage:    "Chain full node JSON-RPC endpoint URL",
				EnvVars:  []string{config.EnvCosignerRPCURL},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "chain-timeout",
				Value:   config.DefaultChainTimeout,
				Usage:   "Timeout for a transaction submission",
				EnvVars: []string{config.EnvCosignerChainTimeout},
			},
			&cli.BoolFlag{
				Name:    "verify-signatures",
				Value:   true,
				Usage:   "Verify each approval against the signer's public key",
				EnvVars: []string{config.EnvCosignerVerifySignatures},
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Usage:   "HMAC secret for bearer tokens (at least 32 bytes)",
				EnvVars: []string{config.EnvCosignerJWTSecret},
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Value:   auth.DefaultIssuer,
				Usage:   "Expected iss claim of bearer tokens",
				EnvVars: []string{config.EnvCosignerJWTIssuer},
			},
			&cli.StringFlag{
				Name:    "jwks-url",
				Usage:   "JWKS URL of an external token issuer, instead of jwt-secret",
				EnvVars: []string{config.EnvCosignerJWKSURL},
			},
			&cli.DurationFlag{
				Name:    "jwks-refresh",
				Value:   config.DefaultJWKSRefresh,
				Usage:   "JWKS refresh interval",
				EnvVars: []string{config.EnvCosignerJWKSRefresh},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   config.DefaultRateLimit,
				Usage:   "Requests per second allowed per account",
				EnvVars: []string{config.EnvCosignerRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   config.DefaultRateBurst,
				Usage:   "Burst size of each account's rate limit",
				EnvVars: []string{config.EnvCosignerRateBurst},
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for event notifications",
				EnvVars: []string{config.EnvCosignerKafkaBrokers},
			},
			&cli.StringFlag{
				Name:    "kafka-topic",
				Usage:   "Kafka topic for event notifications",
				EnvVars: []string{config.EnvCosignerKafkaTopic},
			},
			&cli.StringFlag{
				Name:    "kafka-username",
				Usage:   "SASL/PLAIN username for Kafka",
				EnvVars: []string{config.EnvCosignerKafkaUsername},
			},
			&cli.StringFlag{
				Name:    "kafka-password",
				Usage:   "SASL/PLAIN password for Kafka",
				EnvVars: []string{config.EnvCosignerKafkaPassword},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvCosignerVerbose},
			},
		},
		Action: runCosignerServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runCosignerServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseCosignerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(&cfg.Store, l)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() { _ = db.Close() }()

	chainClient, err := chain.NewRPCClient(ctx, &chain.RPCClientConfig{URL: cfg.RpcUrl}, l)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	n, err := newNotifier(cfg, l)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	tokens, err := newAuthenticator(ctx, cfg, l)
	if err != nil {
		return err
	}

	dir := directory.NewDirectory(db, l)
	fin := finalizer.NewFinalizer(db, dir, chainClient, n, finalizer.Config{ChainTimeout: cfg.ChainTimeout}, l)
	tr := tracker.NewTracker(db, signers.NewResolver(dir), fin, crypto.NewVerifier(), n,
		tracker.Config{VerifySignatures: cfg.VerifySignatures}, l)

	srv := server.NewServer(server.Config{
		Port:              cfg.Port,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, tr, db, tokens, l)

	if cfg.Verbose {
		l.Sugar().Infow("Cosigner Server Configuration",
			"port", cfg.Port,
			"store", cfg.Store.Type,
			"rpc_url", cfg.RpcUrl,
			"chain_timeout", cfg.ChainTimeout,
			"verify_signatures", cfg.VerifySignatures,
			"jwks_url", cfg.Auth.JWKSURL,
			"kafka", cfg.Kafka.Enabled(),
		)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Cosigner Server running", "port", cfg.Port)

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ChainTimeout+5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseCosignerConfig(c *cli.Context) *config.CosignerServerConfig {
	return &config.CosignerServerConfig{
		Port: c.Int("port"),
		Store: config.StoreConfig{
			Type:          config.StoreType(c.String("store")),
			BadgerPath:    c.String("badger-path"),
			RedisAddress:  c.String("redis-address"),
			RedisPassword: c.String("redis-password"),
			RedisDB:       c.Int("redis-db"),
			SQLDSN:        c.String("sql-dsn"),
		},
		RpcUrl:           c.String("rpc-url"),
		ChainTimeout:     c.Duration("chain-timeout"),
		VerifySignatures: c.Bool("verify-signatures"),
		Auth: config.AuthConfig{
			JWTSecret:   c.String("jwt-secret"),
			Issuer:      c.String("jwt-issuer"),
			JWKSURL:     c.String("jwks-url"),
			JWKSRefresh: c.Duration("jwks-refresh"),
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: c.Float64("rate-limit"),
			Burst:             c.Int("rate-burst"),
		},
		Kafka: config.KafkaConfig{
			Brokers:  c.StringSlice("kafka-brokers"),
			Topic:    c.String("kafka-topic"),
			Username: c.String("kafka-username"),
			Password: c.String("kafka-password"),
		},
		Debug:   c.Bool("verbose"),
		Verbose: c.Bool("verbose"),
	}
}

func newNotifier(cfg *config.CosignerServerConfig, l *zap.Logger) (notifier.INotifier, error) {
	if !cfg.Kafka.Enabled() {
		return notifier.NewLogNotifier(l), nil
	}
	n, err := notifier.NewKafkaNotifier(&notifier.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		Username: cfg.Kafka.Username,
		Password: cfg.Kafka.Password,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka notifier: %w", err)
	}
	return n, nil
}

func newAuthenticator(ctx context.Context, cfg *config.CosignerServerConfig, l *zap.Logger) (*auth.Authenticator, error) {
	if cfg.Auth.JWKSURL != "" {
		a, err := auth.NewJWKSAuthenticator(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.JWKSRefresh, l)
		if err != nil {
			return nil, fmt.Errorf("failed to load jwks: %w", err)
		}
		return a, nil
	}
	return auth.NewHMACAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL, l)
}
