package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/Layr-Labs/cosigner-go/pkg/auth"
	"github.com/Layr-Labs/cosigner-go/pkg/config"
	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/store"
	"github.com/Layr-Labs/cosigner-go/pkg/seed"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	storeFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Value:   config.StoreBadger.String(),
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
			EnvVars: []string{config.EnvCosignerRedisPassword},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			EnvVars: []string{config.EnvCosignerRedisDB},
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "DSN for the mysql or sqlite store",
			EnvVars: []string{config.EnvCosignerSQLDSN},
		},
	}

	app := &cli.App{
		Name:  "cosigner-ctl",
		Usage: "Administer cosigner accounts and tokens",
		Description: `Operator tooling for a cosigner deployment.

This tool can:
- Import accounts and multisig groups from a YAML seed file
- Mint bearer tokens for an account
- Derive chain addresses for public keys and groups
- List and remove accounts`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvCosignerVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "seed",
				Usage: "Import accounts and groups from a YAML file",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Seed file path",
						Required: true,
					},
				}, storeFlags...),
				Action: seedCommand,
			},
			{
				Name:  "token",
				Usage: "Mint a bearer token for an account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Usage:    "Account key placed in the token subject",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "jwt-secret",
						Usage:    "HMAC secret shared with the server",
						EnvVars:  []string{config.EnvCosignerJWTSecret},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "jwt-issuer",
						Value:   auth.DefaultIssuer,
						EnvVars: []string{config.EnvCosignerJWTIssuer},
					},
					&cli.DurationFlag{
						Name:    "ttl",
						Value:   config.DefaultTokenTTL,
						Usage:   "Token lifetime",
						EnvVars: []string{config.EnvCosignerTokenTTL},
					},
				},
				Action: tokenCommand,
			},
			{
				Name:  "address",
				Usage: "Derive the chain address of a public key or a stored group",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "public-key",
						Usage: "base64(flag || raw public key)",
					},
					&cli.StringFlag{
						Name:  "group",
						Usage: "Key of a stored multisig group",
					},
				}, storeFlags...),
				Action: addressCommand,
			},
			{
				Name:   "list-accounts",
				Usage:  "Print every stored account as JSON",
				Flags:  storeFlags,
				Action: listAccountsCommand,
			},
			{
				Name:  "delete-account",
				Usage: "Remove an account and every track it requested",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Account key",
						Required: true,
					},
				}, storeFlags...),
				Action: deleteAccountCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return l, nil
}

// openStore opens the store named by the command's store flags
func openStore(c *cli.Context, l *zap.Logger) (persistence.ICosignerPersistence, error) {
	cfg := &config.StoreConfig{
		Type:          config.StoreType(c.String("store")),
		BadgerPath:    c.String("badger-path"),
		RedisAddress:  c.String("redis-address"),
		RedisPassword: c.String("redis-password"),
		RedisDB:       c.Int("redis-db"),
		SQLDSN:        c.String("sql-dsn"),
	}
	if cfg.Type == config.StoreMemory {
		return nil, errors.New("the memory store does not outlive this command")
	}
	db, err := store.Open(cfg, l)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", cfg.Type)
	}
	return db, nil
}

func seedCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}

	file, err := os.Open(c.String("file"))
	if err != nil {
		return errors.Wrapf(err, "failed to open seed file %s", c.String("file"))
	}
	defer file.Close()

	parsed, err := seed.Parse(file)
	if err != nil {
		return err
	}

	db, err := openStore(c, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	summary, err := seed.NewImporter(db, l).Import(parsed)
	if err != nil {
		return errors.Wrapf(err, "seed import stopped after %d accounts and %d groups", summary.Accounts, summary.Groups)
	}
	fmt.Printf("Imported %d accounts and %d groups\n", summary.Accounts, summary.Groups)
	return nil
}

func tokenCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}

	a, err := auth.NewHMACAuthenticator([]byte(c.String("jwt-secret")), c.String("jwt-issuer"), c.Duration("ttl"), l)
	if err != nil {
		return err
	}
	token, err := a.Issue(c.String("account"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func addressCommand(c *cli.Context) error {
	if pk := c.String("public-key"); pk != "" {
		address, err := crypto.AddressFromPublicKey(pk)
		if err != nil {
			return err
		}
		fmt.Println(address)
		return nil
	}

	groupKey := c.String("group")
	if groupKey == "" {
		return errors.New("one of --public-key or --group is required")
	}

	l, err := newLogger(c)
	if err != nil {
		return err
	}
	db, err := openStore(c, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	pk, err := directory.NewDirectory(db, l).MultisigPublicKeyFor(groupKey)
	if err != nil {
		return err
	}
	fmt.Println(pk.Address())
	return nil
}

func listAccountsCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	db, err := openStore(c, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	accounts, err := db.ListAccounts()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(accounts)
}

func deleteAccountCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	db, err := openStore(c, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	key := c.String("key")
	account, err := db.LoadAccount(key)
	if err != nil {
		return err
	}
	if account == nil {
		return errors.Errorf("account %s not found", key)
	}
	if err := db.DeleteAccount(key); err != nil {
		return err
	}
	l.Sugar().Infow("Deleted account", "key", key)
	return nil
}
