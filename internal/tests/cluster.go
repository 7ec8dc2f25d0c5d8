package tests

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/auth"
	"github.com/Layr-Labs/cosigner-go/pkg/client"
	"github.com/Layr-Labs/cosigner-go/pkg/crypto"
	"github.com/Layr-Labs/cosigner-go/pkg/directory"
	"github.com/Layr-Labs/cosigner-go/pkg/finalizer"
	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/redis"
	"github.com/Layr-Labs/cosigner-go/pkg/server"
	"github.com/Layr-Labs/cosigner-go/pkg/signers"
	"github.com/Layr-Labs/cosigner-go/pkg/testutil"
	"github.com/Layr-Labs/cosigner-go/pkg/tracker"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const clusterSecret = "integration-secret-0123456789abcdef"

// TestCluster is several cosigner servers sharing one redis store, one chain
// and one token secret, the way a horizontally scaled deployment runs.
type TestCluster struct {
	Servers    []*httptest.Server
	ServerURLs []string
	Accounts   *testutil.Accounts
	Chain      *testutil.MockChainClient
	Notifier   *testutil.RecordingNotifier
	NumNodes   int

	redis  *miniredis.Miniredis
	auth   *auth.Authenticator
	stores []*redis.RedisPersistence
	logger *zap.Logger
}

// NewTestCluster starts numNodes servers and seeds the shared store with
// individuals requestor, alice, bob, carol and dave, and a confirmed
// 2-of-3 group treasury over alice, bob and carol.
func NewTestCluster(t *testing.T, numNodes int) *TestCluster {
	t.Helper()

	clusterLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	mr := miniredis.RunT(t)

	authenticator, err := auth.NewHMACAuthenticator([]byte(clusterSecret), "", time.Hour, clusterLogger)
	require.NoError(t, err)

	cluster := &TestCluster{
		Chain:    testutil.NewMockChainClient(),
		Notifier: testutil.NewRecordingNotifier(),
		NumNodes: numNodes,
		redis:    mr,
		auth:     authenticator,
		logger:   clusterLogger,
	}

	for i := 0; i < numNodes; i++ {
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{Address: mr.Addr()}, clusterLogger)
		require.NoError(t, err)
		cluster.stores = append(cluster.stores, store)
	}

	cluster.seed(t)
	cluster.startServers()
	return cluster
}

func (tc *TestCluster) seed(t *testing.T) {
	tc.Accounts = testutil.NewAccounts(tc.stores[0])
	tc.Accounts.Individual(t, "requestor", crypto.SchemeEd25519)
	tc.Accounts.Individual(t, "alice", crypto.SchemeEd25519)
	tc.Accounts.Individual(t, "bob", crypto.SchemeSecp256k1)
	tc.Accounts.Individual(t, "carol", crypto.SchemeSecp256r1)
	tc.Accounts.Individual(t, "dave", crypto.SchemeEd25519)
	tc.Accounts.Group(t, "treasury", 2,
		testutil.Weighted("alice", 1),
		testutil.Weighted("bob", 1),
		testutil.Weighted("carol", 1),
	)
}

// startServers starts one HTTP test server per node, each with its own store client
func (tc *TestCluster) startServers() {
	tc.Servers = make([]*httptest.Server, tc.NumNodes)
	tc.ServerURLs = make([]string, tc.NumNodes)

	for i, store := range tc.stores {
		dir := directory.NewDirectory(store, tc.logger)
		fin := finalizer.NewFinalizer(store, dir, tc.Chain, tc.Notifier, finalizer.Config{ChainTimeout: 5 * time.Second}, tc.logger)
		tr := tracker.NewTracker(store, signers.NewResolver(dir), fin, crypto.NewVerifier(), tc.Notifier,
			tracker.Config{VerifySignatures: true}, tc.logger)

		srv := server.NewServer(server.Config{RequestsPerSecond: 1000, Burst: 1000}, tr, store, tc.auth, tc.logger)
		testServer := httptest.NewServer(srv.GetHandler())

		tc.Servers[i] = testServer
		tc.ServerURLs[i] = testServer.URL

		tc.logger.Sugar().Debugw("Started server", "node", i+1, "url", testServer.URL)
	}
}

// ClientFor returns an API client for an account, talking to one node
func (tc *TestCluster) ClientFor(t *testing.T, node int, account string) *client.Client {
	t.Helper()
	token, err := tc.auth.Issue(account)
	require.NoError(t, err)
	return client.NewClient(tc.ServerURLs[node%tc.NumNodes], token)
}

// Close stops every server and store client
func (tc *TestCluster) Close() {
	for _, s := range tc.Servers {
		s.Close()
	}
	for _, store := range tc.stores {
		_ = store.Close()
	}
}
