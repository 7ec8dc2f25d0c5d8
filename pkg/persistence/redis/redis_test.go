package redis

import (
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/cosigner-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPersistence starts an in-process Redis server and connects to it
func newTestPersistence(t *testing.T, keyPrefix string) (*RedisPersistence, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	rp, err := NewRedisPersistence(&RedisConfig{Address: server.Addr(), KeyPrefix: keyPrefix}, testLogger)
	require.NoError(t, err)
	return rp, server
}

func TestRedisPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.ICosignerPersistence {
		rp, _ := newTestPersistence(t, "")
		return rp
	})
}

func TestRedisPersistence_KeyPrefix(t *testing.T) {
	rp, server := newTestPersistence(t, "tenant-a:")
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.SaveAccount(persistencetest.Individual("alice")))
	require.NoError(t, rp.CreateTrack(persistencetest.Track("t1", "alice", time.Now().UTC(), "alice")))

	assert.True(t, server.Exists("tenant-a:cosigner:account:alice"))
	assert.True(t, server.Exists("tenant-a:cosigner:track:t1"))
	assert.True(t, server.Exists("tenant-a:cosigner:metadata:schema_version"))
	assert.False(t, server.Exists("cosigner:track:t1"))
}

func TestRedisPersistence_IndexesFollowTrack(t *testing.T) {
	rp, server := newTestPersistence(t, "")
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.CreateTrack(persistencetest.Track("t1", "alice", time.Now().UTC(), "bob", "carol")))

	members, err := server.Members("cosigner:signer:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, members)
	assert.Equal(t, "t1", mustGet(t, server, "cosigner:request:t1-req-1"))

	require.NoError(t, rp.DeleteTrack("t1"))
	assert.False(t, server.Exists("cosigner:request:t1-req-1"))
	assert.False(t, server.Exists("cosigner:track:t1"))
}

func TestRedisPersistence_UnknownSchema(t *testing.T) {
	server := miniredis.RunT(t)
	require.NoError(t, server.Set(keySchemaVersion, "v0"))

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewRedisPersistence(&RedisConfig{Address: server.Addr()}, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestRedisPersistence_HealthCheck_ServerDown(t *testing.T) {
	rp, server := newTestPersistence(t, "")
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.HealthCheck())
	server.Close()
	assert.Error(t, rp.HealthCheck())
}

func TestRedisPersistence_UpdateTrack_SurvivesOutsideWrite(t *testing.T) {
	rp, _ := newTestPersistence(t, "")
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.CreateTrack(persistencetest.Track("t1", "alice", time.Now().UTC(), "alice", "bob")))

	// a write from another client between the read and EXEC forces one retry
	calls := 0
	_, err := rp.UpdateTrack("t1", func(track *types.SignatureTrack) error {
		calls++
		if calls == 1 {
			_, err := rp.UpdateTrack("t1", func(inner *types.SignatureTrack) error {
				return inner.Requests[1].Deny("no", time.Now().UTC())
			})
			require.NoError(t, err)
		}
		return track.Requests[0].Approve("c2ln", time.Now().UTC())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	loaded, err := rp.LoadTrack("t1")
	require.NoError(t, err)
	assert.Equal(t, types.SignerSigned, loaded.Requests[0].Status)
	assert.Equal(t, types.SignerDenied, loaded.Requests[1].Status)
}

func TestRedisPersistence_Config(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := NewRedisPersistence(nil, testLogger)
	assert.Error(t, err)

	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	assert.Error(t, err)
}

func mustGet(t *testing.T, server *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := server.Get(key)
	require.NoError(t, err)
	return v
}
