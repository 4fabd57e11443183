package redis

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
)

var rc struct {
	once      sync.Once
	container testcontainers.Container
	addr      string
	err       error
}

func TestMain(m *testing.M) {
	code := m.Run()
	if rc.container != nil {
		if err := rc.container.Terminate(context.Background()); err != nil {
			log.Printf("terminating redis container: %v", err)
		}
	}
	os.Exit(code)
}

func startRedis(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort("6379/tcp"),
			).WithDeadline(45 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		if container != nil {
			_ = container.Terminate(ctx)
		}
		return nil, "", fmt.Errorf("starting redis container: %w", err)
	}

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("getting redis endpoint: %w", err)
	}
	return container, addr, nil
}

// newIntegrationCache returns a cache over an empty Redis database. It skips
// the test under -short or when no container runtime is reachable.
func newIntegrationCache(t *testing.T) *StandingsCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	rc.once.Do(func() {
		rc.container, rc.addr, rc.err = startRedis(context.Background())
	})
	require.NoError(t, rc.err)

	client, err := NewClient(&config.RedisConfig{Addr: rc.addr})
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(context.Background()).Err())

	cache := NewStandingsCache(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func ladderOf(n int) []domain.Player {
	players := make([]domain.Player, n)
	for i := range players {
		players[i] = domain.Player{ID: fmt.Sprintf("p%d", i+1), Username: fmt.Sprintf("player%d", i+1), Rank: i + 1}
	}
	return players
}

func TestIntegrationSetStandingAndRange(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()

	standings, err := cache.GetRange(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, standings)

	for _, p := range ladderOf(3) {
		require.NoError(t, cache.SetStanding(ctx, p))
	}

	standings, err = cache.GetRange(ctx, 1, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []domain.Standing{
		{Rank: 2, PlayerID: "p2", Username: "player2"},
		{Rank: 3, PlayerID: "p3", Username: "player3"},
	}, standings)
}

func TestIntegrationApplyExchangeSwapsBothMembers(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Rebuild(ctx, ladderOf(3)))

	require.NoError(t, cache.ApplyExchange(ctx, domain.RankExchange{
		PlayerAID: "p1", PlayerBID: "p3", RankA: 1, RankB: 3,
	}))

	standings, err := cache.GetRange(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, "p3", standings[0].PlayerID)
	assert.Equal(t, 1, standings[0].Rank)
	assert.Equal(t, "p2", standings[1].PlayerID)
	assert.Equal(t, "p1", standings[2].PlayerID)
	assert.Equal(t, 3, standings[2].Rank)
}

func TestIntegrationRebuildReplacesProjection(t *testing.T) {
	cache := newIntegrationCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Rebuild(ctx, ladderOf(4)))

	// p4 left and p2 is parked on the sentinel rank
	players := ladderOf(3)
	players[1].Rank = domain.TempRank
	require.NoError(t, cache.Rebuild(ctx, players))

	standings, err := cache.GetRange(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "p1", standings[0].PlayerID)
	assert.Equal(t, "p3", standings[1].PlayerID)

	require.NoError(t, cache.Rebuild(ctx, nil))
	standings, err = cache.GetRange(ctx, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, standings)
}
