package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/memory"
	"github.com/challenge-ladder/internal/service"
)

// wednesday afternoon, a business day
var wednesday = time.Date(2024, time.January, 10, 15, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *service.LadderService
	store   *memory.Store
	clock   *clock
	players []domain.Player
	events  *recorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func challengeConfig(tierSizes ...int) *config.ChallengeConfig {
	cfg := &config.DefaultConfig().Challenge
	cfg.TierSizes = tierSizes
	return cfg
}

// newFixture seeds n players holding ranks 1..n, all in one tier.
func newFixture(t *testing.T, n int, opts ...service.Option) *fixture {
	t.Helper()
	return newFixtureWith(t, n, challengeConfig(n), opts...)
}

func newFixtureWith(t *testing.T, n int, cfg *config.ChallengeConfig, opts ...service.Option) *fixture {
	t.Helper()
	store := memory.New()
	players := make([]domain.Player, n)
	for i := range players {
		players[i] = domain.Player{
			ID:       fmt.Sprintf("p%d", i+1),
			Username: fmt.Sprintf("player%d", i+1),
			Rank:     i + 1,
		}
	}
	require.NoError(t, store.Seed(players...))

	return newFixtureOn(t, store, players, cfg, opts...)
}

func newFixtureOn(t *testing.T, store service.Store, players []domain.Player, cfg *config.ChallengeConfig, opts ...service.Option) *fixture {
	t.Helper()
	clk := &clock{now: wednesday}
	events := &recorder{}
	opts = append([]service.Option{service.WithClock(clk.Now), service.WithPublisher(events)}, opts...)

	ladderCfg := config.DefaultConfig().Ladder
	svc, err := service.NewLadderService(store, cfg, &ladderCfg, discardLogger(), opts...)
	require.NoError(t, err)

	f := &fixture{svc: svc, clock: clk, players: players, events: events}
	if ms, ok := store.(*memory.Store); ok {
		f.store = ms
	}
	return f
}

// id returns the ID of the player seeded at rank.
func (f *fixture) id(rank int) string {
	return f.players[rank-1].ID
}

func (f *fixture) rankOf(t *testing.T, playerID string) int {
	t.Helper()
	p, err := f.svc.GetPlayer(context.Background(), playerID)
	require.NoError(t, err)
	return p.Rank
}

type recorder struct {
	mu     sync.Mutex
	events []domain.LadderEvent
}

func (r *recorder) Publish(_ context.Context, event domain.LadderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
