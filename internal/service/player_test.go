package service_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

func TestRegisterPlayerJoinsAtBottom(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	p, err := f.svc.RegisterPlayer(ctx, domain.RegisterPlayerRequest{Username: "  newcomer ", Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "newcomer", p.Username)
	assert.Equal(t, 4, p.Rank)
	assert.Equal(t, wednesday, p.CreatedAt)
	assert.Equal(t, []domain.EventType{domain.EventPlayerRegistered}, f.events.types())

	_, err = f.svc.RegisterPlayer(ctx, domain.RegisterPlayerRequest{Username: "newcomer"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
}

func TestRegisterPlayerValidation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.RegisterPlayer(ctx, domain.RegisterPlayerRequest{Username: "   "})
	assert.ErrorIs(t, err, domain.ErrUsernameRequired)

	_, err = f.svc.RegisterPlayer(ctx, domain.RegisterPlayerRequest{Username: "x", Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrEmailInvalid)
}

func TestRegisterPlayerUpdatesCache(t *testing.T) {
	cache := &fakeCache{}
	f := newFixture(t, 2, service.WithStandingsCache(cache))

	p, err := f.svc.RegisterPlayer(context.Background(), domain.RegisterPlayerRequest{Username: "third"})
	require.NoError(t, err)
	require.Len(t, cache.standings, 1)
	assert.Equal(t, p.ID, cache.standings[0].ID)
}

func TestPlayerRecord(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	c, err := f.svc.CreateChallenge(ctx, f.id(2), f.id(1))
	require.NoError(t, err)
	_, err = f.svc.ResolveChallenge(ctx, c.ID, f.id(1), 3, 1)
	require.NoError(t, err)

	c, err = f.svc.CreateChallenge(ctx, f.id(3), f.id(1))
	require.NoError(t, err)
	_, err = f.svc.ForfeitChallenge(ctx, c.ID, f.id(3))
	require.NoError(t, err)

	record, err := f.svc.PlayerRecord(ctx, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, domain.PlayerRecord{PlayerID: f.id(1), Wins: 0, Losses: 1}, *record)

	record, err = f.svc.PlayerRecord(ctx, f.id(2))
	require.NoError(t, err)
	assert.Equal(t, 1, record.Wins)

	_, err = f.svc.PlayerRecord(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestStandingsCarryTiers(t *testing.T) {
	f := newFixtureWith(t, 6, challengeConfig())

	standings, err := f.svc.Standings(context.Background(), 0, -1)
	require.NoError(t, err)
	require.Len(t, standings, 6)

	tiers := make([]int, len(standings))
	for i, s := range standings {
		tiers[i] = s.Tier
		assert.Equal(t, i+1, s.Rank)
	}
	assert.Equal(t, []int{1, 2, 2, 3, 3, 3}, tiers)
}

func TestStandingsWindow(t *testing.T) {
	f := newFixture(t, 10)

	standings, err := f.svc.Standings(context.Background(), 2, 4)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, "player3", standings[0].Username)
	assert.Equal(t, "player5", standings[2].Username)

	standings, err = f.svc.Standings(context.Background(), 8, 20)
	require.NoError(t, err)
	assert.Len(t, standings, 2)
}

func TestStandingsHugeRange(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	standings, err := f.svc.Standings(ctx, 0, math.MaxInt)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, "player1", standings[0].Username)
	assert.Equal(t, "player3", standings[2].Username)

	standings, err = f.svc.Standings(ctx, math.MaxInt, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, standings)

	standings, err = f.svc.Standings(ctx, math.MinInt, 1)
	require.NoError(t, err)
	assert.Len(t, standings, 2)
}

func TestRebuildStandings(t *testing.T) {
	cache := &fakeCache{}
	f := newFixture(t, 4, service.WithStandingsCache(cache))

	n, err := f.svc.RebuildStandings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, cache.standings, 4)
}

func TestVerifyLadderFindsAnomalies(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	anomalies, err := f.svc.VerifyLadder(ctx)
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	require.NoError(t, f.store.SetRank(ctx, f.id(2), domain.TempRank))
	anomalies, err = f.svc.VerifyLadder(ctx)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, f.id(2), anomalies[0].PlayerID)
}
