package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

func seeded(t *testing.T, n int) (*Store, []domain.Player) {
	t.Helper()
	faker := gofakeit.New(42)
	store := New()
	players := make([]domain.Player, n)
	for i := range players {
		players[i] = domain.Player{ID: faker.UUID(), Username: faker.Username(), Rank: i + 1}
	}
	require.NoError(t, store.Seed(players...))
	return store, players
}

func TestCreatePlayerAppendsAtBottom(t *testing.T) {
	store, _ := seeded(t, 3)
	ctx := context.Background()

	p := &domain.Player{ID: "new", Username: "newcomer"}
	require.NoError(t, store.CreatePlayer(ctx, p))
	assert.Equal(t, 4, p.Rank)

	err := store.CreatePlayer(ctx, &domain.Player{ID: "dup", Username: "newcomer"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestSetRankKeepsRealRanksUnique(t *testing.T) {
	store, players := seeded(t, 2)
	ctx := context.Background()

	err := store.SetRank(ctx, players[0].ID, players[1].Rank)
	assert.ErrorIs(t, err, ErrRankTaken)

	require.NoError(t, store.SetRank(ctx, players[0].ID, domain.TempRank))
	require.NoError(t, store.SetRank(ctx, players[1].ID, 1))
	require.NoError(t, store.SetRank(ctx, players[0].ID, 2))

	got, err := store.GetPlayer(ctx, players[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Rank)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, players := seeded(t, 2)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx service.Store) error {
		require.NoError(t, tx.SetRank(ctx, players[0].ID, domain.TempRank))
		require.NoError(t, tx.CreateChallenge(ctx, &domain.Challenge{ID: "c1", ChallengerID: players[1].ID, ChallengeeID: players[0].ID, Status: domain.StatusPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetPlayer(ctx, players[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rank)

	_, err = store.GetChallenge(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	store, players := seeded(t, 2)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = store.WithTx(ctx, func(tx service.Store) error {
			require.NoError(t, tx.SetRank(ctx, players[1].ID, domain.TempRank))
			panic("step failed")
		})
	})

	got, err := store.GetPlayer(ctx, players[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Rank)
}

func TestReadersWaitForTransaction(t *testing.T) {
	store, players := seeded(t, 2)
	ctx := context.Background()

	inTx := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(ctx, func(tx service.Store) error {
			if err := tx.SetRank(ctx, players[0].ID, domain.TempRank); err != nil {
				return err
			}
			close(inTx)
			<-release
			if err := tx.SetRank(ctx, players[1].ID, 1); err != nil {
				return err
			}
			return tx.SetRank(ctx, players[0].ID, 2)
		})
	}()

	<-inTx
	read := make(chan *domain.Player, 1)
	go func() {
		p, _ := store.GetPlayer(ctx, players[0].ID)
		read <- p
	}()

	select {
	case <-read:
		t.Fatal("reader observed the store mid-transaction")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	p := <-read
	assert.Equal(t, 2, p.Rank)
}

func TestUpdateChallengeIsConditional(t *testing.T) {
	store := New()
	ctx := context.Background()
	c := &domain.Challenge{ID: "c1", ChallengerID: "a", ChallengeeID: "b", Status: domain.StatusPending}
	require.NoError(t, store.CreateChallenge(ctx, c))

	c.Status = domain.StatusRevoked
	require.NoError(t, store.UpdateChallenge(ctx, c, domain.StatusPending))

	c.Status = domain.StatusResolved
	assert.ErrorIs(t, store.UpdateChallenge(ctx, c, domain.StatusPending), domain.ErrChallengeNotPending)
}

func TestChallengeQueries(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, c := range []domain.Challenge{
		{ID: "1", ChallengerID: "a", ChallengeeID: "b", Status: domain.StatusResolved},
		{ID: "2", ChallengerID: "b", ChallengeeID: "a", Status: domain.StatusPending},
		{ID: "3", ChallengerID: "c", ChallengeeID: "a", Status: domain.StatusPending},
		{ID: "4", ChallengerID: "c", ChallengeeID: "d", Status: domain.StatusPending},
	} {
		c := c
		require.NoError(t, store.CreateChallenge(ctx, &c))
	}

	between, err := store.ChallengesBetween(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(between))

	pending, err := store.PendingChallenges(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, ids(pending))

	all, err := store.PlayerChallenges(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func ids(challenges []domain.Challenge) []string {
	out := make([]string, len(challenges))
	for i, c := range challenges {
		out[i] = c.ID
	}
	return out
}
