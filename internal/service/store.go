package service

import (
	"context"

	"github.com/challenge-ladder/internal/domain"
)

// Store is the record store for players, challenges and the exchange journal.
// Implementations return domain.ErrPlayerNotFound and domain.ErrChallengeNotFound
// for missing records and domain.ErrChallengeNotPending when a conditional
// challenge update finds the challenge already moved on.
type Store interface {
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	ListPlayers(ctx context.Context) ([]domain.Player, error)
	// CreatePlayer appends the player at the bottom of the ladder and sets its rank.
	CreatePlayer(ctx context.Context, player *domain.Player) error
	SetRank(ctx context.Context, playerID string, rank int) error
	// LockPlayers blocks concurrent writers to the given players until the transaction ends.
	LockPlayers(ctx context.Context, playerIDs ...string) error

	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)
	CreateChallenge(ctx context.Context, challenge *domain.Challenge) error
	// UpdateChallenge writes the challenge only if its stored status is still from.
	UpdateChallenge(ctx context.Context, challenge *domain.Challenge, from domain.ChallengeStatus) error
	PendingChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error)
	ChallengesBetween(ctx context.Context, playerA, playerB string) ([]domain.Challenge, error)
	PlayerChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error)

	RecordExchange(ctx context.Context, exchange domain.RankExchange) error

	// WithTx runs fn against a transactional view of the store. All writes made
	// through that view are committed together or not at all.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Publisher receives ladder events after they have been committed.
type Publisher interface {
	Publish(ctx context.Context, event domain.LadderEvent) error
}

// StandingsCache is a read projection of the ladder.
type StandingsCache interface {
	SetStanding(ctx context.Context, player domain.Player) error
	ApplyExchange(ctx context.Context, exchange domain.RankExchange) error
	GetRange(ctx context.Context, start, end int) ([]domain.Standing, error)
	Rebuild(ctx context.Context, players []domain.Player) error
}

// Metrics records lifecycle outcomes.
type Metrics interface {
	ChallengeCreated()
	GateRejected(gate string)
	ChallengeTransitioned(status domain.ChallengeStatus)
	RanksExchanged(success bool)
}

type noopMetrics struct{}

func (noopMetrics) ChallengeCreated()                            {}
func (noopMetrics) GateRejected(string)                          {}
func (noopMetrics) ChallengeTransitioned(domain.ChallengeStatus) {}
func (noopMetrics) RanksExchanged(bool)                          {}
