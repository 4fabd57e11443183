// Package memory is an in-process record store. A transaction holds the store's
// write lock from start to finish and restores a snapshot when it fails, so
// readers never observe a half-applied rank exchange.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

// ErrRankTaken is returned when a write would give two players the same real rank.
var ErrRankTaken = errors.New("rank already held by another player")

// Store is a transactional in-memory implementation of service.Store
type Store struct {
	mu    *sync.RWMutex
	state *state
	inTx  bool
}

type state struct {
	players    map[string]domain.Player
	challenges map[string]domain.Challenge
	// order keeps challenges in insertion order for stable listings.
	order     []string
	exchanges []domain.RankExchange
}

func newState() *state {
	return &state{
		players:    make(map[string]domain.Player),
		challenges: make(map[string]domain.Challenge),
	}
}

func (s *state) clone() *state {
	c := &state{
		players:    make(map[string]domain.Player, len(s.players)),
		challenges: make(map[string]domain.Challenge, len(s.challenges)),
		order:      append([]string(nil), s.order...),
		exchanges:  append([]domain.RankExchange(nil), s.exchanges...),
	}
	for id, p := range s.players {
		c.players[id] = p
	}
	for id, ch := range s.challenges {
		c.challenges[id] = copyChallenge(ch)
	}
	return c
}

// New creates an empty store
func New() *Store {
	return &Store{mu: &sync.RWMutex{}, state: newState()}
}

var _ service.Store = (*Store)(nil)

func (s *Store) read(fn func(*state) error) error {
	if s.inTx {
		return fn(s.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) write(fn func(*state) error) error {
	if s.inTx {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// WithTx runs fn with exclusive access to the store and undoes every write if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx service.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			*s.state = *snapshot
			panic(p)
		}
		if err != nil {
			*s.state = *snapshot
		}
	}()

	return fn(&Store{mu: s.mu, state: s.state, inTx: true})
}

// GetPlayer returns a player by ID
func (s *Store) GetPlayer(_ context.Context, playerID string) (*domain.Player, error) {
	var player domain.Player
	err := s.read(func(st *state) error {
		p, ok := st.players[playerID]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		player = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// ListPlayers returns every player ordered by rank
func (s *Store) ListPlayers(_ context.Context) ([]domain.Player, error) {
	var players []domain.Player
	_ = s.read(func(st *state) error {
		players = make([]domain.Player, 0, len(st.players))
		for _, p := range st.players {
			players = append(players, p)
		}
		return nil
	})
	sort.Slice(players, func(i, j int) bool {
		if players[i].Rank != players[j].Rank {
			return players[i].Rank < players[j].Rank
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

// CreatePlayer appends the player below the current bottom rank
func (s *Store) CreatePlayer(_ context.Context, player *domain.Player) error {
	return s.write(func(st *state) error {
		if _, ok := st.players[player.ID]; ok {
			return fmt.Errorf("player %s already exists", player.ID)
		}
		bottom := 0
		for _, p := range st.players {
			if p.Username == player.Username {
				return domain.ErrUsernameTaken
			}
			if p.Rank > bottom {
				bottom = p.Rank
			}
		}
		player.Rank = bottom + 1
		st.players[player.ID] = *player
		return nil
	})
}

// SetRank moves a player to a rank. Real ranks stay unique; the sentinel may repeat.
func (s *Store) SetRank(_ context.Context, playerID string, rank int) error {
	return s.write(func(st *state) error {
		p, ok := st.players[playerID]
		if !ok {
			return domain.ErrPlayerNotFound
		}
		if rank > 0 {
			for id, other := range st.players {
				if id != playerID && other.Rank == rank {
					return fmt.Errorf("setting rank %d for %s: %w", rank, playerID, ErrRankTaken)
				}
			}
		}
		p.Rank = rank
		st.players[playerID] = p
		return nil
	})
}

// LockPlayers is a no-op; transactions already hold the store exclusively.
func (s *Store) LockPlayers(context.Context, ...string) error {
	return nil
}

// GetChallenge returns a challenge by ID
func (s *Store) GetChallenge(_ context.Context, challengeID string) (*domain.Challenge, error) {
	var challenge domain.Challenge
	err := s.read(func(st *state) error {
		c, ok := st.challenges[challengeID]
		if !ok {
			return domain.ErrChallengeNotFound
		}
		challenge = copyChallenge(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// CreateChallenge stores a new challenge
func (s *Store) CreateChallenge(_ context.Context, challenge *domain.Challenge) error {
	return s.write(func(st *state) error {
		if _, ok := st.challenges[challenge.ID]; ok {
			return fmt.Errorf("challenge %s already exists", challenge.ID)
		}
		st.challenges[challenge.ID] = copyChallenge(*challenge)
		st.order = append(st.order, challenge.ID)
		return nil
	})
}

// UpdateChallenge replaces a challenge whose stored status is still from
func (s *Store) UpdateChallenge(_ context.Context, challenge *domain.Challenge, from domain.ChallengeStatus) error {
	return s.write(func(st *state) error {
		current, ok := st.challenges[challenge.ID]
		if !ok {
			return domain.ErrChallengeNotFound
		}
		if current.Status != from {
			return domain.ErrChallengeNotPending
		}
		st.challenges[challenge.ID] = copyChallenge(*challenge)
		return nil
	})
}

// PendingChallenges returns a player's pending challenges in either direction
func (s *Store) PendingChallenges(_ context.Context, playerID string) ([]domain.Challenge, error) {
	return s.filter(func(c *domain.Challenge) bool {
		return c.Status == domain.StatusPending && c.Involves(playerID)
	}), nil
}

// ChallengesBetween returns every challenge between two players in either direction
func (s *Store) ChallengesBetween(_ context.Context, playerA, playerB string) ([]domain.Challenge, error) {
	return s.filter(func(c *domain.Challenge) bool {
		return c.Involves(playerA) && c.Involves(playerB)
	}), nil
}

// PlayerChallenges returns every challenge a player took part in
func (s *Store) PlayerChallenges(_ context.Context, playerID string) ([]domain.Challenge, error) {
	return s.filter(func(c *domain.Challenge) bool {
		return c.Involves(playerID)
	}), nil
}

func (s *Store) filter(keep func(*domain.Challenge) bool) []domain.Challenge {
	var out []domain.Challenge
	_ = s.read(func(st *state) error {
		for _, id := range st.order {
			c := st.challenges[id]
			if keep(&c) {
				out = append(out, copyChallenge(c))
			}
		}
		return nil
	})
	return out
}

// RecordExchange appends an exchange to the journal
func (s *Store) RecordExchange(_ context.Context, exchange domain.RankExchange) error {
	return s.write(func(st *state) error {
		st.exchanges = append(st.exchanges, exchange)
		return nil
	})
}

// Exchanges returns the exchange journal
func (s *Store) Exchanges() []domain.RankExchange {
	var out []domain.RankExchange
	_ = s.read(func(st *state) error {
		out = append(out, st.exchanges...)
		return nil
	})
	return out
}

// Seed inserts players with fixed ranks, bypassing bottom-rank assignment.
func (s *Store) Seed(players ...domain.Player) error {
	return s.write(func(st *state) error {
		for _, p := range players {
			for id, other := range st.players {
				if id != p.ID && p.Rank > 0 && other.Rank == p.Rank {
					return fmt.Errorf("seeding %s: %w", p.ID, ErrRankTaken)
				}
			}
			st.players[p.ID] = p
		}
		return nil
	})
}

func copyChallenge(c domain.Challenge) domain.Challenge {
	if c.Score != nil {
		score := *c.Score
		c.Score = &score
	}
	return c
}
