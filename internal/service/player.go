package service

import (
	"context"
	"fmt"
	"math"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/ladder"
)

// RegisterPlayer adds a player at the bottom of the ladder
func (s *LadderService) RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error) {
	ctx, span := s.tracer.Start(ctx, "LadderService.RegisterPlayer")
	defer span.End()

	req, err := ladder.ValidateRegistration(req)
	if err != nil {
		return nil, s.fail(span, "register player", err)
	}

	unlock := s.locks.Lock(registrationLockKey)
	defer unlock()

	now := s.now()
	player := &domain.Player{
		ID:        s.newID(),
		Username:  req.Username,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTx(ctx, func(tx Store) error {
		return tx.CreatePlayer(ctx, player)
	})
	if err != nil {
		return nil, s.fail(span, "register player", err)
	}

	if s.cache != nil {
		if err := s.cache.SetStanding(ctx, *player); err != nil {
			s.logger.Warn("failed to cache new standing", "player_id", player.ID, "error", err)
		}
	}

	s.logger.Info("player registered", "player_id", player.ID, "rank", player.Rank)
	s.publish(ctx, domain.LadderEvent{
		Type:      domain.EventPlayerRegistered,
		PlayerIDs: []string{player.ID},
		Player:    player,
		Timestamp: now,
	})
	return player, nil
}

// GetPlayer returns a player by ID
func (s *LadderService) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return s.store.GetPlayer(ctx, playerID)
}

// PlayerRecord returns a player's wins and losses
func (s *LadderService) PlayerRecord(ctx context.Context, playerID string) (*domain.PlayerRecord, error) {
	challenges, err := s.PlayerChallenges(ctx, playerID)
	if err != nil {
		return nil, err
	}
	record := ladder.Record(playerID, challenges)
	return &record, nil
}

// Standings returns ladder rows within a 0-indexed, inclusive position range
func (s *LadderService) Standings(ctx context.Context, start, end int) ([]domain.Standing, error) {
	start, end = s.window(start, end)

	if s.cache != nil {
		standings, err := s.cache.GetRange(ctx, start, end)
		if err == nil && len(standings) > 0 {
			return s.withTiers(standings), nil
		}
		if err != nil {
			s.logger.Warn("standings cache unavailable, reading store", "error", err)
		}
	}

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	ladder.SortByRank(players)

	size := 0
	if start < len(players) {
		size = min(end, len(players)-1) - start + 1
	}
	standings := make([]domain.Standing, 0, size)
	for i := start; i <= end && i < len(players); i++ {
		standings = append(standings, domain.Standing{
			Rank:     players[i].Rank,
			PlayerID: players[i].ID,
			Username: players[i].Username,
		})
	}
	return s.withTiers(standings), nil
}

// window clamps a requested 0-based range to at most MaxLimit entries.
// A reversed range selects DefaultLimit entries from start.
func (s *LadderService) window(start, end int) (int, int) {
	start = max(start, 0)
	size := s.limits.DefaultLimit
	if end >= start {
		size = min(end-start, s.limits.MaxLimit-1) + 1
	}
	size = max(min(size, s.limits.MaxLimit), 1)
	if start > math.MaxInt-(size-1) {
		return start, math.MaxInt
	}
	return start, start + size - 1
}

func (s *LadderService) withTiers(standings []domain.Standing) []domain.Standing {
	for i := range standings {
		if tier, ok := s.rules.Tiers.Of(standings[i].Rank); ok {
			standings[i].Tier = tier
		}
	}
	return standings
}

// VerifyLadder reports broken rank invariants in the store
func (s *LadderService) VerifyLadder(ctx context.Context) ([]ladder.Anomaly, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return ladder.CheckIntegrity(players), nil
}

// RebuildStandings replaces the standings projection with the store's ranks
func (s *LadderService) RebuildStandings(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing players: %w", err)
	}
	if err := s.cache.Rebuild(ctx, players); err != nil {
		return 0, fmt.Errorf("rebuilding standings: %w", err)
	}
	return len(players), nil
}
