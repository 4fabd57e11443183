package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/challenge-ladder/internal/domain"
)

// exchangeError marks a failed step of the three-write rank exchange.
type exchangeError struct {
	step string
	err  error
}

func (e *exchangeError) Error() string {
	return fmt.Sprintf("rank exchange %s: %v", e.step, e.err)
}

func (e *exchangeError) Unwrap() error {
	return e.err
}

func isExchangeFailure(err error) bool {
	var ee *exchangeError
	return errors.As(err, &ee)
}

// ExchangeRanks swaps the ranks of two players outside of any challenge.
func (s *LadderService) ExchangeRanks(ctx context.Context, playerAID, playerBID string) (*domain.RankExchange, error) {
	ctx, span := s.tracer.Start(ctx, "LadderService.ExchangeRanks", trace.WithAttributes(
		attribute.String("player_a_id", playerAID),
		attribute.String("player_b_id", playerBID),
	))
	defer span.End()

	if playerAID == playerBID {
		return nil, s.fail(span, "exchange ranks", domain.ErrSelfExchange)
	}

	unlock := s.locks.Lock(playerAID, playerBID)
	defer unlock()

	var exchange *domain.RankExchange
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.LockPlayers(ctx, playerAID, playerBID); err != nil {
			return err
		}
		var err error
		exchange, err = s.exchange(ctx, tx, playerAID, playerBID, "", s.now())
		return err
	})
	if err != nil {
		s.metrics.RanksExchanged(false)
		return nil, s.fail(span, "exchange ranks", err)
	}

	s.metrics.RanksExchanged(true)
	s.afterExchange(ctx, exchange)
	return exchange, nil
}

// exchange swaps two ranks with three writes through the sentinel rank, so no
// two players ever hold the same real rank. Callers hold both players' locks and
// run it inside a transaction; any failed write rolls all of them back.
func (s *LadderService) exchange(ctx context.Context, tx Store, playerAID, playerBID, challengeID string, now time.Time) (*domain.RankExchange, error) {
	a, err := tx.GetPlayer(ctx, playerAID)
	if err != nil {
		return nil, err
	}
	b, err := tx.GetPlayer(ctx, playerBID)
	if err != nil {
		return nil, err
	}
	rankA, rankB := a.Rank, b.Rank

	if err := tx.SetRank(ctx, a.ID, s.tempRank); err != nil {
		return nil, &exchangeError{step: "park first player", err: err}
	}
	if err := tx.SetRank(ctx, b.ID, rankA); err != nil {
		return nil, &exchangeError{step: "move second player", err: err}
	}
	if err := tx.SetRank(ctx, a.ID, rankB); err != nil {
		return nil, &exchangeError{step: "move first player", err: err}
	}

	exchange := &domain.RankExchange{
		ID:          s.newID(),
		ChallengeID: challengeID,
		PlayerAID:   a.ID,
		PlayerBID:   b.ID,
		RankA:       rankA,
		RankB:       rankB,
		ExchangedAt: now,
	}
	if err := tx.RecordExchange(ctx, *exchange); err != nil {
		return nil, &exchangeError{step: "journal", err: err}
	}
	return exchange, nil
}

// afterExchange updates the standings projection and announces the new ranks.
func (s *LadderService) afterExchange(ctx context.Context, exchange *domain.RankExchange) {
	s.logger.Info("ranks exchanged",
		"player_a_id", exchange.PlayerAID,
		"player_b_id", exchange.PlayerBID,
		"rank_a", exchange.RankB,
		"rank_b", exchange.RankA,
	)

	if s.cache != nil {
		if err := s.cache.ApplyExchange(ctx, *exchange); err != nil {
			s.logger.Warn("failed to update standings cache", "exchange_id", exchange.ID, "error", err)
		}
	}

	s.publish(ctx, domain.LadderEvent{
		Type:      domain.EventRanksExchanged,
		PlayerIDs: []string{exchange.PlayerAID, exchange.PlayerBID},
		Exchange:  exchange,
		Timestamp: exchange.ExchangedAt,
	})
}
