package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/ladder"
)

// CreateChallenge issues a challenge from challenger to challengee after the
// eligibility chain accepts it.
func (s *LadderService) CreateChallenge(ctx context.Context, challengerID, challengeeID string) (*domain.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "LadderService.CreateChallenge", trace.WithAttributes(
		attribute.String("challenger_id", challengerID),
		attribute.String("challengee_id", challengeeID),
	))
	defer span.End()

	if challengerID == challengeeID {
		s.metrics.GateRejected(ladder.GateSelf)
		return nil, s.fail(span, "create challenge", domain.ErrSelfChallenge)
	}

	unlock := s.locks.Lock(challengerID, challengeeID)
	defer unlock()

	var challenge *domain.Challenge
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.LockPlayers(ctx, challengerID, challengeeID); err != nil {
			return err
		}

		proposal, err := s.loadProposal(ctx, tx, challengerID, challengeeID)
		if err != nil {
			return err
		}

		if gate, err := s.rules.Evaluate(proposal); err != nil {
			s.metrics.GateRejected(gate)
			s.logger.Debug("challenge rejected", "gate", gate, "challenger_id", challengerID, "challengee_id", challengeeID)
			return err
		}

		challenge = &domain.Challenge{
			ID:           s.newID(),
			ChallengerID: challengerID,
			ChallengeeID: challengeeID,
			Status:       domain.StatusPending,
			CreatedAt:    proposal.Now,
			UpdatedAt:    proposal.Now,
		}
		return tx.CreateChallenge(ctx, challenge)
	})
	if err != nil {
		return nil, s.fail(span, "create challenge", err)
	}

	s.metrics.ChallengeCreated()
	s.logger.Info("challenge created",
		"challenge_id", challenge.ID,
		"challenger_id", challengerID,
		"challengee_id", challengeeID,
	)
	s.publish(ctx, domain.LadderEvent{
		Type:      domain.EventChallengeCreated,
		PlayerIDs: []string{challengerID, challengeeID},
		Challenge: challenge,
		Timestamp: challenge.CreatedAt,
	})
	return challenge, nil
}

func (s *LadderService) loadProposal(ctx context.Context, tx Store, challengerID, challengeeID string) (ladder.Proposal, error) {
	challenger, err := tx.GetPlayer(ctx, challengerID)
	if err != nil {
		return ladder.Proposal{}, err
	}
	challengee, err := tx.GetPlayer(ctx, challengeeID)
	if err != nil {
		return ladder.Proposal{}, err
	}
	history, err := tx.ChallengesBetween(ctx, challengerID, challengeeID)
	if err != nil {
		return ladder.Proposal{}, err
	}
	challengerPending, err := tx.PendingChallenges(ctx, challengerID)
	if err != nil {
		return ladder.Proposal{}, err
	}
	challengeePending, err := tx.PendingChallenges(ctx, challengeeID)
	if err != nil {
		return ladder.Proposal{}, err
	}

	return ladder.Proposal{
		Challenger:        *challenger,
		Challengee:        *challengee,
		History:           history,
		ChallengerPending: challengerPending,
		ChallengeePending: challengeePending,
		Now:               s.now(),
	}, nil
}

// RevokeChallenge withdraws a pending challenge. Only the challenger may revoke.
func (s *LadderService) RevokeChallenge(ctx context.Context, challengeID, actorID string) error {
	ctx, span := s.tracer.Start(ctx, "LadderService.RevokeChallenge", trace.WithAttributes(
		attribute.String("challenge_id", challengeID),
	))
	defer span.End()

	result, err := s.transition(ctx, challengeID, func(_ Store, c *domain.Challenge, _ time.Time) (*domain.RankExchange, error) {
		if err := ladder.VerifyChallenger(c, actorID); err != nil {
			return nil, err
		}
		c.Status = domain.StatusRevoked
		return nil, nil
	})
	if err != nil {
		return s.fail(span, "revoke challenge", err)
	}

	s.metrics.ChallengeTransitioned(domain.StatusRevoked)
	s.logger.Info("challenge revoked", "challenge_id", challengeID)
	s.publishTransition(ctx, domain.EventChallengeRevoked, result)
	return nil
}

// ResolveChallenge records the set score reported by either player and, when the
// exchange policy calls for it, swaps the players' ranks in the same transaction.
func (s *LadderService) ResolveChallenge(ctx context.Context, challengeID, actorID string, challengerScore, challengeeScore float64) (*domain.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "LadderService.ResolveChallenge", trace.WithAttributes(
		attribute.String("challenge_id", challengeID),
	))
	defer span.End()

	result, err := s.transition(ctx, challengeID, func(tx Store, c *domain.Challenge, now time.Time) (*domain.RankExchange, error) {
		if err := ladder.VerifyInvolved(c, actorID, domain.ErrNotInvolved); err != nil {
			return nil, err
		}
		score, err := ladder.ValidateScore(challengerScore, challengeeScore)
		if err != nil {
			return nil, err
		}
		c.Status = domain.StatusResolved
		c.Score = &score

		challenger, err := tx.GetPlayer(ctx, c.ChallengerID)
		if err != nil {
			return nil, err
		}
		challengee, err := tx.GetPlayer(ctx, c.ChallengeeID)
		if err != nil {
			return nil, err
		}
		if !s.policy.ShouldExchange(score, *challenger, *challengee) {
			return nil, nil
		}
		return s.exchange(ctx, tx, c.ChallengerID, c.ChallengeeID, c.ID, now)
	})
	if err != nil {
		return nil, s.fail(span, "resolve challenge", err)
	}

	s.metrics.ChallengeTransitioned(domain.StatusResolved)
	s.logger.Info("challenge resolved",
		"challenge_id", challengeID,
		"challenger_score", result.challenge.Score.Challenger,
		"challengee_score", result.challenge.Score.Challengee,
		"ranks_exchanged", result.exchange != nil,
	)
	s.publishTransition(ctx, domain.EventChallengeResolved, result)
	return result.challenge, nil
}

// ForfeitChallenge closes a pending challenge without a score. An empty actorID is
// an administrative forfeit; otherwise the actor must be one of the players.
func (s *LadderService) ForfeitChallenge(ctx context.Context, challengeID, actorID string) (*domain.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "LadderService.ForfeitChallenge", trace.WithAttributes(
		attribute.String("challenge_id", challengeID),
	))
	defer span.End()

	result, err := s.transition(ctx, challengeID, func(_ Store, c *domain.Challenge, _ time.Time) (*domain.RankExchange, error) {
		if actorID != "" {
			if err := ladder.VerifyInvolved(c, actorID, domain.ErrNotInvolvedForfeit); err != nil {
				return nil, err
			}
		}
		c.Status = domain.StatusResolved
		c.Score = nil
		return nil, nil
	})
	if err != nil {
		return nil, s.fail(span, "forfeit challenge", err)
	}

	s.metrics.ChallengeTransitioned(domain.StatusForfeited)
	s.logger.Info("challenge forfeited", "challenge_id", challengeID)
	s.publishTransition(ctx, domain.EventChallengeForfeited, result)
	return result.challenge, nil
}

// GetChallenge returns a challenge by ID
func (s *LadderService) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	return s.store.GetChallenge(ctx, challengeID)
}

// PlayerChallenges returns every challenge a player took part in
func (s *LadderService) PlayerChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error) {
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	return s.store.PlayerChallenges(ctx, playerID)
}

type transitionResult struct {
	challenge *domain.Challenge
	exchange  *domain.RankExchange
}

type transitionFunc func(tx Store, c *domain.Challenge, now time.Time) (*domain.RankExchange, error)

// transition moves a pending challenge to a terminal state under both players'
// locks. apply sets the new status and may exchange ranks through tx.
func (s *LadderService) transition(ctx context.Context, challengeID string, apply transitionFunc) (transitionResult, error) {
	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return transitionResult{}, err
	}

	unlock := s.locks.Lock(c.ChallengerID, c.ChallengeeID)
	defer unlock()

	var result transitionResult
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.LockPlayers(ctx, c.ChallengerID, c.ChallengeeID); err != nil {
			return err
		}
		current, err := tx.GetChallenge(ctx, challengeID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusPending {
			return domain.ErrChallengeNotPending
		}

		now := s.now()
		exchange, err := apply(tx, current, now)
		if err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := tx.UpdateChallenge(ctx, current, domain.StatusPending); err != nil {
			return err
		}

		result = transitionResult{challenge: current, exchange: exchange}
		return nil
	})
	if err != nil {
		if result.exchange != nil || isExchangeFailure(err) {
			s.metrics.RanksExchanged(false)
		}
		return transitionResult{}, err
	}

	if result.exchange != nil {
		s.metrics.RanksExchanged(true)
		s.afterExchange(ctx, result.exchange)
	}
	return result, nil
}

func (s *LadderService) publishTransition(ctx context.Context, eventType domain.EventType, result transitionResult) {
	c := result.challenge
	s.publish(ctx, domain.LadderEvent{
		Type:      eventType,
		PlayerIDs: []string{c.ChallengerID, c.ChallengeeID},
		Challenge: c,
		Exchange:  result.exchange,
		Timestamp: c.UpdatedAt,
	})
}
