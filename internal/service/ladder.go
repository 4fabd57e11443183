package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/ladder"
)

const tracerName = "github.com/challenge-ladder/internal/service"

// registrationLockKey serializes bottom-rank assignment for new players.
const registrationLockKey = "ladder:registration"

// LadderService provides business logic for the challenge ladder
type LadderService struct {
	store      Store
	locks      *KeyedLocker
	rules      ladder.Rules
	policy     ladder.ExchangePolicy
	tempRank   int
	limits     *config.LadderConfig
	cache      StandingsCache
	publishers []Publisher
	metrics    Metrics
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Option configures optional collaborators of the LadderService
type Option func(*LadderService)

// WithPublisher adds a publisher that receives every committed ladder event.
func WithPublisher(p Publisher) Option {
	return func(s *LadderService) {
		s.publishers = append(s.publishers, p)
	}
}

// WithStandingsCache keeps a standings projection in step with rank changes.
func WithStandingsCache(c StandingsCache) Option {
	return func(s *LadderService) {
		s.cache = c
	}
}

// WithMetrics records lifecycle outcomes.
func WithMetrics(m Metrics) Option {
	return func(s *LadderService) {
		s.metrics = m
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *LadderService) {
		s.now = now
	}
}

// WithLocker shares a locker between services running in the same process.
func WithLocker(l *KeyedLocker) Option {
	return func(s *LadderService) {
		s.locks = l
	}
}

// NewLadderService creates a new ladder service
func NewLadderService(
	store Store,
	challengeCfg *config.ChallengeConfig,
	ladderCfg *config.LadderConfig,
	logger *slog.Logger,
	opts ...Option,
) (*LadderService, error) {
	rules, err := RulesFromConfig(challengeCfg)
	if err != nil {
		return nil, err
	}
	policy, err := ladder.ParseExchangePolicy(challengeCfg.ExchangePolicy)
	if err != nil {
		return nil, err
	}
	tempRank := challengeCfg.TempRank
	if tempRank == 0 {
		tempRank = domain.TempRank
	}
	if tempRank > 0 {
		return nil, fmt.Errorf("temp rank %d collides with real ranks", tempRank)
	}
	if ladderCfg == nil {
		ladderCfg = &config.DefaultConfig().Ladder
	}

	s := &LadderService{
		store:    store,
		locks:    NewKeyedLocker(),
		rules:    rules,
		policy:   policy,
		tempRank: tempRank,
		limits:   ladderCfg,
		metrics:  noopMetrics{},
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RulesFromConfig resolves the challenge configuration into eligibility rules.
func RulesFromConfig(cfg *config.ChallengeConfig) (ladder.Rules, error) {
	tiers := ladder.PyramidTiers(cfg.PyramidLevels)
	if len(cfg.TierSizes) > 0 {
		var err error
		if tiers, err = ladder.NewTiers(cfg.TierSizes); err != nil {
			return ladder.Rules{}, fmt.Errorf("building tiers: %w", err)
		}
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return ladder.Rules{}, fmt.Errorf("loading timezone: %w", err)
		}
	}

	outgoing, incoming := cfg.AllowedOutgoing, cfg.AllowedIncoming
	if outgoing <= 0 {
		outgoing = 1
	}
	if incoming <= 0 {
		incoming = 1
	}

	return ladder.Rules{
		Anytime:         cfg.Anytime,
		BackDelay:       cfg.BackDelay(),
		AllowedOutgoing: outgoing,
		AllowedIncoming: incoming,
		Tiers:           tiers,
		Location:        loc,
	}, nil
}

// Rules returns the eligibility rules in force.
func (s *LadderService) Rules() ladder.Rules {
	return s.rules
}

// fail classifies err, records it on the span and logs store failures.
// Ladder errors keep their kind; anything else becomes a persistence error.
func (s *LadderService) fail(span trace.Span, op string, err error) error {
	var le *domain.LadderError
	if !errors.As(err, &le) {
		err = domain.Persistence(op, err)
	}
	if errors.Is(err, domain.ErrPersistence) {
		s.logger.Error("ladder operation failed", "op", op, "error", err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.Reason(err))
	return err
}

// publish fans an event out to every publisher. Failures never undo a committed change.
func (s *LadderService) publish(ctx context.Context, event domain.LadderEvent) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish ladder event", "type", event.Type, "error", err)
		}
	}
}
