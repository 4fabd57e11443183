package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
)

// ResultHandler applies match results to the ladder
type ResultHandler interface {
	ResolveChallenge(ctx context.Context, challengeID, actorID string, challengerScore, challengeeScore float64) (*domain.Challenge, error)
	ForfeitChallenge(ctx context.Context, challengeID, actorID string) (*domain.Challenge, error)
}

// Consumer consumes match results from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ResultHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ResultHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ResultsTopic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan bool)
	stopped := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(stopped)
		c.consume(ready)
	}()

	// Wait until the first session is set up
	select {
	case <-ready:
	case <-stopped:
		return errors.New("kafka consumer stopped before joining the group")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// consume runs consumer group sessions until the group is closed or the
// consumer is stopped. ready is closed by the first session's Setup; each
// session after that gets a fresh channel of its own.
func (c *Consumer) consume(ready chan bool) {
	for {
		handler := &consumerGroupHandler{
			consumer: c,
			ready:    ready,
		}

		if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ResultsTopic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error("error from consumer", "error", err)
		}

		if c.ctx.Err() != nil {
			return
		}

		select {
		case <-ready:
			ready = make(chan bool)
		default:
		}
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// processMessage applies one result. Rejected results are logged and dropped;
// store failures are retried before giving up on the message.
func (c *Consumer) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var result domain.ResultMessage
	if err := json.Unmarshal(message.Value, &result); err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	if result.ChallengeID == "" {
		c.logger.Warn("result without challenge id", "offset", message.Offset, "partition", message.Partition)
		return
	}

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := c.apply(ctx, result)
		if err == nil {
			c.logger.Debug("applied match result", "challenge_id", result.ChallengeID, "forfeit", result.Forfeit)
			return
		}
		if !errors.Is(err, domain.ErrPersistence) {
			c.logger.Warn("match result rejected",
				"challenge_id", result.ChallengeID,
				"reason", domain.Reason(err),
			)
			return
		}
		if attempt >= attempts {
			c.logger.Error("giving up on match result",
				"challenge_id", result.ChallengeID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

func (c *Consumer) apply(ctx context.Context, result domain.ResultMessage) error {
	if result.Forfeit {
		_, err := c.handler.ForfeitChallenge(ctx, result.ChallengeID, result.ActorID)
		return err
	}
	_, err := c.handler.ResolveChallenge(ctx, result.ChallengeID, result.ActorID,
		scoreOrNaN(result.ChallengerScore), scoreOrNaN(result.ChallengeeScore))
	return err
}

// scoreOrNaN maps a missing score to NaN, which score validation rejects.
func scoreOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ctx, cancel := context.WithTimeout(session.Context(), 30*time.Second)
			h.consumer.processMessage(ctx, message)
			cancel()
			session.MarkMessage(message, "")
		}
	}
}
