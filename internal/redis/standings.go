package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

const standingsKey = "ladder:standings"

// StandingsCache keeps a sorted-set projection of the ladder scored by rank,
// plus a small hash of display data per player.
type StandingsCache struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ service.StandingsCache = (*StandingsCache)(nil)

// NewClient connects to Redis and verifies the connection
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewStandingsCache creates a standings cache on top of an open client
func NewStandingsCache(client redis.UniversalClient, logger *slog.Logger) *StandingsCache {
	return &StandingsCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *StandingsCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *StandingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// playerInfoKey returns the Redis key for player info cache
func playerInfoKey(playerID string) string {
	return fmt.Sprintf("player:%s:info", playerID)
}

// SetStanding records a player's current rank and username
func (c *StandingsCache) SetStanding(ctx context.Context, player domain.Player) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, standingsKey, standingMember(player))
		pipe.HSet(ctx, playerInfoKey(player.ID), "username", player.Username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting standing: %w", err)
	}
	return nil
}

// ApplyExchange moves both players of a completed exchange in one MULTI/EXEC
// block, so readers never see them sharing a rank.
func (c *StandingsCache) ApplyExchange(ctx context.Context, exchange domain.RankExchange) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, standingsKey,
			redis.Z{Score: float64(exchange.RankB), Member: exchange.PlayerAID},
			redis.Z{Score: float64(exchange.RankA), Member: exchange.PlayerBID},
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying exchange: %w", err)
	}
	return nil
}

// GetRange returns standings within a 0-indexed, inclusive position range
func (c *StandingsCache) GetRange(ctx context.Context, start, end int) ([]domain.Standing, error) {
	results, err := c.client.ZRangeWithScores(ctx, standingsKey, int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Use pipeline to fetch every username in one round trip
	pipe := c.client.Pipeline()
	names := make([]*redis.StringCmd, len(results))
	for i, result := range results {
		names[i] = pipe.HGet(ctx, playerInfoKey(memberID(result)), "username")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting player info: %w", err)
	}

	usernames := make([]string, len(names))
	for i, cmd := range names {
		usernames[i] = cmd.Val()
	}
	return toStandings(results, usernames), nil
}

// Rebuild replaces the projection with the given players
func (c *StandingsCache) Rebuild(ctx context.Context, players []domain.Player) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, standingsKey)
		if len(players) == 0 {
			return nil
		}
		members := make([]redis.Z, 0, len(players))
		for _, p := range players {
			if p.Rank <= 0 {
				continue
			}
			members = append(members, standingMember(p))
			pipe.HSet(ctx, playerInfoKey(p.ID), "username", p.Username)
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, standingsKey, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding standings: %w", err)
	}

	c.logger.Debug("standings cache rebuilt", "players", len(players))
	return nil
}

func standingMember(p domain.Player) redis.Z {
	return redis.Z{Score: float64(p.Rank), Member: p.ID}
}

func memberID(z redis.Z) string {
	if id, ok := z.Member.(string); ok {
		return id
	}
	return fmt.Sprint(z.Member)
}

func toStandings(results []redis.Z, usernames []string) []domain.Standing {
	standings := make([]domain.Standing, len(results))
	for i, result := range results {
		standings[i] = domain.Standing{
			Rank:     int(result.Score),
			PlayerID: memberID(result),
		}
		if i < len(usernames) {
			standings[i].Username = usernames[i]
		}
	}
	return standings
}
