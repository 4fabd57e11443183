package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/challenge-ladder/internal/auth"
	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/postgres"
	"github.com/challenge-ladder/internal/redis"
	"github.com/challenge-ladder/internal/service"
)

func main() {
	cliApp := &cli.App{
		Name:  "ladderctl",
		Usage: "administer the challenge ladder",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"LADDER_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log service activity to stderr",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			playerCommand(),
			exchangeCommand(),
			verifyCommand(),
			tokenCommand(),
			rebuildCacheCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env holds the collaborators a command runs against.
type env struct {
	cfg     *config.Config
	repo    *postgres.Repository
	cache   *redis.StandingsCache
	ladder  *service.LadderService
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.FromEnv()
	}
	return nil, err
}

func newLogger(c *cli.Context) *slog.Logger {
	if !c.Bool("verbose") {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openLadder connects to PostgreSQL, and to Redis when it is enabled, and
// builds a ladder service over them.
func openLadder(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(c)
	e := &env{cfg: cfg}

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	e.repo = repo
	e.closers = append(e.closers, repo.Close)

	var opts []service.Option
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.cache = redis.NewStandingsCache(client, logger)
		e.closers = append(e.closers, func() { _ = e.cache.Close() })
		opts = append(opts, service.WithStandingsCache(e.cache))
	}

	e.ladder, err = service.NewLadderService(repo, &cfg.Challenge, &cfg.Ladder, logger, opts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the ladder tables",
		Action: func(c *cli.Context) error {
			e, err := openLadder(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.repo.RunMigrations(c.Context); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func playerCommand() *cli.Command {
	return &cli.Command{
		Name:  "player",
		Usage: "manage players",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "register a player at the bottom of the ladder",
				ArgsUsage: "USERNAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "contact address"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("player add takes exactly one USERNAME", 2)
					}
					e, err := openLadder(c)
					if err != nil {
						return err
					}
					defer e.Close()

					p, err := e.ladder.RegisterPlayer(c.Context, domain.RegisterPlayerRequest{
						Username: c.Args().First(),
						Email:    c.String("email"),
					})
					if err != nil {
						return err
					}
					fmt.Printf("registered %s (%s) at rank %d\n", p.Username, p.ID, p.Rank)
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "register generated players for local testing",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 10, Usage: "number of players"},
					&cli.Uint64Flag{Name: "seed", Usage: "generator seed, 0 for a random one"},
				},
				Action: func(c *cli.Context) error {
					e, err := openLadder(c)
					if err != nil {
						return err
					}
					defer e.Close()

					registered, err := seedPlayers(c.Context, e.ladder, newPlayerGenerator(c.Uint64("seed")), c.Int("count"))
					fmt.Printf("registered %d players\n", registered)
					return err
				},
			},
		},
	}
}

func exchangeCommand() *cli.Command {
	return &cli.Command{
		Name:      "exchange",
		Usage:     "swap the ranks of two players",
		ArgsUsage: "PLAYER_A PLAYER_B",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("exchange takes PLAYER_A and PLAYER_B", 2)
			}
			e, err := openLadder(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ex, err := e.ladder.ExchangeRanks(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d -> %d\n", ex.PlayerAID, ex.RankA, ex.RankB)
			fmt.Printf("%s: %d -> %d\n", ex.PlayerBID, ex.RankB, ex.RankA)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "check that every player holds a distinct positive rank",
		Action: func(c *cli.Context) error {
			e, err := openLadder(c)
			if err != nil {
				return err
			}
			defer e.Close()

			anomalies, err := e.ladder.VerifyLadder(c.Context)
			if err != nil {
				return err
			}
			if len(anomalies) == 0 {
				fmt.Println("ladder is consistent")
				return nil
			}
			for _, a := range anomalies {
				fmt.Println(a)
			}
			return cli.Exit(fmt.Sprintf("%d anomalies found", len(anomalies)), 1)
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "issue a bearer token",
		ArgsUsage: "PLAYER_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "admin", Usage: "grant the admin role"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("token takes exactly one PLAYER_ID", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.Secret == "" {
				return cli.Exit("auth.secret is not configured", 1)
			}

			role := auth.RolePlayer
			if c.Bool("admin") {
				role = auth.RoleAdmin
			}
			token, err := auth.NewProvider(cfg.Auth.Secret, cfg.Auth.TokenTTL).GenerateToken(c.Args().First(), role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func rebuildCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild-cache",
		Usage: "replace the Redis standings with the ranks stored in PostgreSQL",
		Action: func(c *cli.Context) error {
			e, err := openLadder(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cache == nil {
				return cli.Exit("redis is not enabled", 1)
			}
			n, err := e.ladder.RebuildStandings(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("rebuilt standings for %d players\n", n)
			return nil
		},
	}
}
