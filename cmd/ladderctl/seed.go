package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/ladder"
)

// registrar is satisfied by the ladder service.
type registrar interface {
	RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error)
}

type playerGenerator struct {
	faker *gofakeit.Faker
}

func newPlayerGenerator(seed uint64) *playerGenerator {
	return &playerGenerator{faker: gofakeit.New(seed)}
}

// next returns a registration request. The email is dropped when the
// generated one would not pass registration.
func (g *playerGenerator) next() domain.RegisterPlayerRequest {
	req := domain.RegisterPlayerRequest{
		Username: fmt.Sprintf("%s%d", g.faker.Username(), g.faker.Number(10, 99)),
		Email:    g.faker.Email(),
	}
	if !ladder.ValidEmail(req.Email) {
		req.Email = ""
	}
	return req
}

// seedPlayers registers count generated players. Username collisions are
// skipped and do not count toward the total.
func seedPlayers(ctx context.Context, r registrar, gen *playerGenerator, count int) (int, error) {
	registered := 0
	for attempts := 0; registered < count && attempts < count*3; attempts++ {
		_, err := r.RegisterPlayer(ctx, gen.next())
		switch {
		case err == nil:
			registered++
		case errors.Is(err, domain.ErrUsernameTaken):
			continue
		default:
			return registered, err
		}
	}
	if registered < count {
		return registered, fmt.Errorf("registered %d of %d players: too many username collisions", registered, count)
	}
	return registered, nil
}
