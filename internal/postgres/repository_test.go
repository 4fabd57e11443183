package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/domain"
)

// fakeRow scans fixed values into the destinations in order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(r.values), len(dest))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case **int:
			if v == nil {
				*d = nil
			} else {
				n := v.(int)
				*d = &n
			}
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanChallengeWithScore(t *testing.T) {
	now := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	c, err := scanChallenge(fakeRow{values: []any{"c1", "a", "b", "resolved", 3, 1, now, now}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, c.Status)
	require.NotNil(t, c.Score)
	assert.Equal(t, domain.Score{Challenger: 3, Challengee: 1}, *c.Score)
}

func TestScanChallengeWithoutScore(t *testing.T) {
	now := time.Now()
	c, err := scanChallenge(fakeRow{values: []any{"c1", "a", "b", "pending", nil, nil, now, now}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, c.Status)
	assert.Nil(t, c.Score)
}

func TestScoreColumns(t *testing.T) {
	challenger, challengee := scoreColumns(nil)
	assert.Nil(t, challenger)
	assert.Nil(t, challengee)

	challenger, challengee = scoreColumns(&domain.Score{Challenger: 1, Challengee: 3})
	assert.Equal(t, 1, *challenger)
	assert.Equal(t, 3, *challengee)
}

func TestUniqueViolationOn(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: usernameConstraint})
	constraint, ok := uniqueViolationOn(err)
	assert.True(t, ok)
	assert.Equal(t, usernameConstraint, constraint)

	_, ok = uniqueViolationOn(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = uniqueViolationOn(errors.New("connection reset"))
	assert.False(t, ok)
}
