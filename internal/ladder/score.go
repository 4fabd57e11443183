// Package ladder holds the pure rules of the challenge ladder: score validation,
// tier bucketing, challenge eligibility and the rank exchange policy.
package ladder

import (
	"math"

	"github.com/challenge-ladder/internal/domain"
)

// Bounds on the number of games in a set.
const (
	MinGames = 2
	MaxGames = 5
)

// ValidateScore checks a reported set score and returns it as whole games.
// Checks run in order: negative, non-integer, equal, too few, too many.
// NaN is how a missing score arrives and fails the integer check.
func ValidateScore(challenger, challengee float64) (domain.Score, error) {
	if challenger < 0 || challengee < 0 {
		return domain.Score{}, domain.ErrScoreNegative
	}
	if !isWhole(challenger) || !isWhole(challengee) {
		return domain.Score{}, domain.ErrScoreNotInteger
	}
	if challenger == challengee {
		return domain.Score{}, domain.ErrScoreEqual
	}

	games := challenger + challengee
	if games < MinGames {
		return domain.Score{}, domain.ErrScoreTooFew
	}
	if games > MaxGames {
		return domain.Score{}, domain.ErrScoreTooMany
	}

	return domain.Score{Challenger: int(challenger), Challengee: int(challengee)}, nil
}

func isWhole(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}
