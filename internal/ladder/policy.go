package ladder

import (
	"fmt"

	"github.com/challenge-ladder/internal/domain"
)

// ExchangePolicy decides whether a resolved challenge swaps the players' ranks.
type ExchangePolicy string

const (
	// ExchangeOnChallengeeWin swaps when the challengee outscores the challenger.
	ExchangeOnChallengeeWin ExchangePolicy = "challengee_wins"
	// ExchangeOnChallengerWin swaps when the challenger outscores the challengee.
	ExchangeOnChallengerWin ExchangePolicy = "challenger_wins"
	// ExchangeOnUpset swaps when the winner held the numerically larger rank.
	ExchangeOnUpset ExchangePolicy = "upset"
	// ExchangeNever leaves ranks untouched.
	ExchangeNever ExchangePolicy = "never"
)

// DefaultExchangePolicy is used when none is configured.
const DefaultExchangePolicy = ExchangeOnChallengeeWin

// ParseExchangePolicy validates a configured policy name.
func ParseExchangePolicy(name string) (ExchangePolicy, error) {
	switch p := ExchangePolicy(name); p {
	case ExchangeOnChallengeeWin, ExchangeOnChallengerWin, ExchangeOnUpset, ExchangeNever:
		return p, nil
	case "":
		return DefaultExchangePolicy, nil
	default:
		return "", fmt.Errorf("unknown exchange policy %q", name)
	}
}

// ShouldExchange reports whether the score triggers a rank exchange between the two players.
func (p ExchangePolicy) ShouldExchange(score domain.Score, challenger, challengee domain.Player) bool {
	switch p {
	case ExchangeOnChallengeeWin:
		return score.Challengee > score.Challenger
	case ExchangeOnChallengerWin:
		return score.Challenger > score.Challengee
	case ExchangeOnUpset:
		if score.ChallengerWon() {
			return challenger.Rank > challengee.Rank
		}
		return challengee.Rank > challenger.Rank
	default:
		return false
	}
}
