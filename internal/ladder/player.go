package ladder

import (
	"strings"

	"github.com/challenge-ladder/internal/domain"
)

// MaxEmailLength is the longest email address accepted at registration.
const MaxEmailLength = 50

// ValidateRegistration checks a new player's username and optional email and
// returns them trimmed.
func ValidateRegistration(req domain.RegisterPlayerRequest) (domain.RegisterPlayerRequest, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" {
		return req, domain.ErrUsernameRequired
	}
	if req.Email != "" && !ValidEmail(req.Email) {
		return req, domain.ErrEmailInvalid
	}
	return req, nil
}

// ValidEmail applies the ladder's loose address rules: at most 50 characters,
// exactly one "@" and at least one ".".
func ValidEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	return strings.Count(email, "@") == 1 && strings.Contains(email, ".")
}

// Record tallies wins and losses over a player's scored challenges.
func Record(playerID string, challenges []domain.Challenge) domain.PlayerRecord {
	record := domain.PlayerRecord{PlayerID: playerID}
	for i := range challenges {
		c := &challenges[i]
		if !c.Involves(playerID) {
			continue
		}
		switch winner := c.WinnerID(); winner {
		case "":
		case playerID:
			record.Wins++
		default:
			record.Losses++
		}
	}
	return record
}
