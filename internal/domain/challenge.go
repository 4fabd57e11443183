package domain

import "time"

// ChallengeStatus represents where a challenge is in its lifecycle
type ChallengeStatus string

const (
	StatusPending   ChallengeStatus = "pending"
	StatusResolved  ChallengeStatus = "resolved"
	StatusRevoked   ChallengeStatus = "revoked"
	StatusForfeited ChallengeStatus = "forfeited"
)

// IsTerminal reports whether no further transition is allowed.
func (s ChallengeStatus) IsTerminal() bool {
	return s != StatusPending
}

// Score is the final set score, one value per side.
type Score struct {
	Challenger int `json:"challenger"`
	Challengee int `json:"challengee"`
}

// ChallengerWon reports whether the challenger took the set.
func (s Score) ChallengerWon() bool {
	return s.Challenger > s.Challengee
}

// Challenge represents a match request between two players
type Challenge struct {
	ID           string          `json:"id"`
	ChallengerID string          `json:"challenger_id"`
	ChallengeeID string          `json:"challengee_id"`
	Status       ChallengeStatus `json:"status"`
	Score        *Score          `json:"score,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Involves reports whether the player is either side of the challenge.
func (c *Challenge) Involves(playerID string) bool {
	return c.ChallengerID == playerID || c.ChallengeeID == playerID
}

// IsForfeit reports whether the challenge ended without a played score.
func (c *Challenge) IsForfeit() bool {
	return c.Status == StatusForfeited || (c.Status == StatusResolved && c.Score == nil)
}

// WinnerID returns the winner of a scored challenge, or "" when there is none.
func (c *Challenge) WinnerID() string {
	if c.Status != StatusResolved || c.Score == nil {
		return ""
	}
	if c.Score.ChallengerWon() {
		return c.ChallengerID
	}
	return c.ChallengeeID
}

// CreateChallengeRequest represents a request to challenge another player
type CreateChallengeRequest struct {
	ChallengeeID string `json:"challengee_id"`
}

// ResolveChallengeRequest carries the reported set score. Missing values decode as nil.
type ResolveChallengeRequest struct {
	ChallengerScore *float64 `json:"challenger_score"`
	ChallengeeScore *float64 `json:"challengee_score"`
}

// ExchangeRanksRequest represents an administrative rank exchange
type ExchangeRanksRequest struct {
	PlayerAID string `json:"player_a_id"`
	PlayerBID string `json:"player_b_id"`
}

// RankExchange is the journal record of one completed exchange.
type RankExchange struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	PlayerAID   string    `json:"player_a_id"`
	PlayerBID   string    `json:"player_b_id"`
	RankA       int       `json:"rank_a"`
	RankB       int       `json:"rank_b"`
	ExchangedAt time.Time `json:"exchanged_at"`
}
