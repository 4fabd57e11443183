package domain

import "time"

// TempRank is the default sentinel rank held by a player while a rank exchange is in flight.
// Real ranks start at 1, so it can never collide with one.
const TempRank = -1

// Player represents a player on the ladder
type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Standing is one row of the ladder as shown to clients.
type Standing struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Username string `json:"username,omitempty"`
	Tier     int    `json:"tier,omitempty"`
}

// PlayerRecord is a player's win/loss tally over scored challenges.
type PlayerRecord struct {
	PlayerID string `json:"player_id"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// RegisterPlayerRequest represents a request to add a player to the bottom of the ladder
type RegisterPlayerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
