package domain

import "time"

// EventType names a ladder event
type EventType string

const (
	EventPlayerRegistered   EventType = "player.registered"
	EventChallengeCreated   EventType = "challenge.created"
	EventChallengeRevoked   EventType = "challenge.revoked"
	EventChallengeResolved  EventType = "challenge.resolved"
	EventChallengeForfeited EventType = "challenge.forfeited"
	EventRanksExchanged     EventType = "ranks.exchanged"
)

// LadderEvent is published after a state change has been committed.
type LadderEvent struct {
	Type      EventType     `json:"type"`
	PlayerIDs []string      `json:"player_ids"`
	Player    *Player       `json:"player,omitempty"`
	Challenge *Challenge    `json:"challenge,omitempty"`
	Exchange  *RankExchange `json:"exchange,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Key returns the partitioning key for the event.
func (e LadderEvent) Key() string {
	switch {
	case e.Challenge != nil:
		return e.Challenge.ID
	case e.Exchange != nil:
		return e.Exchange.ID
	case len(e.PlayerIDs) > 0:
		return e.PlayerIDs[0]
	}
	return string(e.Type)
}

// ResultMessage is a match result submitted through the message bus.
type ResultMessage struct {
	ChallengeID     string   `json:"challenge_id"`
	ActorID         string   `json:"actor_id,omitempty"`
	ChallengerScore *float64 `json:"challenger_score,omitempty"`
	ChallengeeScore *float64 `json:"challengee_score,omitempty"`
	Forfeit         bool     `json:"forfeit,omitempty"`
}
