package ladder

import (
	"fmt"
	"time"

	"github.com/challenge-ladder/internal/domain"
)

// Gate names, reported with rejections.
const (
	GateSelf        = "self"
	GateBusinessDay = "business_day"
	GateCooldown    = "reissue_cooldown"
	GateRank        = "rank"
	GateTier        = "tier"
	GateOutstanding = "outstanding"
)

// Rules is the immutable challenge configuration the gates are evaluated against.
type Rules struct {
	Anytime         bool
	BackDelay       time.Duration
	AllowedOutgoing int
	AllowedIncoming int
	Tiers           Tiers
	Location        *time.Location
}

// Proposal is everything the gates need to decide on a new challenge.
type Proposal struct {
	Challenger domain.Player
	Challengee domain.Player
	// History holds every challenge ever issued between the pair, either direction.
	History []domain.Challenge
	// ChallengerPending and ChallengeePending hold each player's pending challenges.
	ChallengerPending []domain.Challenge
	ChallengeePending []domain.Challenge
	Now               time.Time
}

// Gate is one step of the eligibility chain.
type Gate struct {
	Name  string
	Check func(Rules, Proposal) error
}

// CreationGates returns the gates a new challenge must pass, in order.
func CreationGates() []Gate {
	return []Gate{
		{Name: GateSelf, Check: VerifyDistinct},
		{Name: GateBusinessDay, Check: VerifyBusinessDay},
		{Name: GateCooldown, Check: VerifyReissueTime},
		{Name: GateRank, Check: VerifyRank},
		{Name: GateTier, Check: VerifyTier},
		{Name: GateOutstanding, Check: VerifyOutstanding},
	}
}

// Evaluate runs the creation gates and stops at the first rejection,
// returning the name of the failing gate with its error.
func (r Rules) Evaluate(p Proposal) (string, error) {
	for _, gate := range CreationGates() {
		if err := gate.Check(r, p); err != nil {
			return gate.Name, err
		}
	}
	return "", nil
}

// VerifyDistinct rejects a player challenging themselves.
func VerifyDistinct(_ Rules, p Proposal) error {
	if p.Challenger.ID == p.Challengee.ID {
		return domain.ErrSelfChallenge
	}
	return nil
}

// VerifyBusinessDay rejects challenges issued on a weekend unless challenges are allowed anytime.
func VerifyBusinessDay(r Rules, p Proposal) error {
	if r.Anytime {
		return nil
	}
	now := p.Now
	if r.Location != nil {
		now = now.In(r.Location)
	}
	if day := now.Weekday(); day == time.Saturday || day == time.Sunday {
		return domain.ErrNotBusinessDay
	}
	return nil
}

// VerifyReissueTime rejects a rematch until the back delay has passed since the
// last update of any challenge between the pair.
func VerifyReissueTime(r Rules, p Proposal) error {
	if len(p.History) == 0 {
		return nil
	}
	latest := p.History[0].UpdatedAt
	for _, c := range p.History[1:] {
		if c.UpdatedAt.After(latest) {
			latest = c.UpdatedAt
		}
	}
	if p.Now.Before(latest.Add(r.BackDelay)) {
		return domain.Violation("create challenge", fmt.Sprintf(
			"You must wait at least %s hours before re-challenging the same opponent.", formatHours(r.BackDelay)))
	}
	return nil
}

// VerifyRank rejects challenging someone ranked below the challenger.
func VerifyRank(_ Rules, p Proposal) error {
	if p.Challenger.Rank < p.Challengee.Rank {
		return domain.ErrRankBelow
	}
	return nil
}

// VerifyTier rejects challenges across more than one tier.
func VerifyTier(r Rules, p Proposal) error {
	challengerTier, ok := r.Tiers.Of(p.Challenger.Rank)
	if !ok {
		return notInTier(p.Challenger)
	}
	challengeeTier, ok := r.Tiers.Of(p.Challengee.Rank)
	if !ok {
		return notInTier(p.Challengee)
	}
	if challengerTier-challengeeTier > 1 || challengeeTier-challengerTier > 1 {
		return domain.ErrTierTooFar
	}
	return nil
}

func notInTier(player domain.Player) error {
	return domain.Violation("create challenge", fmt.Sprintf("%s is not in any tier", player.Username))
}

// VerifyOutstanding rejects the challenge when either player is at their pending limit.
func VerifyOutstanding(r Rules, p Proposal) error {
	out, in := countPending(p.ChallengerPending, p.Challenger.ID)
	if out >= r.AllowedOutgoing {
		return domain.Violation("create challenge", "You already have an outgoing challenge.")
	}
	if in >= r.AllowedIncoming {
		return domain.Violation("create challenge", "You must resolve your incoming challenge first.")
	}

	out, in = countPending(p.ChallengeePending, p.Challengee.ID)
	if out >= r.AllowedOutgoing {
		return domain.Violation("create challenge", fmt.Sprintf("%s already has an outgoing challenge.", p.Challengee.Username))
	}
	if in >= r.AllowedIncoming {
		return domain.Violation("create challenge", fmt.Sprintf("%s already has an incoming challenge.", p.Challengee.Username))
	}
	return nil
}

func countPending(challenges []domain.Challenge, playerID string) (outgoing, incoming int) {
	for _, c := range challenges {
		if c.Status != domain.StatusPending {
			continue
		}
		switch playerID {
		case c.ChallengerID:
			outgoing++
		case c.ChallengeeID:
			incoming++
		}
	}
	return outgoing, incoming
}

// VerifyChallenger allows only the challenger through.
func VerifyChallenger(c *domain.Challenge, actorID string) error {
	if c.ChallengerID != actorID {
		return domain.ErrNotChallenger
	}
	return nil
}

// VerifyInvolved allows either side of the challenge through and returns
// rejection otherwise.
func VerifyInvolved(c *domain.Challenge, actorID string, rejection error) error {
	if !c.Involves(actorID) {
		return rejection
	}
	return nil
}

func formatHours(d time.Duration) string {
	hours := d.Hours()
	if hours == float64(int64(hours)) {
		return fmt.Sprintf("%d", int64(hours))
	}
	return fmt.Sprintf("%.1f", hours)
}
