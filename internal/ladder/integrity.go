package ladder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/challenge-ladder/internal/domain"
)

// Anomaly describes one broken ladder invariant.
type Anomaly struct {
	PlayerID string
	Rank     int
	Problem  string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("player %s at rank %d: %s", a.PlayerID, a.Rank, a.Problem)
}

// CheckIntegrity reports players holding a non-positive rank and ranks held twice.
func CheckIntegrity(players []domain.Player) []Anomaly {
	var anomalies []Anomaly
	holders := make(map[int][]string, len(players))
	for _, p := range players {
		if p.Rank < 1 {
			anomalies = append(anomalies, Anomaly{PlayerID: p.ID, Rank: p.Rank, Problem: "rank is not positive"})
			continue
		}
		holders[p.Rank] = append(holders[p.Rank], p.ID)
	}

	ranks := make([]int, 0, len(holders))
	for rank := range holders {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	for _, rank := range ranks {
		ids := holders[rank]
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		for _, id := range ids {
			anomalies = append(anomalies, Anomaly{
				PlayerID: id,
				Rank:     rank,
				Problem:  "rank shared with " + strings.Join(others(ids, id), ", "),
			})
		}
	}
	return anomalies
}

func others(ids []string, self string) []string {
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// SortByRank orders players from the top of the ladder down.
func SortByRank(players []domain.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Rank < players[j].Rank
	})
}
