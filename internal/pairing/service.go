// Package pairing decides who plays whom next in a run-through tournament.
//
// All functions work on an explicitly passed *domain.Tournament. "No pairing
// possible" is an expected outcome and is reported as an empty slice or nil,
// never as an error.
package pairing

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/runthrough-pairing/internal/domain"
)

// Service creates pairings for a tournament
type Service struct {
	newBatchID func(prefix string) string
}

// NewService creates a new pairing service
func NewService() *Service {
	return &Service{
		newBatchID: func(prefix string) string {
			return prefix + uuid.NewString()
		},
	}
}

// AvailablePlayers returns the players that are neither absent nor in an
// active match, in tournament order.
func (s *Service) AvailablePlayers(t *domain.Tournament) []*domain.Player {
	busy := make(map[int]bool)
	for _, m := range t.Matches {
		if m.IsActive() {
			busy[m.WhitePlayerID] = true
			busy[m.BlackPlayerID] = true
		}
	}

	available := make([]*domain.Player, 0, len(t.Players))
	for _, p := range t.Players {
		if p.Absent || busy[p.ID] {
			continue
		}
		available = append(available, p)
	}
	return available
}

// CheckRecentOpponent fails when b was an opponent in one of a's last
// ConstraintX matches (by creation order). Only a's history is consulted.
func CheckRecentOpponent(t *domain.Tournament, a, b *domain.Player) bool {
	window := t.Settings.ConstraintX
	if window <= 0 {
		return true
	}
	matches := t.PlayerMatches(a.ID)
	if window < len(matches) {
		matches = matches[len(matches)-window:]
	}
	for _, m := range matches {
		if m.OpponentOf(a.ID) == b.ID {
			return false
		}
	}
	return true
}

// CheckPointDifference passes when the score gap is at most ConstraintY
func CheckPointDifference(t *domain.Tournament, a, b *domain.Player) bool {
	return math.Abs(t.Score(b.ID)-t.Score(a.ID)) <= t.Settings.ConstraintY
}

// CheckClass passes unless both players carry the same non-empty class
func CheckClass(a, b *domain.Player) bool {
	if !a.HasClass() || !b.HasClass() {
		return true
	}
	return a.ClassName != b.ClassName
}

// SortByScore returns a copy of players ordered by ascending score. Players
// with equal scores keep their relative order.
func (s *Service) SortByScore(t *domain.Tournament, players []*domain.Player) []*domain.Player {
	scores := make(map[int]float64, len(players))
	for _, p := range players {
		scores[p.ID] = t.Score(p.ID)
	}

	sorted := make([]*domain.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scores[sorted[i].ID] < scores[sorted[j].ID]
	})
	return sorted
}

// FindBestOpponent picks the lowest scored candidate from pool that satisfies
// the constraints. When nothing qualifies the class constraint is dropped
// first, then the point difference. Recent opponents are never allowed.
func (s *Service) FindBestOpponent(t *domain.Tournament, player *domain.Player, pool []*domain.Player) *domain.Player {
	candidates := make([]*domain.Player, 0, len(pool))
	for _, p := range pool {
		if p.ID != player.ID {
			candidates = append(candidates, p)
		}
	}
	candidates = s.SortByScore(t, candidates)

	avoidSameClass := t.Settings.AvoidSameClass
	passes := []func(c *domain.Player) bool{
		func(c *domain.Player) bool {
			return CheckRecentOpponent(t, player, c) &&
				CheckPointDifference(t, player, c) &&
				(!avoidSameClass || CheckClass(player, c))
		},
	}
	if avoidSameClass {
		passes = append(passes, func(c *domain.Player) bool {
			return CheckRecentOpponent(t, player, c) && CheckPointDifference(t, player, c)
		})
	}
	passes = append(passes, func(c *domain.Player) bool {
		return CheckRecentOpponent(t, player, c)
	})

	for _, accept := range passes {
		for _, c := range candidates {
			if accept(c) {
				return c
			}
		}
	}
	return nil
}

// DetermineColors assigns white and black. Strong preferences win over weak
// ones and a's preference is consulted before b's. Two neutral players are
// split by score, the lower or equal score getting white.
func (s *Service) DetermineColors(t *domain.Tournament, a, b *domain.Player) (white, black *domain.Player) {
	prefA := t.ColorPreference(a.ID)
	prefB := t.ColorPreference(b.ID)

	switch {
	case prefA == domain.ShouldBeWhite:
		return a, b
	case prefA == domain.ShouldBeBlack:
		return b, a
	case prefB == domain.ShouldBeWhite:
		return b, a
	case prefB == domain.ShouldBeBlack:
		return a, b
	case prefA == domain.PrefersWhite:
		return a, b
	case prefA == domain.PrefersBlack:
		return b, a
	case prefB == domain.PrefersWhite:
		return b, a
	case prefB == domain.PrefersBlack:
		return a, b
	}

	if t.Score(a.ID) <= t.Score(b.ID) {
		return a, b
	}
	return b, a
}

// CreateAutomaticPairings pairs the available players greedily, lowest
// score first. A non-empty selectedIDs restricts the pool. All matches of
// one call share a batch id and are stamped with the current round. Players
// for whom no opponent is found simply stay unpaired.
func (s *Service) CreateAutomaticPairings(t *domain.Tournament, selectedIDs []int) []*domain.Match {
	available := s.AvailablePlayers(t)
	if len(selectedIDs) > 0 {
		selected := make(map[int]bool, len(selectedIDs))
		for _, id := range selectedIDs {
			selected[id] = true
		}
		filtered := available[:0]
		for _, p := range available {
			if selected[p.ID] {
				filtered = append(filtered, p)
			}
		}
		available = filtered
	}

	if len(available) < 2 {
		return nil
	}

	sorted := s.SortByScore(t, available)
	paired := make(map[int]bool, len(available))
	batchID := s.newBatchID(domain.BatchPrefixAutomatic)
	round := t.CurrentRound()

	var matches []*domain.Match
	for _, player := range sorted {
		if paired[player.ID] {
			continue
		}

		pool := make([]*domain.Player, 0, len(available))
		for _, p := range available {
			if !paired[p.ID] {
				pool = append(pool, p)
			}
		}

		opponent := s.FindBestOpponent(t, player, pool)
		if opponent == nil {
			continue
		}

		white, black := s.DetermineColors(t, player, opponent)
		match := t.AddMatch(white.ID, black.ID, round)
		match.BatchID = batchID
		matches = append(matches, match)
		paired[player.ID] = true
		paired[opponent.ID] = true
	}
	return matches
}

// CreateManualPairing pairs two available players regardless of the
// recent-opponent and point-difference constraints. Colors are still
// assigned by preference. It returns nil when either player is unavailable.
func (s *Service) CreateManualPairing(t *domain.Tournament, id1, id2 int) *domain.Match {
	if id1 == id2 {
		return nil
	}

	var p1, p2 *domain.Player
	for _, p := range s.AvailablePlayers(t) {
		switch p.ID {
		case id1:
			p1 = p
		case id2:
			p2 = p
		}
	}
	if p1 == nil || p2 == nil {
		return nil
	}

	white, black := s.DetermineColors(t, p1, p2)
	match := t.AddMatch(white.ID, black.ID, t.CurrentRound())
	match.BatchID = s.newBatchID(domain.BatchPrefixManual)
	return match
}

// UndoLastBatch removes every match sharing the batch of the newest match.
// It returns the removed matches, or nil when there is nothing to undo.
func (s *Service) UndoLastBatch(t *domain.Tournament) []*domain.Match {
	return t.RemoveBatch(t.LastBatchID())
}
