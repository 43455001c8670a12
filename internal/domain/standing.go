package domain

import (
	"sort"
	"time"
)

// Standing is one row of the tournament ranking
type Standing struct {
	Rank       int     `json:"rank"`
	PlayerID   int     `json:"player_id"`
	FullName   string  `json:"full_name"`
	ClassName  string  `json:"class_name,omitempty"`
	Score      float64 `json:"score"`
	Percentage float64 `json:"percentage"`
	MatchCount int     `json:"match_count"`
	Absent     bool    `json:"absent,omitempty"`
}

// Standings ranks all players by score, highest first. Equal scores keep
// the order in which the players were added.
func (t *Tournament) Standings() []Standing {
	standings := make([]Standing, 0, len(t.Players))
	for _, p := range t.Players {
		standings = append(standings, Standing{
			PlayerID:   p.ID,
			FullName:   p.FullName(),
			ClassName:  p.ClassName,
			Score:      t.Score(p.ID),
			Percentage: t.Percentage(p.ID),
			MatchCount: len(t.PlayerMatches(p.ID)),
			Absent:     p.Absent,
		})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

// Color is the side a player had in a match
type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// HistoryEntry describes one match from a single player's perspective
type HistoryEntry struct {
	MatchID      int        `json:"match_id"`
	Round        int        `json:"round"`
	Color        Color      `json:"color"`
	OpponentID   int        `json:"opponent_id"`
	OpponentName string     `json:"opponent_name"`
	Result       string     `json:"result"`
	Score        float64    `json:"score"`
	PlayedAt     *time.Time `json:"played_at,omitempty"`
}

// UnknownOpponent is shown when a match references a removed player
const UnknownOpponent = "Unknown"

// History lists the player's matches in creation order. It returns nil for
// an unknown player.
func (t *Tournament) History(id int) []HistoryEntry {
	if t.Player(id) == nil {
		return nil
	}

	matches := t.PlayerMatches(id)
	entries := make([]HistoryEntry, 0, len(matches))
	for _, m := range matches {
		entry := HistoryEntry{
			MatchID:    m.ID,
			Round:      m.Round,
			Color:      ColorBlack,
			OpponentID: m.OpponentOf(id),
			Result:     "active",
			PlayedAt:   m.PlayedAt,
		}
		if m.WhitePlayerID == id {
			entry.Color = ColorWhite
		}
		entry.OpponentName = UnknownOpponent
		if opponent := t.Player(entry.OpponentID); opponent != nil {
			entry.OpponentName = opponent.FullName()
		}
		if m.IsFinished() {
			entry.Result = string(m.Result)
			entry.Score = m.ScoreFor(id)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TournamentUpdate is pushed to live subscribers after every change
type TournamentUpdate struct {
	TournamentID  int64       `json:"tournament_id"`
	Name          string      `json:"name"`
	DisplayMode   DisplayMode `json:"display_mode"`
	CurrentRound  int         `json:"current_round"`
	Standings     []Standing  `json:"standings"`
	ActiveMatches []*Match    `json:"active_matches"`
}

// Update builds the live snapshot pushed to subscribers
func (t *Tournament) Update() TournamentUpdate {
	return TournamentUpdate{
		TournamentID:  t.ID,
		Name:          t.Name,
		DisplayMode:   t.Settings.DisplayMode,
		CurrentRound:  t.CurrentRound(),
		Standings:     t.Standings(),
		ActiveMatches: t.ActiveMatches(),
	}
}
