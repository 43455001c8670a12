package domain

import (
	"time"
)

// Result represents the outcome of a match. The zero value marks an active match.
type Result string

const (
	ResultNone     Result = ""
	ResultWhiteWin Result = "1-0"
	ResultBlackWin Result = "0-1"
	ResultDraw     Result = "1/2-1/2"
)

// ParseResult validates a result token
func ParseResult(token string) (Result, error) {
	switch r := Result(token); r {
	case ResultWhiteWin, ResultBlackWin, ResultDraw:
		return r, nil
	default:
		return ResultNone, ErrInvalidResult
	}
}

// Batch id prefixes distinguish automatic from manual pairing batches
const (
	BatchPrefixAutomatic = "batch_"
	BatchPrefixManual    = "manual_"
)

// Match represents a game between a white and a black player
type Match struct {
	ID            int        `json:"id"`
	WhitePlayerID int        `json:"white_player_id"`
	BlackPlayerID int        `json:"black_player_id"`
	Round         int        `json:"round"`
	Result        Result     `json:"result,omitempty"`
	PlayedAt      *time.Time `json:"played_at,omitempty"`
	IsNew         bool       `json:"is_new"`
	BatchID       string     `json:"batch_id,omitempty"`
}

// newMatch creates an active match
func newMatch(id, whitePlayerID, blackPlayerID, round int) *Match {
	return &Match{
		ID:            id,
		WhitePlayerID: whitePlayerID,
		BlackPlayerID: blackPlayerID,
		Round:         round,
		IsNew:         true,
	}
}

// SetResult records the outcome. An invalid token leaves the match unchanged.
func (m *Match) SetResult(token string) error {
	result, err := ParseResult(token)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.Result = result
	m.PlayedAt = &now
	m.IsNew = false
	return nil
}

// IsActive reports whether the match is still being played
func (m *Match) IsActive() bool {
	return m.Result == ResultNone
}

// IsFinished reports whether a result has been recorded
func (m *Match) IsFinished() bool {
	return m.Result != ResultNone
}

// WhiteScore returns the points earned by the white player
func (m *Match) WhiteScore() float64 {
	switch m.Result {
	case ResultWhiteWin:
		return 1
	case ResultDraw:
		return 0.5
	default:
		return 0
	}
}

// BlackScore returns the points earned by the black player
func (m *Match) BlackScore() float64 {
	switch m.Result {
	case ResultBlackWin:
		return 1
	case ResultDraw:
		return 0.5
	default:
		return 0
	}
}

// Involves reports whether the player plays in this match
func (m *Match) Involves(playerID int) bool {
	return m.WhitePlayerID == playerID || m.BlackPlayerID == playerID
}

// OpponentOf returns the other player's id
func (m *Match) OpponentOf(playerID int) int {
	if m.WhitePlayerID == playerID {
		return m.BlackPlayerID
	}
	return m.WhitePlayerID
}

// ScoreFor returns the points the given player earned in this match
func (m *Match) ScoreFor(playerID int) float64 {
	switch playerID {
	case m.WhitePlayerID:
		return m.WhiteScore()
	case m.BlackPlayerID:
		return m.BlackScore()
	default:
		return 0
	}
}

// ResultSubmission is a result reported for a match outside the HTTP surface
type ResultSubmission struct {
	TournamentID int64  `json:"tournament_id"`
	MatchID      int    `json:"match_id"`
	Result       string `json:"result"`
}

// ResultEvent records a result that was applied, for auditing
type ResultEvent struct {
	TournamentID int64     `json:"tournament_id"`
	MatchID      int       `json:"match_id"`
	Result       Result    `json:"result"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
}
