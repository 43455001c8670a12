package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FormatRunThrough is the only supported tournament format
const FormatRunThrough = "run-through"

// DisplayMode controls how scores are presented
type DisplayMode string

const (
	DisplayModePoints     DisplayMode = "points"
	DisplayModePercentage DisplayMode = "percentage"
)

// ColorPreference nudges which player gets white based on past colors
type ColorPreference string

const (
	ShouldBeWhite ColorPreference = "should_be_white"
	ShouldBeBlack ColorPreference = "should_be_black"
	PrefersWhite  ColorPreference = "prefers_white"
	PrefersBlack  ColorPreference = "prefers_black"
	Neutral       ColorPreference = "neutral"
)

// Settings holds the pairing knobs of a tournament
type Settings struct {
	Format         string      `json:"format"`
	DisplayMode    DisplayMode `json:"display_mode"`
	ConstraintX    int         `json:"constraint_x"`
	ConstraintY    float64     `json:"constraint_y"`
	AvoidSameClass bool        `json:"avoid_same_class"`
}

// DefaultSettings returns the settings a new tournament starts with
func DefaultSettings() Settings {
	return Settings{
		Format:         FormatRunThrough,
		DisplayMode:    DisplayModePoints,
		ConstraintX:    3,
		ConstraintY:    3,
		AvoidSameClass: false,
	}
}

// Validate checks the settings ranges
func (s Settings) Validate() error {
	if s.DisplayMode != DisplayModePoints && s.DisplayMode != DisplayModePercentage {
		return fmt.Errorf("%w: display mode %q", ErrInvalidSettings, s.DisplayMode)
	}
	if s.ConstraintX < 0 {
		return fmt.Errorf("%w: constraint x must not be negative", ErrInvalidSettings)
	}
	if s.ConstraintY < 0 {
		return fmt.Errorf("%w: constraint y must not be negative", ErrInvalidSettings)
	}
	return nil
}

// Tournament owns the players, matches and settings of one run-through event.
// Player and match ids come from monotonically increasing counters and are
// never reused, not even after deletions.
type Tournament struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Players      []*Player `json:"players"`
	Matches      []*Match  `json:"matches"`
	CreatedAt    time.Time `json:"created_at"`
	Settings     Settings  `json:"settings"`
	NextPlayerID int       `json:"next_player_id"`
	NextMatchID  int       `json:"next_match_id"`
}

// NewTournament creates an empty tournament
func NewTournament(id int64, name string, settings Settings) *Tournament {
	settings.Format = FormatRunThrough
	return &Tournament{
		ID:           id,
		Name:         name,
		Players:      []*Player{},
		Matches:      []*Match{},
		CreatedAt:    time.Now().UTC(),
		Settings:     settings,
		NextPlayerID: 1,
		NextMatchID:  1,
	}
}

// AddPlayer appends a new player. It returns nil when the first name is
// blank or when a player with the same normalized name already exists.
func (t *Tournament) AddPlayer(firstName, lastName, className string) *Player {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" {
		return nil
	}
	for _, p := range t.Players {
		if p.sameName(firstName, lastName) {
			return nil
		}
	}

	player := &Player{
		ID:        t.NextPlayerID,
		FirstName: firstName,
		LastName:  lastName,
		ClassName: strings.TrimSpace(className),
	}
	t.NextPlayerID++
	t.Players = append(t.Players, player)
	return player
}

// UpdatePlayer edits a player's names and class. It returns false when the
// player does not exist or the new name collides with another player.
func (t *Tournament) UpdatePlayer(id int, firstName, lastName, className string) bool {
	player := t.Player(id)
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if player == nil || firstName == "" {
		return false
	}
	for _, p := range t.Players {
		if p.ID != id && p.sameName(firstName, lastName) {
			return false
		}
	}
	player.FirstName = firstName
	player.LastName = lastName
	player.ClassName = strings.TrimSpace(className)
	return true
}

// RemovePlayer deletes the player and every match referencing it
func (t *Tournament) RemovePlayer(id int) {
	players := t.Players[:0]
	for _, p := range t.Players {
		if p.ID != id {
			players = append(players, p)
		}
	}
	t.Players = players

	matches := t.Matches[:0]
	for _, m := range t.Matches {
		if !m.Involves(id) {
			matches = append(matches, m)
		}
	}
	t.Matches = matches
}

// Player returns the player with the given id or nil
func (t *Tournament) Player(id int) *Player {
	for _, p := range t.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ToggleAbsent flips the absent flag, returning false for an unknown player
func (t *Tournament) ToggleAbsent(id int) bool {
	player := t.Player(id)
	if player == nil {
		return false
	}
	player.Absent = !player.Absent
	return true
}

// AddMatch appends an active match. Availability of both players is the
// caller's responsibility.
func (t *Tournament) AddMatch(whitePlayerID, blackPlayerID, round int) *Match {
	match := newMatch(t.NextMatchID, whitePlayerID, blackPlayerID, round)
	t.NextMatchID++
	t.Matches = append(t.Matches, match)
	return match
}

// Match returns the match with the given id or nil
func (t *Tournament) Match(id int) *Match {
	for _, m := range t.Matches {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// SetMatchResult records a result on the given match
func (t *Tournament) SetMatchResult(matchID int, token string) error {
	match := t.Match(matchID)
	if match == nil {
		return ErrMatchNotFound
	}
	return match.SetResult(token)
}

// PlayerMatches returns the player's matches in creation order
func (t *Tournament) PlayerMatches(id int) []*Match {
	var matches []*Match
	for _, m := range t.Matches {
		if m.Involves(id) {
			matches = append(matches, m)
		}
	}
	return matches
}

// ActiveMatches returns all matches without a result in creation order
func (t *Tournament) ActiveMatches() []*Match {
	var matches []*Match
	for _, m := range t.Matches {
		if m.IsActive() {
			matches = append(matches, m)
		}
	}
	return matches
}

// HasActiveMatch reports whether the player is currently playing
func (t *Tournament) HasActiveMatch(id int) bool {
	for _, m := range t.Matches {
		if m.IsActive() && m.Involves(id) {
			return true
		}
	}
	return false
}

// Score sums the points of the player's finished matches
func (t *Tournament) Score(id int) float64 {
	var score float64
	for _, m := range t.Matches {
		if m.IsFinished() {
			score += m.ScoreFor(id)
		}
	}
	return score
}

// FinishedMatchCount counts the finished matches the player took part in
func (t *Tournament) FinishedMatchCount(id int) int {
	count := 0
	for _, m := range t.Matches {
		if m.IsFinished() && m.Involves(id) {
			count++
		}
	}
	return count
}

// Percentage returns score per finished match as a value in [0,100].
// A player without finished matches has 0.
func (t *Tournament) Percentage(id int) float64 {
	finished := t.FinishedMatchCount(id)
	if finished == 0 {
		return 0
	}
	return t.Score(id) / float64(finished) * 100
}

// ColorPreference derives the preference from white minus black assignments
// over every match ever given to the player, active ones included.
func (t *Tournament) ColorPreference(id int) ColorPreference {
	diff := 0
	for _, m := range t.Matches {
		if m.WhitePlayerID == id {
			diff++
		}
		if m.BlackPlayerID == id {
			diff--
		}
	}

	switch {
	case diff >= 2:
		return ShouldBeBlack
	case diff <= -2:
		return ShouldBeWhite
	case diff == 1:
		return PrefersBlack
	case diff == -1:
		return PrefersWhite
	default:
		return Neutral
	}
}

// CurrentRound returns the highest round stamped on any match, or 1.
// It is never advanced automatically.
func (t *Tournament) CurrentRound() int {
	if len(t.Matches) == 0 {
		return 1
	}
	round := t.Matches[0].Round
	for _, m := range t.Matches[1:] {
		if m.Round > round {
			round = m.Round
		}
	}
	return round
}

// LastBatchID returns the batch of the newest match, or "" if there is none
func (t *Tournament) LastBatchID() string {
	if len(t.Matches) == 0 {
		return ""
	}
	return t.Matches[len(t.Matches)-1].BatchID
}

// RemoveBatch deletes every match of the batch and returns the removed matches
func (t *Tournament) RemoveBatch(batchID string) []*Match {
	if batchID == "" {
		return nil
	}
	var removed []*Match
	kept := make([]*Match, 0, len(t.Matches))
	for _, m := range t.Matches {
		if m.BatchID == batchID {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	t.Matches = kept
	return removed
}

// Summary returns the listing metadata of the tournament
func (t *Tournament) Summary() TournamentSummary {
	return TournamentSummary{
		ID:          t.ID,
		Name:        t.Name,
		CreatedAt:   t.CreatedAt,
		PlayerCount: len(t.Players),
		MatchCount:  len(t.Matches),
	}
}

// MarshalSnapshot serializes the tournament into its persisted form
func (t *Tournament) MarshalSnapshot() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling tournament: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot rebuilds a tournament from its persisted form
func UnmarshalSnapshot(data []byte) (*Tournament, error) {
	var t Tournament
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// normalize checks a decoded snapshot and fills what older snapshots may lack
func (t *Tournament) normalize() error {
	if t.Players == nil {
		t.Players = []*Player{}
	}
	if t.Matches == nil {
		t.Matches = []*Match{}
	}

	maxPlayerID := 0
	playerIDs := make(map[int]bool, len(t.Players))
	for _, p := range t.Players {
		switch {
		case p == nil:
			return fmt.Errorf("%w: null player", ErrInvalidImport)
		case p.ID <= 0:
			return fmt.Errorf("%w: player id %d", ErrInvalidImport, p.ID)
		case playerIDs[p.ID]:
			return fmt.Errorf("%w: duplicate player id %d", ErrInvalidImport, p.ID)
		case strings.TrimSpace(p.FirstName) == "":
			return fmt.Errorf("%w: player %d has no first name", ErrInvalidImport, p.ID)
		}
		playerIDs[p.ID] = true
		if p.ID > maxPlayerID {
			maxPlayerID = p.ID
		}
	}
	maxMatchID := 0
	matchIDs := make(map[int]bool, len(t.Matches))
	for _, m := range t.Matches {
		switch {
		case m == nil:
			return fmt.Errorf("%w: null match", ErrInvalidImport)
		case m.ID <= 0:
			return fmt.Errorf("%w: match id %d", ErrInvalidImport, m.ID)
		case matchIDs[m.ID]:
			return fmt.Errorf("%w: duplicate match id %d", ErrInvalidImport, m.ID)
		}
		matchIDs[m.ID] = true
		if m.Result != ResultNone {
			if _, err := ParseResult(string(m.Result)); err != nil {
				return fmt.Errorf("%w: match %d has result %q", ErrInvalidImport, m.ID, m.Result)
			}
		}
		if m.ID > maxMatchID {
			maxMatchID = m.ID
		}
	}

	// Counters are kept as persisted; they are only repaired when missing
	// or when they would hand out an id already in use.
	if t.NextPlayerID <= maxPlayerID {
		t.NextPlayerID = maxPlayerID + 1
	}
	if t.NextMatchID <= maxMatchID {
		t.NextMatchID = maxMatchID + 1
	}

	if t.Settings.Format == "" {
		t.Settings.Format = FormatRunThrough
	}
	if t.Settings.DisplayMode == "" {
		t.Settings.DisplayMode = DisplayModePoints
	}
	if err := t.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	return nil
}

// TournamentSummary is the listing entry kept next to each snapshot
type TournamentSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	PlayerCount int       `json:"player_count"`
	MatchCount  int       `json:"match_count"`
}
