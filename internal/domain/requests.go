package domain

// CreateTournamentRequest is the payload for creating a tournament. Missing
// settings fall back to the configured defaults.
type CreateTournamentRequest struct {
	Name     string         `json:"name"`
	Settings *Settings      `json:"settings,omitempty"`
	Players  []PlayerRecord `json:"players,omitempty"`
}

// CopyPlayersRequest creates a new tournament from players of another one.
// An empty PlayerIDs copies every player.
type CopyPlayersRequest struct {
	Name      string `json:"name"`
	PlayerIDs []int  `json:"player_ids,omitempty"`
}

// SettingsUpdate changes the tournament name and pairing settings. Nil
// fields are left as they are.
type SettingsUpdate struct {
	Name           *string  `json:"name,omitempty"`
	DisplayMode    *string  `json:"display_mode,omitempty"`
	ConstraintX    *int     `json:"constraint_x,omitempty"`
	ConstraintY    *float64 `json:"constraint_y,omitempty"`
	AvoidSameClass *bool    `json:"avoid_same_class,omitempty"`
}

// PairRequest lists the players picked on the pairing screen
type PairRequest struct {
	PlayerIDs []int `json:"player_ids"`
}

// ResultRequest carries a result token for one match
type ResultRequest struct {
	Result string `json:"result"`
}

// Pairing modes reported back to the caller
const (
	PairingModeAutomatic = "automatic"
	PairingModeManual    = "manual"
)

// PairingOutcome lists the matches created by one pairing request
type PairingOutcome struct {
	Mode    string   `json:"mode"`
	BatchID string   `json:"batch_id"`
	Matches []*Match `json:"matches"`
}

// ImportSummary reports how many players an import added
type ImportSummary struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
}

// BatchOutcome reports how a batch of submitted results was applied
type BatchOutcome struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}
