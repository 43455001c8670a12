package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTournament() *Tournament {
	return NewTournament(1, "Spring Open", DefaultSettings())
}

func TestAddPlayer(t *testing.T) {
	tour := newTestTournament()

	p := tour.AddPlayer("  Anna ", "Jansen", "3B")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.ID)
	assert.Equal(t, "Anna", p.FirstName)
	assert.Equal(t, "Anna Jansen", p.FullName())
	assert.Equal(t, "3B", p.ClassName)

	q := tour.AddPlayer("Bram", "", "")
	require.NotNil(t, q)
	assert.Equal(t, 2, q.ID)
	assert.Equal(t, 3, tour.NextPlayerID)
}

func TestAddPlayerRejectsDuplicates(t *testing.T) {
	tour := newTestTournament()
	require.NotNil(t, tour.AddPlayer("Anna", "Jansen", "3B"))

	assert.Nil(t, tour.AddPlayer("anna", "JANSEN", "4C"))
	assert.Nil(t, tour.AddPlayer(" ANNA  ", " jansen", ""))
	assert.NotNil(t, tour.AddPlayer("Anna", "de Vries", ""))
	assert.Len(t, tour.Players, 2)
	assert.Equal(t, 3, tour.NextPlayerID)
}

func TestAddPlayerRequiresFirstName(t *testing.T) {
	tour := newTestTournament()
	assert.Nil(t, tour.AddPlayer("   ", "Jansen", ""))
	assert.Empty(t, tour.Players)
}

func TestRemovePlayerCascadesMatches(t *testing.T) {
	tour := newTestTournament()
	a := tour.AddPlayer("A", "", "")
	b := tour.AddPlayer("B", "", "")
	c := tour.AddPlayer("C", "", "")

	finished := tour.AddMatch(a.ID, b.ID, 1)
	require.NoError(t, finished.SetResult("1-0"))
	tour.AddMatch(c.ID, a.ID, 1)
	kept := tour.AddMatch(b.ID, c.ID, 1)

	tour.RemovePlayer(a.ID)

	assert.Nil(t, tour.Player(a.ID))
	require.Len(t, tour.Matches, 1)
	assert.Equal(t, kept.ID, tour.Matches[0].ID)
	for _, m := range tour.Matches {
		assert.False(t, m.Involves(a.ID))
	}

	// ids are not recycled after a deletion
	d := tour.AddPlayer("D", "", "")
	assert.Equal(t, 4, d.ID)
	assert.Equal(t, 4, tour.AddMatch(b.ID, d.ID, 1).ID)
}

func TestRemoveUnknownPlayerIsNoop(t *testing.T) {
	tour := newTestTournament()
	a := tour.AddPlayer("A", "", "")
	b := tour.AddPlayer("B", "", "")
	tour.AddMatch(a.ID, b.ID, 1)

	tour.RemovePlayer(42)
	assert.Len(t, tour.Players, 2)
	assert.Len(t, tour.Matches, 1)
}

func TestScoreIgnoresActiveMatches(t *testing.T) {
	tour := newTestTournament()
	a := tour.AddPlayer("A", "", "")
	b := tour.AddPlayer("B", "", "")

	require.NoError(t, tour.AddMatch(a.ID, b.ID, 1).SetResult("1-0"))
	require.NoError(t, tour.AddMatch(b.ID, a.ID, 1).SetResult("1/2-1/2"))
	assert.Equal(t, 1.5, tour.Score(a.ID))
	assert.Equal(t, 0.5, tour.Score(b.ID))

	tour.AddMatch(a.ID, b.ID, 1)
	assert.Equal(t, 1.5, tour.Score(a.ID))
	assert.Equal(t, 0.5, tour.Score(b.ID))
}

func TestPercentage(t *testing.T) {
	tour := newTestTournament()
	a := tour.AddPlayer("A", "", "")
	b := tour.AddPlayer("B", "", "")

	assert.Zero(t, tour.Percentage(a.ID))
	tour.AddMatch(a.ID, b.ID, 1)
	assert.Zero(t, tour.Percentage(a.ID), "active matches do not count")

	require.NoError(t, tour.Matches[0].SetResult("1-0"))
	require.NoError(t, tour.AddMatch(b.ID, a.ID, 1).SetResult("1/2-1/2"))
	assert.Equal(t, 75.0, tour.Percentage(a.ID))
	assert.Equal(t, 25.0, tour.Percentage(b.ID))
	assert.Zero(t, tour.Percentage(99))
}

func TestColorPreference(t *testing.T) {
	tests := []struct {
		name   string
		whites int
		blacks int
		want   ColorPreference
	}{
		{"no games", 0, 0, Neutral},
		{"balanced", 2, 2, Neutral},
		{"one white", 1, 0, PrefersBlack},
		{"one black", 0, 1, PrefersWhite},
		{"two whites", 2, 0, ShouldBeBlack},
		{"two blacks", 0, 2, ShouldBeWhite},
		{"three whites one black", 3, 1, ShouldBeBlack},
		{"one white three blacks", 1, 3, ShouldBeWhite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tour := newTestTournament()
			p := tour.AddPlayer("P", "", "")
			o := tour.AddPlayer("O", "", "")
			for i := 0; i < tt.whites; i++ {
				tour.AddMatch(p.ID, o.ID, 1)
			}
			for i := 0; i < tt.blacks; i++ {
				// finished and active matches count alike
				require.NoError(t, tour.AddMatch(o.ID, p.ID, 1).SetResult("0-1"))
			}
			assert.Equal(t, tt.want, tour.ColorPreference(p.ID))
		})
	}
}

func TestCurrentRound(t *testing.T) {
	tour := newTestTournament()
	assert.Equal(t, 1, tour.CurrentRound())

	tour.AddMatch(1, 2, 3)
	tour.AddMatch(3, 4, 5)
	tour.AddMatch(5, 6, 2)
	assert.Equal(t, 5, tour.CurrentRound())
}

func TestSetMatchResult(t *testing.T) {
	tour := newTestTournament()
	m := tour.AddMatch(1, 2, 1)

	assert.ErrorIs(t, tour.SetMatchResult(99, "1-0"), ErrMatchNotFound)
	assert.ErrorIs(t, tour.SetMatchResult(m.ID, "2-0"), ErrInvalidResult)
	assert.True(t, m.IsActive())
	require.NoError(t, tour.SetMatchResult(m.ID, "0-1"))
	assert.Equal(t, ResultBlackWin, m.Result)
}

func TestRemoveBatch(t *testing.T) {
	tour := newTestTournament()
	first := tour.AddMatch(1, 2, 1)
	first.BatchID = "batch_a"
	second := tour.AddMatch(3, 4, 1)
	second.BatchID = "batch_b"
	third := tour.AddMatch(5, 6, 1)
	third.BatchID = "batch_b"

	assert.Equal(t, "batch_b", tour.LastBatchID())
	removed := tour.RemoveBatch(tour.LastBatchID())
	assert.Len(t, removed, 2)
	require.Len(t, tour.Matches, 1)
	assert.Equal(t, first.ID, tour.Matches[0].ID)

	assert.Nil(t, tour.RemoveBatch(""))
	assert.Equal(t, 4, tour.NextMatchID)
}

func TestUpdatePlayerAndToggleAbsent(t *testing.T) {
	tour := newTestTournament()
	a := tour.AddPlayer("Anna", "Jansen", "")
	tour.AddPlayer("Bram", "Bakker", "")

	assert.True(t, tour.UpdatePlayer(a.ID, "Anna", "Smit", "4A"))
	assert.Equal(t, "Anna Smit", a.FullName())
	assert.Equal(t, "4A", a.ClassName)
	assert.False(t, tour.UpdatePlayer(a.ID, "bram", "bakker", ""))
	assert.False(t, tour.UpdatePlayer(99, "X", "Y", ""))

	assert.True(t, tour.ToggleAbsent(a.ID))
	assert.True(t, a.Absent)
	assert.True(t, tour.ToggleAbsent(a.ID))
	assert.False(t, a.Absent)
	assert.False(t, tour.ToggleAbsent(99))
}

func TestSnapshotRoundTrip(t *testing.T) {
	tour := newTestTournament()
	tour.Settings.AvoidSameClass = true
	tour.Settings.ConstraintY = 1.5
	a := tour.AddPlayer("Anna", "Jansen", "3B")
	b := tour.AddPlayer("Bram", "Bakker", "")
	c := tour.AddPlayer("Cas", "", "")
	c.Absent = true
	m := tour.AddMatch(a.ID, b.ID, 1)
	m.BatchID = BatchPrefixAutomatic + "x"
	require.NoError(t, m.SetResult("1/2-1/2"))
	tour.AddMatch(b.ID, a.ID, 2).BatchID = BatchPrefixManual + "y"
	tour.RemovePlayer(c.ID)

	data, err := tour.MarshalSnapshot()
	require.NoError(t, err)
	restored, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, tour.ID, restored.ID)
	assert.Equal(t, tour.Name, restored.Name)
	assert.Equal(t, tour.Settings, restored.Settings)
	assert.Equal(t, 4, restored.NextPlayerID)
	assert.Equal(t, 3, restored.NextMatchID)
	assert.Equal(t, tour.Players, restored.Players)
	require.Len(t, restored.Matches, 2)
	for i := range tour.Matches {
		assert.Equal(t, tour.Matches[i].Result, restored.Matches[i].Result)
		assert.Equal(t, tour.Matches[i].BatchID, restored.Matches[i].BatchID)
		assert.Equal(t, tour.Matches[i].IsNew, restored.Matches[i].IsNew)
	}
	assert.True(t, tour.CreatedAt.Equal(restored.CreatedAt))
	assert.True(t, tour.Matches[0].PlayedAt.Equal(*restored.Matches[0].PlayedAt))
	assert.Nil(t, restored.Matches[1].PlayedAt)
}

func TestUnmarshalSnapshotRepairsMissingCounters(t *testing.T) {
	data := []byte(`{
		"id": 3,
		"name": "legacy",
		"players": [{"id": 4, "first_name": "A"}, {"id": 9, "first_name": "B"}],
		"matches": [{"id": 12, "white_player_id": 4, "black_player_id": 9, "round": 1, "result": "1-0"}]
	}`)

	tour, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, 10, tour.NextPlayerID)
	assert.Equal(t, 13, tour.NextMatchID)
	assert.Equal(t, FormatRunThrough, tour.Settings.Format)
	assert.Equal(t, DisplayModePoints, tour.Settings.DisplayMode)
}

func TestUnmarshalSnapshotRejectsBadPayloads(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"players": [null]}`,
		`{"matches": [{"id": 1, "result": "2-0"}]}`,
		`{"players": [{"id": 1, "first_name": "A"}, {"id": 1, "first_name": "B"}]}`,
		`{"players": [{"id": 0, "first_name": "A"}]}`,
		`{"players": [{"id": 2, "first_name": "  ", "last_name": "Smit"}]}`,
		`{"matches": [{"id": 3, "white_player_id": 1, "black_player_id": 2}, {"id": 3, "white_player_id": 2, "black_player_id": 1}]}`,
		`{"matches": [{"id": -1, "white_player_id": 1, "black_player_id": 2}]}`,
		`{"settings": {"display_mode": "bogus"}}`,
		`{"settings": {"constraint_x": -4}}`,
		`{"settings": {"constraint_y": -1}}`,
	} {
		_, err := UnmarshalSnapshot([]byte(payload))
		assert.ErrorIs(t, err, ErrInvalidImport, payload)
	}

	_, err := UnmarshalSnapshot([]byte(`{"settings": {"display_mode": "bogus"}}`))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	bad := s
	bad.DisplayMode = "stars"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)

	bad = s
	bad.ConstraintX = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)

	bad = s
	bad.ConstraintY = -0.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSettings)
}
