package transfer

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/runthrough-pairing/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, content string) []domain.PlayerRecord {
	t.Helper()
	players, err := ParsePlayersCSV(strings.NewReader(content))
	require.NoError(t, err)
	return players
}

func TestParsePlayersCSVSeparators(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"comma", "voornaam,naam,klas\nJan,Peeters,5A\nMarie,Janssens,5B"},
		{"semicolon", "voornaam;naam;klas\nJan;Peeters;5A\nMarie;Janssens;5B"},
		{"tab", "voornaam\tnaam\tklas\nJan\tPeeters\t5A\nMarie\tJanssens\t5B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			players := parse(t, tt.content)
			require.Len(t, players, 2)
			assert.Equal(t, domain.PlayerRecord{FirstName: "Jan", LastName: "Peeters", ClassName: "5A"}, players[0])
			assert.Equal(t, domain.PlayerRecord{FirstName: "Marie", LastName: "Janssens", ClassName: "5B"}, players[1])
		})
	}
}

func TestDetectSeparatorPrefersSemicolon(t *testing.T) {
	assert.Equal(t, ';', DetectSeparator("a;b\tc,d"))
	assert.Equal(t, '\t', DetectSeparator("a\tb,c"))
	assert.Equal(t, ',', DetectSeparator("a b"))
}

func TestParsePlayersCSVHeaderAliases(t *testing.T) {
	players := parse(t, "Class,Last Name,First Name\n5A,Peeters,Jan")
	require.Len(t, players, 1)
	assert.Equal(t, domain.PlayerRecord{FirstName: "Jan", LastName: "Peeters", ClassName: "5A"}, players[0])

	players = parse(t, "surname,grade,first\nPeeters,6B,Jan")
	require.Len(t, players, 1)
	assert.Equal(t, domain.PlayerRecord{FirstName: "Jan", LastName: "Peeters", ClassName: "6B"}, players[0])
}

func TestParsePlayersCSVGenericName(t *testing.T) {
	// the first "name" column is the first name, a later one the last name
	players := parse(t, "name,name\nJan,Peeters")
	require.Len(t, players, 1)
	assert.Equal(t, "Jan", players[0].FirstName)
	assert.Equal(t, "Peeters", players[0].LastName)

	players = parse(t, "voornaam,name\nJan,Peeters")
	require.Len(t, players, 1)
	assert.Equal(t, "Jan", players[0].FirstName)
	assert.Equal(t, "Peeters", players[0].LastName)
}

func TestParsePlayersCSVFallsBackToPositions(t *testing.T) {
	players := parse(t, "col a,col b,col c\nJan,Peeters,5A")
	require.Len(t, players, 1)
	assert.Equal(t, "Jan", players[0].FirstName)
	assert.Equal(t, "Peeters", players[0].LastName)
	assert.Empty(t, players[0].ClassName)
}

func TestParsePlayersCSVSkipsBlankAndIncompleteRows(t *testing.T) {
	players := parse(t, "voornaam,naam\nJan,Peeters\n\n,Janssens\nTom,\n  Marie  ,  Janssens  \n")
	require.Len(t, players, 2)
	assert.Equal(t, "Jan", players[0].FirstName)
	assert.Equal(t, "Marie", players[1].FirstName)
	assert.Equal(t, "Janssens", players[1].LastName)
}

func TestParsePlayersCSVEmpty(t *testing.T) {
	assert.Empty(t, parse(t, ""))
	assert.Empty(t, parse(t, "   \n  "))
	assert.Empty(t, parse(t, "voornaam,naam"))
}

func TestParsePlayersCSVQuotedFields(t *testing.T) {
	players := parse(t, "voornaam,naam,klas\n\"Jan\",\"de Smet, jr.\",5A")
	require.Len(t, players, 1)
	assert.Equal(t, "de Smet, jr.", players[0].LastName)
}

func newStandingsTournament(t *testing.T) *domain.Tournament {
	t.Helper()
	tour := domain.NewTournament(7, "Spring Open", domain.DefaultSettings())
	tour.CreatedAt = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	a := tour.AddPlayer("Jan", "Peeters", "5A")
	b := tour.AddPlayer("Marie", "<b>Janssens</b>", "")
	require.NoError(t, tour.AddMatch(a.ID, b.ID, 1).SetResult("0-1"))
	require.NoError(t, tour.AddMatch(b.ID, a.ID, 1).SetResult("1/2-1/2"))
	return tour
}

func TestWriteStandingsCSV(t *testing.T) {
	tour := newStandingsTournament(t)

	var buf bytes.Buffer
	require.NoError(t, WriteStandingsCSV(&buf, tour))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, standingsCSVHeader, records[0])
	assert.Equal(t, []string{"1", "Marie <b>Janssens</b>", "", "1.5", "75.0", "2"}, records[1])
	assert.Equal(t, []string{"2", "Jan Peeters", "5A", "0.5", "25.0", "2"}, records[2])
}

func TestRenderStandingsHTML(t *testing.T) {
	tour := newStandingsTournament(t)

	var buf bytes.Buffer
	require.NoError(t, RenderStandingsHTML(&buf, tour))
	html := buf.String()

	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "<title>Spring Open - Klassement</title>")
	assert.Contains(t, html, "Aangemaakt: 9-3-2024")
	assert.Contains(t, html, "Aantal spelers: 2")
	assert.Contains(t, html, "Aantal partijen: 2")
	assert.Contains(t, html, "&lt;b&gt;Janssens&lt;/b&gt;")
	assert.NotContains(t, html, "<th>Percentage</th>")
	assert.Less(t, strings.Index(html, "Janssens"), strings.Index(html, "Jan Peeters"))

	tour.Settings.DisplayMode = domain.DisplayModePercentage
	buf.Reset()
	require.NoError(t, RenderStandingsHTML(&buf, tour))
	assert.Contains(t, buf.String(), "<th>Percentage</th>")
	assert.Contains(t, buf.String(), "75.0%")
}

func TestJSONRoundTrip(t *testing.T) {
	tour := newStandingsTournament(t)

	data, err := ExportJSON(tour)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"name\": \"Spring Open\"")

	imported, err := ImportJSON(data)
	require.NoError(t, err)
	assert.Equal(t, tour.Name, imported.Name)
	assert.Len(t, imported.Players, 2)
	assert.Len(t, imported.Matches, 2)
	assert.Equal(t, tour.Standings(), imported.Standings())
}

func TestImportJSONRejectsGarbage(t *testing.T) {
	_, err := ImportJSON([]byte("invalid json"))
	assert.ErrorIs(t, err, domain.ErrInvalidImport)
}

func TestExportFileName(t *testing.T) {
	at := time.UnixMilli(1718000000000)
	assert.Equal(t, "spring-open-2024_1718000000000.json", ExportFileName("Spring Open 2024!", "json", at))
	assert.Equal(t, "tournament_1718000000000.csv", ExportFileName("???", "csv", at))
}
