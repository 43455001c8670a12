// Package transfer moves tournaments and their standings in and out of the
// service: JSON snapshots, player lists in CSV and printable standings.
package transfer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/runthrough-pairing/internal/domain"
)

// Header aliases accepted for the player columns. Matching is exact after
// trimming and lower-casing.
var (
	firstNameHeaders = []string{"voornaam", "firstname", "first name", "first"}
	lastNameHeaders  = []string{"naam", "lastname", "last name", "surname"}
	classHeaders     = []string{"klas", "class", "grade"}
)

// DetectSeparator picks the field separator from the first line: a
// semicolon wins over a tab, anything else is read as comma separated.
func DetectSeparator(firstLine string) rune {
	switch {
	case strings.ContainsRune(firstLine, ';'):
		return ';'
	case strings.ContainsRune(firstLine, '\t'):
		return '\t'
	default:
		return ','
	}
}

type columns struct {
	firstName int
	lastName  int
	class     int
}

func mapColumns(header []string) columns {
	cols := columns{firstName: -1, lastName: -1, class: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case contains(firstNameHeaders, h):
			cols.firstName = i
		case contains(lastNameHeaders, h):
			cols.lastName = i
		case h == "name":
			if cols.firstName < 0 {
				cols.firstName = i
			} else {
				cols.lastName = i
			}
		case contains(classHeaders, h):
			cols.class = i
		}
	}

	if cols.firstName < 0 {
		cols.firstName = 0
	}
	if cols.lastName < 0 {
		cols.lastName = 1
	}
	return cols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ParsePlayersCSV reads a player list. The first line is always the header.
// Blank lines are skipped and rows without both a first and a last name are
// dropped.
func ParsePlayersCSV(r io.Reader) ([]domain.PlayerRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}

	content := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if content == "" {
		return []domain.PlayerRecord{}, nil
	}

	firstLine, _, _ := strings.Cut(content, "\n")
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = DetectSeparator(firstLine)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading csv header: %v", domain.ErrInvalidImport, err)
	}
	cols := mapColumns(header)

	players := []domain.PlayerRecord{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading csv row: %v", domain.ErrInvalidImport, err)
		}

		p := domain.PlayerRecord{
			FirstName: field(record, cols.firstName),
			LastName:  field(record, cols.lastName),
			ClassName: field(record, cols.class),
		}
		if p.FirstName == "" || p.LastName == "" {
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

var standingsCSVHeader = []string{"rank", "name", "class", "score", "percentage", "matches"}

// WriteStandingsCSV writes the current standings of t as comma separated
// values with a header row.
func WriteStandingsCSV(w io.Writer, t *domain.Tournament) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(standingsCSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, s := range t.Standings() {
		row := []string{
			strconv.Itoa(s.Rank),
			s.FullName,
			s.ClassName,
			formatScore(s.Score),
			strconv.FormatFloat(s.Percentage, 'f', 1, 64),
			strconv.Itoa(s.MatchCount),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
