package transfer

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"github.com/runthrough-pairing/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"score":   formatScore,
	"percent": formatPercent,
}).ParseFS(templateFS, "templates/*.html"))

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

type standingsView struct {
	Name           string
	CreatedAt      string
	PlayerCount    int
	MatchCount     int
	ShowPercentage bool
	Standings      []domain.Standing
}

// RenderStandingsHTML writes a printable standings page for t
func RenderStandingsHTML(w io.Writer, t *domain.Tournament) error {
	view := standingsView{
		Name:           t.Name,
		CreatedAt:      t.CreatedAt.Format("2-1-2006"),
		PlayerCount:    len(t.Players),
		MatchCount:     len(t.Matches),
		ShowPercentage: t.Settings.DisplayMode == domain.DisplayModePercentage,
		Standings:      t.Standings(),
	}
	if err := templates.ExecuteTemplate(w, "standings.html", view); err != nil {
		return fmt.Errorf("rendering standings: %w", err)
	}
	return nil
}
