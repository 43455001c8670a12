package transfer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gosimple/slug"
	"github.com/runthrough-pairing/internal/domain"
)

// ExportJSON returns the full snapshot of t, indented for humans
func ExportJSON(t *domain.Tournament) ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("exporting tournament %d: %w", t.ID, err)
	}
	return data, nil
}

// ImportJSON parses an exported snapshot. The caller is expected to assign
// a fresh tournament id before storing the result.
func ImportJSON(data []byte) (*domain.Tournament, error) {
	t, err := domain.UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ExportFileName builds a download name like "spring-open_1718000000000.json"
func ExportFileName(name, ext string, at time.Time) string {
	base := slug.Make(name)
	if base == "" {
		base = "tournament"
	}
	return base + "_" + strconv.FormatInt(at.UnixMilli(), 10) + "." + ext
}
