package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/runthrough-pairing/internal/domain"
	"github.com/runthrough-pairing/internal/pairing"
	"github.com/runthrough-pairing/internal/redis"
	"github.com/runthrough-pairing/internal/service"
	"github.com/runthrough-pairing/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	store := redis.NewTournamentStoreWithClient(client, logger)
	svc := service.NewTournamentService(store, pairing.NewService(), service.Options{
		Defaults:    domain.DefaultSettings(),
		Broadcaster: hub,
	}, logger)
	return NewHandler(svc, hub, logger).Router()
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func createTournament(t *testing.T, router http.Handler, players ...string) int64 {
	t.Helper()
	records := make([]domain.PlayerRecord, len(players))
	for i, p := range players {
		records[i] = domain.PlayerRecord{FirstName: p, LastName: "Test"}
	}
	rec := do(t, router, http.MethodPost, "/api/v1/tournaments", domain.CreateTournamentRequest{
		Name:    "Club Night",
		Players: records,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Tournament domain.Tournament    `json:"tournament"`
		Import     domain.ImportSummary `json:"import"`
	}
	decodeData(t, rec, &created)
	assert.Equal(t, len(players), created.Import.Added)
	return created.Tournament.ID
}

func TestHealthAndCORS(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tournaments", nil)
	req.Header.Set("Origin", "https://club.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTournamentLifecycle(t *testing.T) {
	router := newTestRouter(t)
	id := createTournament(t, router, "Anna", "Bram", "Cas", "Dirk")
	base := fmt.Sprintf("/api/v1/tournaments/%d", id)

	rec := do(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/players", domain.PlayerRecord{FirstName: "anna", LastName: "test"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodDelete, base+"/pairings/last", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/pairings", domain.PairRequest{PlayerIDs: []int{1, 2}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var outcome domain.PairingOutcome
	decodeData(t, rec, &outcome)
	assert.Equal(t, domain.PairingModeManual, outcome.Mode)
	require.Len(t, outcome.Matches, 1)
	matchPath := fmt.Sprintf("%s/matches/%d/result", base, outcome.Matches[0].ID)

	rec = do(t, router, http.MethodPut, matchPath, domain.ResultRequest{Result: "3-0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPut, matchPath, domain.ResultRequest{Result: "1/2-1/2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, base+"/standings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var standings []domain.Standing
	decodeData(t, rec, &standings)
	require.Len(t, standings, 4)
	assert.Equal(t, 0.5, standings[0].Score)

	rec = do(t, router, http.MethodGet, base+"/standings/top?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var top []domain.Standing
	decodeData(t, rec, &top)
	assert.Len(t, top, 2)

	rec = do(t, router, http.MethodGet, base+"/players/1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/v1/tournaments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/tournaments", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/tournaments", domain.CreateTournamentRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/tournaments/import", "not json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/results/batch", map[string]any{"results": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := createTournament(t, router, "Anna")
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tournaments/%d/pairings", id), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	mode := "stars"
	rec = do(t, router, http.MethodPut, fmt.Sprintf("/api/v1/tournaments/%d/settings", id), domain.SettingsUpdate{DisplayMode: &mode})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCSVImportAndExports(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/tournaments/csv?name=School+Cup", "voornaam,naam,klas\nAnna,Jansen,3B\nBram,Bakker,3C\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Tournament domain.Tournament `json:"tournament"`
	}
	decodeData(t, rec, &created)
	base := fmt.Sprintf("/api/v1/tournaments/%d", created.Tournament.ID)

	rec = do(t, router, http.MethodPost, base+"/players/import", "voornaam;naam\nCas;Visser\nAnna;Jansen\n")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary domain.ImportSummary
	decodeData(t, rec, &summary)
	assert.Equal(t, domain.ImportSummary{Added: 1, Duplicates: 1}, summary)

	rec = do(t, router, http.MethodGet, base+"/standings/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "Anna Jansen")

	rec = do(t, router, http.MethodGet, base+"/standings/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "school-cup_")

	rec = do(t, router, http.MethodPost, base+"/standings/publish", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := rec.Body.String()

	rec = do(t, router, http.MethodPost, "/api/v1/tournaments/import", snapshot)
	require.Equal(t, http.StatusCreated, rec.Code)
	var imported domain.Tournament
	decodeData(t, rec, &imported)
	assert.NotEqual(t, created.Tournament.ID, imported.ID)
	assert.Len(t, imported.Players, 3)

	rec = do(t, router, http.MethodGet, "/api/v1/tournaments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.TournamentSummary
	decodeData(t, rec, &list)
	assert.Len(t, list, 2)
}

func TestResultBatch(t *testing.T) {
	router := newTestRouter(t)
	id := createTournament(t, router, "Anna", "Bram")

	rec := do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tournaments/%d/pairings", id), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var outcome domain.PairingOutcome
	decodeData(t, rec, &outcome)
	require.Len(t, outcome.Matches, 1)

	rec = do(t, router, http.MethodPost, "/api/v1/results/batch", map[string]any{
		"results": []domain.ResultSubmission{
			{TournamentID: id, MatchID: outcome.Matches[0].ID, Result: "0-1"},
			{TournamentID: id, MatchID: 99, Result: "1-0"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch domain.BatchOutcome
	decodeData(t, rec, &batch)
	assert.Equal(t, domain.BatchOutcome{Applied: 1, Failed: 1}, batch)

	rec = do(t, router, http.MethodGet, "/api/v1/ws/stats?tournament_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	decodeData(t, rec, &stats)
	assert.Equal(t, 0, stats["subscribers"])
}

func TestPairWithStreamedEmptyBody(t *testing.T) {
	router := newTestRouter(t)
	id := createTournament(t, router, "Anna", "Bram", "Cas", "Dirk")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/tournaments/%d/pairings", id), io.NopCloser(strings.NewReader("")))
	require.Equal(t, int64(-1), req.ContentLength)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var outcome domain.PairingOutcome
	decodeData(t, rec, &outcome)
	assert.Equal(t, domain.PairingModeAutomatic, outcome.Mode)
	assert.Len(t, outcome.Matches, 2)
}

func TestOversizedJSONBody(t *testing.T) {
	router := newTestRouter(t)

	body := `{"name": "` + strings.Repeat("a", maxUploadSize) + `"}`
	rec := do(t, router, http.MethodPost, "/api/v1/tournaments", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/results/batch", `{"results": [`+strings.Repeat(" ", maxUploadSize)+`]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
