package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/runthrough-pairing/internal/domain"
	"github.com/runthrough-pairing/internal/service"
	"github.com/runthrough-pairing/internal/websocket"
)

const maxUploadSize = 10 << 20

// Handler provides HTTP handlers for the tournament API
type Handler struct {
	service *service.TournamentService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.TournamentService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/results/batch", h.SubmitResultBatch)

		r.Route("/tournaments", func(r chi.Router) {
			r.Post("/", h.CreateTournament)
			r.Get("/", h.ListTournaments)
			r.Post("/import", h.ImportTournament)
			r.Post("/csv", h.CreateTournamentFromCSV)

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", h.GetTournament)
				r.Delete("/", h.DeleteTournament)
				r.Put("/settings", h.UpdateSettings)
				r.Get("/export", h.ExportTournament)
				r.Post("/copy", h.CopyPlayers)

				r.Route("/players", func(r chi.Router) {
					r.Post("/", h.AddPlayer)
					r.Post("/import", h.ImportPlayers)
					r.Put("/{playerID}", h.UpdatePlayer)
					r.Delete("/{playerID}", h.RemovePlayer)
					r.Post("/{playerID}/absent", h.ToggleAbsent)
					r.Get("/{playerID}/history", h.PlayerHistory)
				})

				r.Get("/available", h.AvailablePlayers)
				r.Post("/pairings", h.Pair)
				r.Delete("/pairings/last", h.UndoLastBatch)
				r.Put("/matches/{matchID}/result", h.SetResult)

				r.Get("/standings", h.GetStandings)
				r.Get("/standings/top", h.GetTopStandings)
				r.Get("/standings/export", h.ExportStandings)
				r.Post("/standings/publish", h.PublishStandings)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors onto status codes. Anything unknown
// is logged and reported as an internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrDuplicatePlayer), errors.Is(err, domain.ErrNothingToUndo):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidResult),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidImport),
		errors.Is(err, domain.ErrNoPairings):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrExportDisabled):
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("failed to "+action, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decodeBody(w, r, v, false)
}

// decodeBody reads a size-limited JSON body. With optional set an empty
// body leaves v untouched.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize)).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, optional && errors.Is(err, io.EOF):
		return true
	case errors.As(err, &tooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, domain.ErrInvalidRequest)
	default:
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
	}
	return false
}

func (h *Handler) tournamentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tournamentID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return 0, false
	}
	return v, true
}

func attachment(w http.ResponseWriter, contentType, fileName string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{"total_connections": h.hub.GetTotalConnections()}
	if raw := r.URL.Query().Get("tournament_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		stats["subscribers"] = h.hub.GetSubscriberCount(id)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateTournament handles tournament creation
func (h *Handler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTournamentRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, summary, err := h.service.CreateTournament(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create tournament", err)
		return
	}

	h.writeCreated(w, map[string]any{
		"tournament": t,
		"import":     summary,
	})
}

// CreateTournamentFromCSV creates a tournament from an uploaded player list.
// The name comes from the query string and the body is the CSV file.
func (h *Handler) CreateTournamentFromCSV(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxUploadSize)
	t, summary, err := h.service.CreateTournamentFromCSV(r.Context(), r.URL.Query().Get("name"), body)
	if err != nil {
		h.writeServiceError(w, "create tournament from csv", err)
		return
	}

	h.writeCreated(w, map[string]any{
		"tournament": t,
		"import":     summary,
	})
}

// ImportTournament stores an exported JSON snapshot as a new tournament
func (h *Handler) ImportTournament(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	t, err := h.service.ImportJSON(r.Context(), data)
	if err != nil {
		h.writeServiceError(w, "import tournament", err)
		return
	}
	h.writeCreated(w, t)
}

// ListTournaments returns all tournaments
func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTournaments(r.Context())
	if err != nil {
		h.writeServiceError(w, "list tournaments", err)
		return
	}
	h.writeSuccess(w, list)
}

// GetTournament returns a tournament by ID
func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	t, err := h.service.GetTournament(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get tournament", err)
		return
	}
	h.writeSuccess(w, t)
}

// DeleteTournament deletes a tournament
func (h *Handler) DeleteTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTournament(r.Context(), id); err != nil {
		h.writeServiceError(w, "delete tournament", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// UpdateSettings changes the tournament name and pairing settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	var update domain.SettingsUpdate
	if !h.decode(w, r, &update) {
		return
	}

	t, err := h.service.UpdateSettings(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, "update settings", err)
		return
	}
	h.writeSuccess(w, t)
}

// ExportTournament downloads the JSON snapshot of a tournament
func (h *Handler) ExportTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	data, fileName, err := h.service.ExportJSON(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "export tournament", err)
		return
	}

	attachment(w, "application/json", fileName)
	_, _ = w.Write(data)
}

// CopyPlayers starts a new tournament with players of this one
func (h *Handler) CopyPlayers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	var req domain.CopyPlayersRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.service.CopyPlayers(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, "copy players", err)
		return
	}
	h.writeCreated(w, t)
}

// AddPlayer adds a player to a tournament
func (h *Handler) AddPlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	var record domain.PlayerRecord
	if !h.decode(w, r, &record) {
		return
	}

	player, err := h.service.AddPlayer(r.Context(), id, record)
	if err != nil {
		h.writeServiceError(w, "add player", err)
		return
	}
	h.writeCreated(w, player)
}

// ImportPlayers adds the players of an uploaded CSV list
func (h *Handler) ImportPlayers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.ImportPlayersCSV(r.Context(), id, http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.writeServiceError(w, "import players", err)
		return
	}
	h.writeSuccess(w, summary)
}

// UpdatePlayer edits a player
func (h *Handler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	playerID, ok := h.intParam(w, r, "playerID")
	if !ok {
		return
	}
	var record domain.PlayerRecord
	if !h.decode(w, r, &record) {
		return
	}

	player, err := h.service.UpdatePlayer(r.Context(), id, playerID, record)
	if err != nil {
		h.writeServiceError(w, "update player", err)
		return
	}
	h.writeSuccess(w, player)
}

// RemovePlayer removes a player and their matches
func (h *Handler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	playerID, ok := h.intParam(w, r, "playerID")
	if !ok {
		return
	}

	if err := h.service.RemovePlayer(r.Context(), id, playerID); err != nil {
		h.writeServiceError(w, "remove player", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "removed"})
}

// ToggleAbsent flips the absent flag of a player
func (h *Handler) ToggleAbsent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	playerID, ok := h.intParam(w, r, "playerID")
	if !ok {
		return
	}

	player, err := h.service.ToggleAbsent(r.Context(), id, playerID)
	if err != nil {
		h.writeServiceError(w, "toggle absent", err)
		return
	}
	h.writeSuccess(w, player)
}

// PlayerHistory lists the matches of a player
func (h *Handler) PlayerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	playerID, ok := h.intParam(w, r, "playerID")
	if !ok {
		return
	}

	history, err := h.service.PlayerHistory(r.Context(), id, playerID)
	if err != nil {
		h.writeServiceError(w, "get player history", err)
		return
	}
	h.writeSuccess(w, history)
}

// AvailablePlayers lists the players that can be paired
func (h *Handler) AvailablePlayers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	players, err := h.service.AvailablePlayers(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "list available players", err)
		return
	}
	h.writeSuccess(w, players)
}

// Pair creates pairings for the selected or all available players
func (h *Handler) Pair(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	// An empty body pairs every available player
	var req domain.PairRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}

	outcome, err := h.service.Pair(r.Context(), id, req.PlayerIDs)
	if err != nil {
		h.writeServiceError(w, "create pairings", err)
		return
	}
	h.writeCreated(w, outcome)
}

// UndoLastBatch removes the most recent pairing batch
func (h *Handler) UndoLastBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	removed, err := h.service.UndoLastBatch(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "undo pairings", err)
		return
	}
	h.writeSuccess(w, map[string]any{
		"batch_id": removed[0].BatchID,
		"removed":  removed,
	})
}

// SetResult records the result of a match
func (h *Handler) SetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	matchID, ok := h.intParam(w, r, "matchID")
	if !ok {
		return
	}
	var req domain.ResultRequest
	if !h.decode(w, r, &req) {
		return
	}

	match, err := h.service.SetResult(r.Context(), id, matchID, req.Result)
	if err != nil {
		h.writeServiceError(w, "set result", err)
		return
	}
	h.writeSuccess(w, match)
}

// SubmitResultBatch applies results for any number of tournaments
func (h *Handler) SubmitResultBatch(w http.ResponseWriter, r *http.Request) {
	var batch struct {
		Results []domain.ResultSubmission `json:"results"`
	}
	if !h.decode(w, r, &batch) {
		return
	}
	if len(batch.Results) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	outcome := h.service.ApplyResults(r.Context(), batch.Results, service.SourceHTTP)
	h.writeSuccess(w, outcome)
}

// GetStandings returns the full ranking
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	standings, err := h.service.Standings(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get standings", err)
		return
	}
	h.writeSuccess(w, standings)
}

// GetTopStandings returns the best placed players
func (h *Handler) GetTopStandings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	standings, err := h.service.TopStandings(r.Context(), id, n)
	if err != nil {
		h.writeServiceError(w, "get top standings", err)
		return
	}
	h.writeSuccess(w, standings)
}

func exportFormat(r *http.Request) string {
	if format := r.URL.Query().Get("format"); format != "" {
		return format
	}
	return service.FormatHTML
}

// ExportStandings renders the standings as HTML or CSV
func (h *Handler) ExportStandings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	format := exportFormat(r)
	export, err := h.service.ExportStandings(r.Context(), id, format)
	if err != nil {
		h.writeServiceError(w, "export standings", err)
		return
	}

	// HTML is shown inline for printing unless a download is asked for
	if format == service.FormatHTML && r.URL.Query().Get("download") == "" {
		w.Header().Set("Content-Type", export.ContentType)
	} else {
		attachment(w, export.ContentType, export.FileName)
	}
	_, _ = w.Write(export.Data)
}

// PublishStandings uploads the rendered standings to the export bucket
func (h *Handler) PublishStandings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	result, err := h.service.PublishStandings(r.Context(), id, exportFormat(r))
	if err != nil {
		h.writeServiceError(w, "publish standings", err)
		return
	}
	h.writeCreated(w, result)
}
