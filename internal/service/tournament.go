package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/runthrough-pairing/internal/domain"
	"github.com/runthrough-pairing/internal/pairing"
	"github.com/runthrough-pairing/internal/storage"
	"github.com/runthrough-pairing/internal/transfer"
)

// SnapshotStore persists whole tournaments
type SnapshotStore interface {
	GenerateID(ctx context.Context) (int64, error)
	Save(ctx context.Context, t *domain.Tournament) error
	Load(ctx context.Context, id int64) (*domain.Tournament, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]domain.TournamentSummary, error)
	TopStandings(ctx context.Context, id int64, n int) ([]domain.Standing, error)
}

// Archive is the durable record kept next to the snapshot store
type Archive interface {
	DeleteTournament(ctx context.Context, id int64) error
	RecordResultEvents(ctx context.Context, events []domain.ResultEvent) error
}

// Broadcaster pushes changes to live subscribers
type Broadcaster interface {
	BroadcastTournamentUpdate(update domain.TournamentUpdate)
	BroadcastTournamentDeleted(tournamentID int64)
}

// Result sources recorded in the audit trail
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

var errNothingApplied = errors.New("no result in batch could be applied")

const (
	defaultTopStandings = 10
	maxTopStandings     = 500
)

// Options holds the optional collaborators and settings of the service
type Options struct {
	Defaults     domain.Settings
	Archive      Archive
	Broadcaster  Broadcaster
	Uploader     storage.FileUploader
	ExportPrefix string
}

// TournamentService runs every tournament operation as one
// load-change-save cycle. Cycles are serialized so concurrent requests
// never interleave on the same snapshot.
type TournamentService struct {
	store        SnapshotStore
	pairing      *pairing.Service
	archive      Archive
	broadcaster  Broadcaster
	uploader     storage.FileUploader
	defaults     domain.Settings
	exportPrefix string
	logger       *slog.Logger
	mu           sync.Mutex
}

// NewTournamentService creates a new tournament service
func NewTournamentService(
	store SnapshotStore,
	pairingService *pairing.Service,
	opts Options,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		store:        store,
		pairing:      pairingService,
		archive:      opts.Archive,
		broadcaster:  opts.Broadcaster,
		uploader:     opts.Uploader,
		defaults:     opts.Defaults,
		exportPrefix: opts.ExportPrefix,
		logger:       logger,
	}
}

// mutate loads a tournament, applies fn and saves the result. Nothing is
// saved when fn fails.
func (s *TournamentService) mutate(ctx context.Context, id int64, fn func(t *domain.Tournament) error) (*domain.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("saving tournament: %w", err)
	}

	s.publish(t)
	return t, nil
}

// create stores a brand new tournament under a fresh id
func (s *TournamentService) create(ctx context.Context, t *domain.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.GenerateID(ctx)
	if err != nil {
		return err
	}
	t.ID = id
	if err := s.store.Save(ctx, t); err != nil {
		return fmt.Errorf("saving tournament: %w", err)
	}

	s.logger.Info("tournament created",
		"tournament_id", t.ID,
		"name", t.Name,
		"player_count", len(t.Players),
	)
	s.publish(t)
	return nil
}

func (s *TournamentService) publish(t *domain.Tournament) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastTournamentUpdate(t.Update())
	}
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	return name, nil
}

func addPlayers(t *domain.Tournament, records []domain.PlayerRecord) domain.ImportSummary {
	var summary domain.ImportSummary
	for _, r := range records {
		if t.AddPlayer(r.FirstName, r.LastName, r.ClassName) == nil {
			summary.Duplicates++
			continue
		}
		summary.Added++
	}
	return summary
}

// CreateTournament creates a tournament, optionally seeded with players
func (s *TournamentService) CreateTournament(ctx context.Context, req domain.CreateTournamentRequest) (*domain.Tournament, domain.ImportSummary, error) {
	name, err := requireName(req.Name)
	if err != nil {
		return nil, domain.ImportSummary{}, err
	}

	settings := s.defaults
	if req.Settings != nil {
		settings = *req.Settings
		if settings.DisplayMode == "" {
			settings.DisplayMode = s.defaults.DisplayMode
		}
	}
	if err := settings.Validate(); err != nil {
		return nil, domain.ImportSummary{}, err
	}

	t := domain.NewTournament(0, name, settings)
	summary := addPlayers(t, req.Players)
	if err := s.create(ctx, t); err != nil {
		return nil, domain.ImportSummary{}, err
	}
	return t, summary, nil
}

// CreateTournamentFromCSV creates a tournament with the players of a CSV list
func (s *TournamentService) CreateTournamentFromCSV(ctx context.Context, name string, r io.Reader) (*domain.Tournament, domain.ImportSummary, error) {
	records, err := transfer.ParsePlayersCSV(r)
	if err != nil {
		return nil, domain.ImportSummary{}, err
	}
	return s.CreateTournament(ctx, domain.CreateTournamentRequest{Name: name, Players: records})
}

// CopyPlayers starts a new tournament with players and settings of an
// existing one. Match history is not copied.
func (s *TournamentService) CopyPlayers(ctx context.Context, sourceID int64, req domain.CopyPlayersRequest) (*domain.Tournament, error) {
	name, err := requireName(req.Name)
	if err != nil {
		return nil, err
	}

	source, err := s.store.Load(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	selected := make(map[int]bool, len(req.PlayerIDs))
	for _, id := range req.PlayerIDs {
		if source.Player(id) == nil {
			return nil, fmt.Errorf("%w: %d", domain.ErrPlayerNotFound, id)
		}
		selected[id] = true
	}

	t := domain.NewTournament(0, name, source.Settings)
	for _, p := range source.Players {
		if len(selected) > 0 && !selected[p.ID] {
			continue
		}
		t.AddPlayer(p.FirstName, p.LastName, p.ClassName)
	}

	if err := s.create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ImportJSON stores an exported tournament under a fresh id
func (s *TournamentService) ImportJSON(ctx context.Context, data []byte) (*domain.Tournament, error) {
	t, err := transfer.ImportJSON(data)
	if err != nil {
		return nil, err
	}
	if err := s.create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ExportJSON returns the snapshot of a tournament and a suggested file name
func (s *TournamentService) ExportJSON(ctx context.Context, id int64) ([]byte, string, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := transfer.ExportJSON(t)
	if err != nil {
		return nil, "", err
	}
	return data, transfer.ExportFileName(t.Name, "json", time.Now()), nil
}

// GetTournament returns one tournament
func (s *TournamentService) GetTournament(ctx context.Context, id int64) (*domain.Tournament, error) {
	return s.store.Load(ctx, id)
}

// ListTournaments returns the listing entries of all tournaments
func (s *TournamentService) ListTournaments(ctx context.Context) ([]domain.TournamentSummary, error) {
	return s.store.List(ctx)
}

// DeleteTournament removes a tournament from the store and the archive
func (s *TournamentService) DeleteTournament(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.DeleteTournament(ctx, id); err != nil && !errors.Is(err, domain.ErrTournamentNotFound) {
			s.logger.Warn("failed to delete archived tournament", "tournament_id", id, "error", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastTournamentDeleted(id)
	}

	s.logger.Info("tournament deleted", "tournament_id", id)
	return nil
}

// UpdateSettings changes the name and pairing settings. Invalid values
// leave the tournament untouched.
func (s *TournamentService) UpdateSettings(ctx context.Context, id int64, update domain.SettingsUpdate) (*domain.Tournament, error) {
	return s.mutate(ctx, id, func(t *domain.Tournament) error {
		settings := t.Settings
		name := t.Name
		if update.Name != nil {
			n, err := requireName(*update.Name)
			if err != nil {
				return err
			}
			name = n
		}
		if update.DisplayMode != nil {
			settings.DisplayMode = domain.DisplayMode(*update.DisplayMode)
		}
		if update.ConstraintX != nil {
			settings.ConstraintX = *update.ConstraintX
		}
		if update.ConstraintY != nil {
			settings.ConstraintY = *update.ConstraintY
		}
		if update.AvoidSameClass != nil {
			settings.AvoidSameClass = *update.AvoidSameClass
		}
		if err := settings.Validate(); err != nil {
			return err
		}

		t.Name = name
		t.Settings = settings
		return nil
	})
}

// AddPlayer adds one player to a tournament
func (s *TournamentService) AddPlayer(ctx context.Context, id int64, record domain.PlayerRecord) (*domain.Player, error) {
	var player *domain.Player
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		if strings.TrimSpace(record.FirstName) == "" {
			return fmt.Errorf("%w: first name is required", domain.ErrInvalidRequest)
		}
		player = t.AddPlayer(record.FirstName, record.LastName, record.ClassName)
		if player == nil {
			return domain.ErrDuplicatePlayer
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// UpdatePlayer edits a player's names and class
func (s *TournamentService) UpdatePlayer(ctx context.Context, id int64, playerID int, record domain.PlayerRecord) (*domain.Player, error) {
	var player *domain.Player
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		player = t.Player(playerID)
		if player == nil {
			return domain.ErrPlayerNotFound
		}
		if strings.TrimSpace(record.FirstName) == "" {
			return fmt.Errorf("%w: first name is required", domain.ErrInvalidRequest)
		}
		if !t.UpdatePlayer(playerID, record.FirstName, record.LastName, record.ClassName) {
			return domain.ErrDuplicatePlayer
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// RemovePlayer deletes a player together with all of their matches
func (s *TournamentService) RemovePlayer(ctx context.Context, id int64, playerID int) error {
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		if t.Player(playerID) == nil {
			return domain.ErrPlayerNotFound
		}
		t.RemovePlayer(playerID)
		return nil
	})
	return err
}

// ToggleAbsent flips a player's absent flag
func (s *TournamentService) ToggleAbsent(ctx context.Context, id int64, playerID int) (*domain.Player, error) {
	var player *domain.Player
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		if !t.ToggleAbsent(playerID) {
			return domain.ErrPlayerNotFound
		}
		player = t.Player(playerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// ImportPlayersCSV adds the players of a CSV list, skipping duplicates
func (s *TournamentService) ImportPlayersCSV(ctx context.Context, id int64, r io.Reader) (domain.ImportSummary, error) {
	records, err := transfer.ParsePlayersCSV(r)
	if err != nil {
		return domain.ImportSummary{}, err
	}

	var summary domain.ImportSummary
	_, err = s.mutate(ctx, id, func(t *domain.Tournament) error {
		summary = addPlayers(t, records)
		return nil
	})
	if err != nil {
		return domain.ImportSummary{}, err
	}

	s.logger.Info("players imported",
		"tournament_id", id,
		"added", summary.Added,
		"duplicates", summary.Duplicates,
	)
	return summary, nil
}

// PlayerHistory lists one player's matches
func (s *TournamentService) PlayerHistory(ctx context.Context, id int64, playerID int) ([]domain.HistoryEntry, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	history := t.History(playerID)
	if history == nil {
		return nil, domain.ErrPlayerNotFound
	}
	return history, nil
}

// AvailablePlayers lists the players that can be paired right now
func (s *TournamentService) AvailablePlayers(ctx context.Context, id int64) ([]*domain.Player, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.pairing.AvailablePlayers(t), nil
}

// Pair handles a pairing request. No selection pairs every available
// player, exactly two selected players are paired manually and any other
// selection is paired automatically among themselves.
func (s *TournamentService) Pair(ctx context.Context, id int64, selected []int) (*domain.PairingOutcome, error) {
	outcome := &domain.PairingOutcome{Mode: domain.PairingModeAutomatic}
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		if len(selected) == 2 {
			outcome.Mode = domain.PairingModeManual
			if m := s.pairing.CreateManualPairing(t, selected[0], selected[1]); m != nil {
				outcome.Matches = []*domain.Match{m}
			}
		} else {
			outcome.Matches = s.pairing.CreateAutomaticPairings(t, selected)
		}

		if len(outcome.Matches) == 0 {
			return domain.ErrNoPairings
		}
		outcome.BatchID = outcome.Matches[0].BatchID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pairings created",
		"tournament_id", id,
		"mode", outcome.Mode,
		"batch_id", outcome.BatchID,
		"count", len(outcome.Matches),
	)
	return outcome, nil
}

// UndoLastBatch removes the most recent pairing batch
func (s *TournamentService) UndoLastBatch(ctx context.Context, id int64) ([]*domain.Match, error) {
	var removed []*domain.Match
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		removed = s.pairing.UndoLastBatch(t)
		if len(removed) == 0 {
			return domain.ErrNothingToUndo
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pairing batch undone",
		"tournament_id", id,
		"batch_id", removed[0].BatchID,
		"count", len(removed),
	)
	return removed, nil
}

// SetResult records the result of one match
func (s *TournamentService) SetResult(ctx context.Context, id int64, matchID int, token string) (*domain.Match, error) {
	var match *domain.Match
	_, err := s.mutate(ctx, id, func(t *domain.Tournament) error {
		if err := t.SetMatchResult(matchID, token); err != nil {
			return err
		}
		match = t.Match(matchID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordEvents(ctx, []domain.ResultEvent{{
		TournamentID: id,
		MatchID:      matchID,
		Result:       match.Result,
		Source:       SourceHTTP,
		Timestamp:    time.Now(),
	}})
	return match, nil
}

// ApplyResults records a batch of results. Submissions are grouped per
// tournament so each tournament is saved once; a bad submission only
// fails itself.
func (s *TournamentService) ApplyResults(ctx context.Context, batch []domain.ResultSubmission, source string) domain.BatchOutcome {
	var outcome domain.BatchOutcome
	var events []domain.ResultEvent

	order := make([]int64, 0)
	grouped := make(map[int64][]domain.ResultSubmission)
	for _, sub := range batch {
		if _, ok := grouped[sub.TournamentID]; !ok {
			order = append(order, sub.TournamentID)
		}
		grouped[sub.TournamentID] = append(grouped[sub.TournamentID], sub)
	}

	for _, tournamentID := range order {
		subs := grouped[tournamentID]
		var applied []domain.ResultEvent
		_, err := s.mutate(ctx, tournamentID, func(t *domain.Tournament) error {
			for _, sub := range subs {
				if err := t.SetMatchResult(sub.MatchID, sub.Result); err != nil {
					s.logger.Warn("rejected result submission",
						"tournament_id", tournamentID,
						"match_id", sub.MatchID,
						"result", sub.Result,
						"error", err,
					)
					continue
				}
				applied = append(applied, domain.ResultEvent{
					TournamentID: tournamentID,
					MatchID:      sub.MatchID,
					Result:       t.Match(sub.MatchID).Result,
					Source:       source,
					Timestamp:    time.Now(),
				})
			}
			if len(applied) == 0 {
				return errNothingApplied
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, errNothingApplied) {
				s.logger.Error("failed to apply results",
					"tournament_id", tournamentID,
					"error", err,
				)
			}
			outcome.Failed += len(subs)
			continue
		}
		outcome.Applied += len(applied)
		outcome.Failed += len(subs) - len(applied)
		events = append(events, applied...)
	}

	s.recordEvents(ctx, events)
	return outcome
}

// RecordResultBatch applies results arriving from the message queue
func (s *TournamentService) RecordResultBatch(ctx context.Context, batch []domain.ResultSubmission) error {
	outcome := s.ApplyResults(ctx, batch, SourceKafka)
	s.logger.Debug("result batch processed",
		"applied", outcome.Applied,
		"failed", outcome.Failed,
	)
	return nil
}

func (s *TournamentService) recordEvents(ctx context.Context, events []domain.ResultEvent) {
	if s.archive == nil || len(events) == 0 {
		return
	}
	if err := s.archive.RecordResultEvents(ctx, events); err != nil {
		// Don't fail the request if event recording fails
		s.logger.Warn("failed to record result events", "count", len(events), "error", err)
	}
}

// Standings ranks the players of a tournament
func (s *TournamentService) Standings(ctx context.Context, id int64) ([]domain.Standing, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Standings(), nil
}

// TopStandings returns the n best placed players from the standings cache
func (s *TournamentService) TopStandings(ctx context.Context, id int64, n int) ([]domain.Standing, error) {
	if n <= 0 {
		n = defaultTopStandings
	}
	if n > maxTopStandings {
		n = maxTopStandings
	}
	return s.store.TopStandings(ctx, id, n)
}

// StandingsExport is a rendered standings document
type StandingsExport struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Export formats
const (
	FormatHTML = "html"
	FormatCSV  = "csv"
)

// ExportStandings renders the standings as a printable HTML page or as CSV
func (s *TournamentService) ExportStandings(ctx context.Context, id int64, format string) (*StandingsExport, error) {
	t, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	export := &StandingsExport{FileName: transfer.ExportFileName(t.Name, format, time.Now())}
	switch format {
	case FormatHTML:
		export.ContentType = "text/html; charset=utf-8"
		err = transfer.RenderStandingsHTML(&buf, t)
	case FormatCSV:
		export.ContentType = "text/csv; charset=utf-8"
		err = transfer.WriteStandingsCSV(&buf, t)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidRequest, format)
	}
	if err != nil {
		return nil, err
	}

	export.Data = buf.Bytes()
	return export, nil
}

// PublishStandings uploads the rendered standings to the export bucket
func (s *TournamentService) PublishStandings(ctx context.Context, id int64, format string) (*storage.UploadResult, error) {
	if s.uploader == nil {
		return nil, domain.ErrExportDisabled
	}

	export, err := s.ExportStandings(ctx, id, format)
	if err != nil {
		return nil, err
	}

	key := path.Join(s.exportPrefix, fmt.Sprintf("%d", id), export.FileName)
	result, err := s.uploader.Upload(ctx, key, export.ContentType, bytes.NewReader(export.Data))
	if err != nil {
		return nil, fmt.Errorf("publishing standings: %w", err)
	}

	s.logger.Info("standings published",
		"tournament_id", id,
		"key", result.Key,
		"location", result.Location,
	)
	return result, nil
}
