package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/runthrough-pairing/internal/config"
	"github.com/runthrough-pairing/internal/domain"
)

const (
	indexKey  = "tournaments:index"
	nextIDKey = "tournaments:next_id"

	// rankSlots is the tie-break room per half point in the standings set
	rankSlots = 1_000_000
)

// raiseNextID lifts the id counter to at least ARGV[1]
var raiseNextID = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local wanted = tonumber(ARGV[1])
if current < wanted then
	redis.call('SET', KEYS[1], wanted)
	return wanted
end
return current
`)

// TournamentStore keeps tournament snapshots and their standings in Redis
type TournamentStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewTournamentStore creates a new Redis tournament store
func NewTournamentStore(cfg *config.RedisConfig, logger *slog.Logger) (*TournamentStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewTournamentStoreWithClient(client, logger), nil
}

// NewTournamentStoreWithClient wraps an existing client
func NewTournamentStoreWithClient(client *redis.Client, logger *slog.Logger) *TournamentStore {
	return &TournamentStore{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *TournamentStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *TournamentStore) Client() *redis.Client {
	return s.client
}

// snapshotKey returns the Redis key holding a tournament's JSON snapshot
func (s *TournamentStore) snapshotKey(id int64) string {
	return fmt.Sprintf("tournament:%d:snapshot", id)
}

// standingsKey returns the Redis key for a tournament's standings set
func (s *TournamentStore) standingsKey(id int64) string {
	return fmt.Sprintf("tournament:%d:standings", id)
}

// playersKey returns the Redis key for the player name cache
func (s *TournamentStore) playersKey(id int64) string {
	return fmt.Sprintf("tournament:%d:players", id)
}

// rankScore folds the score and the player's position into one sortable
// value so equal scores keep the order in which players were added.
func rankScore(score float64, position int) float64 {
	halfPoints := math.Round(score * 2)
	return halfPoints*rankSlots + float64(rankSlots-1-position)
}

func scoreFromRank(rank float64) float64 {
	return math.Floor(rank/rankSlots) / 2
}

// GenerateID hands out the next tournament id
func (s *TournamentStore) GenerateID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, nextIDKey).Result()
	if err != nil {
		return 0, fmt.Errorf("generating tournament id: %w", err)
	}
	return id, nil
}

// Save writes the snapshot, the listing entry and the standings of t in a
// single transaction.
func (s *TournamentStore) Save(ctx context.Context, t *domain.Tournament) error {
	snapshot, err := t.MarshalSnapshot()
	if err != nil {
		return err
	}
	summary, err := json.Marshal(t.Summary())
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	standingsKey := s.standingsKey(t.ID)
	playersKey := s.playersKey(t.ID)
	position := make(map[int]int, len(t.Players))
	for i, p := range t.Players {
		position[p.ID] = i
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(t.ID), snapshot, 0)
	pipe.HSet(ctx, indexKey, strconv.FormatInt(t.ID, 10), summary)
	pipe.Del(ctx, standingsKey, playersKey)
	if len(t.Players) > 0 {
		members := make([]redis.Z, 0, len(t.Players))
		names := make([]any, 0, 2*len(t.Players))
		for _, standing := range t.Standings() {
			member := strconv.Itoa(standing.PlayerID)
			members = append(members, redis.Z{
				Score:  rankScore(standing.Score, position[standing.PlayerID]),
				Member: member,
			})
			names = append(names, member, standing.FullName)
		}
		pipe.ZAdd(ctx, standingsKey, members...)
		pipe.HSet(ctx, playersKey, names...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving tournament %d: %w", t.ID, err)
	}

	if err := raiseNextID.Run(ctx, s.client, []string{nextIDKey}, t.ID).Err(); err != nil {
		return fmt.Errorf("raising tournament id counter: %w", err)
	}
	return nil
}

// Load reads the snapshot of one tournament
func (s *TournamentStore) Load(ctx context.Context, id int64) (*domain.Tournament, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrTournamentNotFound
		}
		return nil, fmt.Errorf("loading tournament %d: %w", id, err)
	}

	t, err := domain.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decoding tournament %d: %w", id, err)
	}
	return t, nil
}

// Exists checks if a tournament snapshot is stored
func (s *TournamentStore) Exists(ctx context.Context, id int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.snapshotKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return n > 0, nil
}

// Delete removes a tournament with its listing entry and standings
func (s *TournamentStore) Delete(ctx context.Context, id int64) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.snapshotKey(id), s.standingsKey(id), s.playersKey(id))
	pipe.HDel(ctx, indexKey, strconv.FormatInt(id, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting tournament %d: %w", id, err)
	}
	if del.Val() == 0 {
		return domain.ErrTournamentNotFound
	}
	return nil
}

// List returns the listing entries of all stored tournaments ordered by id
func (s *TournamentStore) List(ctx context.Context) ([]domain.TournamentSummary, error) {
	entries, err := s.client.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing tournaments: %w", err)
	}

	summaries := make([]domain.TournamentSummary, 0, len(entries))
	for field, raw := range entries {
		var summary domain.TournamentSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			s.logger.Warn("skipping unreadable tournament summary",
				"tournament_id", field,
				"error", err,
			)
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// IDs returns the ids of all stored tournaments
func (s *TournamentStore) IDs(ctx context.Context) ([]int64, error) {
	fields, err := s.client.HKeys(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing tournament ids: %w", err)
	}

	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// TopStandings returns the n best placed players of a tournament straight
// from the standings set. Ties keep the order in which players were added.
func (s *TournamentStore) TopStandings(ctx context.Context, id int64, n int) ([]domain.Standing, error) {
	if n <= 0 {
		return []domain.Standing{}, nil
	}

	key := s.standingsKey(id)
	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top standings: %w", err)
	}
	if len(results) == 0 {
		return []domain.Standing{}, nil
	}

	members := make([]string, len(results))
	for i, result := range results {
		members[i] = result.Member.(string)
	}
	names, err := s.client.HMGet(ctx, s.playersKey(id), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting player names: %w", err)
	}

	standings := make([]domain.Standing, len(results))
	for i, result := range results {
		playerID, _ := strconv.Atoi(members[i])
		name, _ := names[i].(string)
		standings[i] = domain.Standing{
			Rank:     i + 1,
			PlayerID: playerID,
			FullName: name,
			Score:    scoreFromRank(result.Score),
		}
	}
	return standings, nil
}
