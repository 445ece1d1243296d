package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopgraph/shopgraph/internal/shoperr"
)

// Config holds Redis connection and TTL configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// SessionTTL bounds the info key lifetime (default 24h).
	SessionTTL time.Duration
	// ConversationTTL bounds the conversation key lifetime (default 2h).
	ConversationTTL time.Duration
	// PoolSize is the connection pool size (default 10).
	PoolSize int
}

func (c *Config) applyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = 2 * time.Hour
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
}

// Store is a Redis-backed session store. Info and conversation live under
// separate keys with independent TTLs; expiry is also tracked as explicit
// timestamps so a session past its TTL reads as absent even before Redis
// evicts it. Cart and preference writes on one session are serialized with
// an in-process keyed lock.
type Store struct {
	client          *redis.Client
	sessionTTL      time.Duration
	conversationTTL time.Duration
	logger          *slog.Logger

	locks sync.Map // session id -> *sync.Mutex
	now   func() time.Time
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewStoreFromClient(client, cfg, logger), nil
}

// NewStoreFromClient builds a Store on an existing client.
// Useful for testing with miniredis.
func NewStoreFromClient(client *redis.Client, cfg Config, logger *slog.Logger) *Store {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:          client,
		sessionTTL:      cfg.SessionTTL,
		conversationTTL: cfg.ConversationTTL,
		logger:          logger,
		now:             time.Now,
	}
}

func infoKey(id string) string         { return "session:" + id + ":info" }
func conversationKey(id string) string { return "session:" + id + ":conversation" }

// lock returns the per-session mutex, creating it on first use.
func (s *Store) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// GetOrCreate loads the session info, creating a fresh session when the id
// is unknown or the stored one has expired by timestamp. Idempotent; the
// info TTL is refreshed on every call.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*Info, error) {
	info, err := s.load(ctx, id)
	if err != nil && !shoperr.Is(err, shoperr.CodeNotFound) {
		return nil, err
	}

	now := s.now()
	if info == nil {
		info = &Info{
			ID:          id,
			CreatedAt:   now,
			Preferences: map[string]any{},
		}
		// Drop any stale conversation from an expired predecessor.
		if err := s.client.Del(ctx, conversationKey(id)).Err(); err != nil {
			s.logger.Warn("stale conversation cleanup failed", "session_id", id, "error", err)
		}
	}
	info.LastActive = now

	if err := s.save(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Get loads the session info without creating it. Expired reads as absent.
func (s *Store) Get(ctx context.Context, id string) (*Info, error) {
	return s.load(ctx, id)
}

// load returns the stored info, or a not-found error when the key is
// missing or the session has expired by timestamp.
func (s *Store) load(ctx context.Context, id string) (*Info, error) {
	data, err := s.client.Get(ctx, infoKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shoperr.Newf(shoperr.CodeNotFound, "session %s not found", id)
		}
		return nil, shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "get session")
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "unmarshal session")
	}

	if s.now().Sub(info.LastActive) > s.sessionTTL {
		return nil, shoperr.Newf(shoperr.CodeNotFound, "session %s expired", id)
	}
	return &info, nil
}

func (s *Store) save(ctx context.Context, info *Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "marshal session")
	}
	if err := s.client.Set(ctx, infoKey(info.ID), data, s.sessionTTL).Err(); err != nil {
		return shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "save session")
	}
	return nil
}

// AppendTurn appends a conversation turn and refreshes the conversation
// TTL. The info key's conversation count is bumped as a best effort.
func (s *Store) AppendTurn(ctx context.Context, id, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return shoperr.Newf(shoperr.CodeValidationFailure, "invalid turn role %q", role)
	}

	turn := Turn{Role: role, Content: content, Timestamp: s.now()}
	data, err := json.Marshal(turn)
	if err != nil {
		return shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "marshal turn")
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, conversationKey(id), data)
	pipe.Expire(ctx, conversationKey(id), s.conversationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "append turn")
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	info, err := s.load(ctx, id)
	if err != nil {
		if shoperr.Is(err, shoperr.CodeNotFound) {
			return nil
		}
		return err
	}
	info.ConversationCount++
	info.LastActive = s.now()
	return s.save(ctx, info)
}

// History returns the conversation in chronological order, capped to the
// most recent limit turns (0 = all). An expired conversation reads empty.
func (s *Store) History(ctx context.Context, id string, limit int) ([]Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	data, err := s.client.LRange(ctx, conversationKey(id), start, -1).Result()
	if err != nil {
		return nil, shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "load conversation")
	}

	turns := make([]Turn, 0, len(data))
	for _, d := range data {
		var turn Turn
		if err := json.Unmarshal([]byte(d), &turn); err != nil {
			return nil, shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "unmarshal turn")
		}
		turns = append(turns, turn)
	}

	// Conversation expiry by timestamp, independent of the info key.
	if n := len(turns); n > 0 && s.now().Sub(turns[n-1].Timestamp) > s.conversationTTL {
		return nil, nil
	}
	return turns, nil
}

// UpdatePreferences merges prefs into the session's preference map.
// Existing keys not named in prefs are kept.
func (s *Store) UpdatePreferences(ctx context.Context, id string, prefs map[string]any) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	info, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	if info.Preferences == nil {
		info.Preferences = map[string]any{}
	}
	for k, v := range prefs {
		info.Preferences[k] = v
	}
	return s.save(ctx, info)
}

// AddCartItem appends item to the session's cart, stamping AddedAt.
func (s *Store) AddCartItem(ctx context.Context, id string, item CartItem) error {
	if item.Name == "" {
		return shoperr.Newf(shoperr.CodeValidationFailure, "cart item name is required")
	}
	if item.Price < 0 {
		return shoperr.Newf(shoperr.CodeValidationFailure, "cart item price must not be negative")
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	info, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	item.AddedAt = s.now()
	info.Cart = append(info.Cart, item)
	return s.save(ctx, info)
}

// Cart returns the session's cart items.
func (s *Store) Cart(ctx context.Context, id string) ([]CartItem, error) {
	info, err := s.load(ctx, id)
	if err != nil {
		if shoperr.Is(err, shoperr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return info.Cart, nil
}

// ClearCart empties the session's cart.
func (s *Store) ClearCart(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	info, err := s.load(ctx, id)
	if err != nil {
		if shoperr.Is(err, shoperr.CodeNotFound) {
			return nil
		}
		return err
	}
	info.Cart = nil
	return s.save(ctx, info)
}

// Analytics computes session statistics on read: duration, per-role turn
// counts, and the most frequent user query terms.
func (s *Store) Analytics(ctx context.Context, id string) (*Analytics, error) {
	info, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	turns, err := s.History(ctx, id, 0)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{RoleUser: 0, RoleAssistant: 0}
	var userText strings.Builder
	for _, turn := range turns {
		counts[turn.Role]++
		if turn.Role == RoleUser {
			userText.WriteString(turn.Content)
			userText.WriteByte(' ')
		}
	}

	return &Analytics{
		SessionID:       id,
		DurationSeconds: info.LastActive.Sub(info.CreatedAt).Seconds(),
		TurnCounts:      counts,
		TopTerms:        topTerms(userText.String(), 5),
	}, nil
}

// Delete removes the session's info and conversation keys, along with the
// session's mutation lock so the lock map does not grow unbounded.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, infoKey(id), conversationKey(id)).Err(); err != nil {
		return shoperr.Wrapf(shoperr.CodeSessionStoreUnavailable, err, "delete session")
	}
	s.locks.Delete(id)
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// stopwords excluded from top-term extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "you": true,
	"your": true, "what": true, "how": true, "can": true, "have": true,
	"with": true, "this": true, "that": true, "does": true, "about": true,
	"which": true, "when": true, "where": true, "will": true, "would": true,
	"there": true, "their": true, "from": true, "much": true, "many": true,
}

// topTerms returns the n most frequent terms in text, ties broken
// alphabetically. Terms are lowercased words of four or more letters that
// are not stopwords.
func topTerms(text string, n int) []TermCount {
	freq := map[string]int{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for _, w := range words {
		if len(w) < 4 || stopwords[w] {
			continue
		}
		freq[w]++
	}
	if len(freq) == 0 {
		return nil
	}

	terms := make([]TermCount, 0, len(freq))
	for term, count := range freq {
		terms = append(terms, TermCount{Term: term, Count: count})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
