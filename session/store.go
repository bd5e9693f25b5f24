package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SessionsBucket is the KV bucket name for session state.
const SessionsBucket = "ENSCOPE_SESSIONS"

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions in a NATS KV bucket, one key per session id.
// A session is written only at mutation boundaries, so an abandoned
// session never leaves partial state behind.
type Store struct {
	bucket jetstream.KeyValue
}

// NewStore creates the sessions bucket if needed and returns a store.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	bucket, err := js.KeyValue(ctx, SessionsBucket)
	if err != nil {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      SessionsBucket,
			Description: "enscope assessment sessions",
			TTL:         90 * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("create sessions bucket: %w", err)
		}
	}
	return &Store{bucket: bucket}, nil
}

// Create persists a brand-new session. Fails if the id already exists.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.bucket.Create(ctx, sess.ID, data); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Load retrieves a session by id.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Save persists the full session state.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.bucket.Put(ctx, sess.ID, data); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// List returns all session ids.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	return keys, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}
