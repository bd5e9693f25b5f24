// Package answers provides the versioned, append-only store of
// finalized assessment answers. Every edit or delete appends a new
// version; no version is ever physically removed, so the full audit
// trail survives.
package answers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cumplia/enscope/catalog"
	"github.com/nats-io/nats.go/jetstream"
)

// AnswersBucket is the KV bucket name for answer versions.
const AnswersBucket = "ENSCOPE_ANSWERS"

// Record statuses.
const (
	StatusComplete = "complete"
	StatusDeleted  = "deleted"
)

var (
	// ErrNotFound is returned when a question has no live answer.
	ErrNotFound = errors.New("answer not found")

	// ErrVersionConflict is returned when two commits race on the same
	// question. The caller re-reads and retries.
	ErrVersionConflict = errors.New("answer version conflict")

	// ErrConfirmRequired is returned when Delete is called without a
	// confirmation token.
	ErrConfirmRequired = errors.New("delete requires a confirmation token")
)

// Record is one immutable answer version.
type Record struct {
	QuestionID string            `json:"question_id"`
	Domain     catalog.Domain    `json:"domain"`
	Version    int               `json:"version"`
	Status     string            `json:"status"`
	Fields     map[string]string `json:"fields"`
	Score      int               `json:"completeness_score"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Tombstoned bool              `json:"tombstoned"`

	// DeleteToken records the confirmation token supplied for a
	// tombstone version, for the audit trail.
	DeleteToken string `json:"delete_token,omitempty"`
}

// Store persists answer versions in a NATS KV bucket. Each version is
// its own key ({question_id}.v{n}); versions are written with optimistic
// Create so a commit either lands whole or not at all.
type Store struct {
	bucket jetstream.KeyValue
}

// NewStore creates the answers bucket if needed and returns a store.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	bucket, err := js.KeyValue(ctx, AnswersBucket)
	if err != nil {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      AnswersBucket,
			Description: "enscope answer versions (append-only)",
		})
		if err != nil {
			return nil, fmt.Errorf("create answers bucket: %w", err)
		}
	}
	return &Store{bucket: bucket}, nil
}

// versionKey formats the KV key for one answer version. Zero-padding
// keeps lexicographic and numeric order aligned.
func versionKey(questionID string, version int) string {
	return fmt.Sprintf("%s.v%06d", questionID, version)
}

// Commit appends version n+1 for the question. The write is atomic per
// question: the KV Create fails on a duplicate key, so two racing
// commits cannot both claim the same version.
func (s *Store) Commit(ctx context.Context, questionID string, domain catalog.Domain, fields map[string]string, score int) (*Record, error) {
	prev, err := s.Latest(ctx, questionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{
		QuestionID: questionID,
		Domain:     domain,
		Version:    1,
		Status:     StatusComplete,
		Fields:     fields,
		Score:      score,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prev != nil {
		rec.Version = prev.Version + 1
		rec.CreatedAt = prev.CreatedAt
	}

	if err := s.create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// create writes a record under its version key.
func (s *Store) create(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	if _, err := s.bucket.Create(ctx, versionKey(rec.QuestionID, rec.Version), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: question %s version %d", ErrVersionConflict, rec.QuestionID, rec.Version)
		}
		return fmt.Errorf("store answer version: %w", err)
	}
	return nil
}

// Get returns the latest non-tombstoned record for the question, or
// ErrNotFound when the question was never answered or is deleted.
func (s *Store) Get(ctx context.Context, questionID string) (*Record, error) {
	rec, err := s.Latest(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if rec.Tombstoned {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Latest returns the newest version for the question including
// tombstones (the audit view).
func (s *Store) Latest(ctx context.Context, questionID string) (*Record, error) {
	history, err := s.History(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history[len(history)-1], nil
}

// History returns every version for the question in ascending version
// order. The result only ever grows: versions are never removed.
func (s *Store) History(ctx context.Context, questionID string) ([]*Record, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list answer keys: %w", err)
	}

	prefix := questionID + ".v"
	var records []*Record
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rec, err := s.load(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})
	return records, nil
}

// Delete appends a tombstone version for the question. The confirmation
// token comes from the caller; the store never invents one.
func (s *Store) Delete(ctx context.Context, questionID, confirmToken string) (*Record, error) {
	if confirmToken == "" {
		return nil, ErrConfirmRequired
	}

	prev, err := s.Latest(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if prev.Tombstoned {
		// Already deleted; appending a second tombstone would add noise
		// without information.
		return prev, nil
	}

	now := time.Now().UTC()
	rec := &Record{
		QuestionID:  questionID,
		Domain:      prev.Domain,
		Version:     prev.Version + 1,
		Status:      StatusDeleted,
		Fields:      prev.Fields,
		Score:       prev.Score,
		CreatedAt:   prev.CreatedAt,
		UpdatedAt:   now,
		Tombstoned:  true,
		DeleteToken: confirmToken,
	}

	if err := s.create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AllLatest returns the latest non-tombstoned record per question.
func (s *Store) AllLatest(ctx context.Context) (map[string]*Record, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string]*Record{}, nil
		}
		return nil, fmt.Errorf("list answer keys: %w", err)
	}

	latest := make(map[string]*Record)
	for _, key := range keys {
		rec, err := s.load(ctx, key)
		if err != nil {
			continue
		}
		if cur, ok := latest[rec.QuestionID]; !ok || rec.Version > cur.Version {
			latest[rec.QuestionID] = rec
		}
	}

	// Tombstoned questions have no live answer.
	for id, rec := range latest {
		if rec.Tombstoned {
			delete(latest, id)
		}
	}
	return latest, nil
}

func (s *Store) load(ctx context.Context, key string) (*Record, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal answer %s: %w", key, err)
	}
	return &rec, nil
}
