package answers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cumplia/enscope/catalog"
	"github.com/nats-io/nats.go/jetstream"
)

// fakeKV is an in-memory stand-in for a JetStream KV bucket. Only the
// methods the store uses are implemented; anything else panics via the
// embedded nil interface.
type fakeKV struct {
	jetstream.KeyValue

	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

type fakeEntry struct {
	key   string
	value []byte
}

func (e *fakeEntry) Bucket() string                  { return AnswersBucket }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return 1 }
func (e *fakeEntry) Created() time.Time              { return time.Time{} }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeEntry{key: key, value: v}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return 1, nil
}

func (f *fakeKV) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; exists {
		return 0, jetstream.ErrKeyExists
	}
	f.data[key] = value
	return 1, nil
}

func (f *fakeKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestStore() *Store {
	return &Store{bucket: newFakeKV()}
}

func TestVersionKeyFormat(t *testing.T) {
	if got := versionKey("backups_frequency", 2); got != "backups_frequency.v000002" {
		t.Errorf("versionKey = %q", got)
	}
}

func TestCommitVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	fields := map[string]string{"frequency": "daily", "verification": "weekly checksum"}
	rec, err := store.Commit(ctx, "backups_frequency", catalog.DomainBackups, fields, 100)
	if err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if rec.Version != 1 || rec.Status != StatusComplete || rec.Tombstoned {
		t.Errorf("unexpected v1: %+v", rec)
	}

	rec2, err := store.Commit(ctx, "backups_frequency", catalog.DomainBackups,
		map[string]string{"frequency": "monthly"}, 100)
	if err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	if rec2.Version != 2 {
		t.Errorf("expected version 2, got %d", rec2.Version)
	}
	if !rec2.CreatedAt.Equal(rec.CreatedAt) {
		t.Error("CreatedAt must carry over from the first version")
	}
	if !rec2.UpdatedAt.After(rec2.CreatedAt) && !rec2.UpdatedAt.Equal(rec2.CreatedAt) {
		t.Error("UpdatedAt must be set on each version")
	}
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	// Simulate a racing writer that already claimed version 1.
	if err := store.create(ctx, &Record{QuestionID: "q", Version: 1, Status: StatusComplete}); err != nil {
		t.Fatal(err)
	}
	racing := &Record{QuestionID: "q", Version: 1, Status: StatusComplete}
	if err := store.create(ctx, racing); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestGetAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	if _, err := store.Get(ctx, "q"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Commit(ctx, "q", catalog.DomainBackups, map[string]string{"n": "v"}, 100); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := store.Get(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != 3 {
		t.Errorf("Get should return latest version, got %d", rec.Version)
	}

	history, err := store.History(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	for i, r := range history {
		if r.Version != i+1 {
			t.Errorf("history out of order at %d: version %d", i, r.Version)
		}
	}
}

func TestHistoryIgnoresOtherQuestions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	// "q" is a prefix of "q_extended"; history must not mix them.
	if _, err := store.Commit(ctx, "q", catalog.DomainBackups, nil, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(ctx, "q_extended", catalog.DomainBackups, nil, 100); err != nil {
		t.Fatal(err)
	}

	history, err := store.History(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].QuestionID != "q" {
		t.Errorf("history leaked across questions: %+v", history)
	}
}

func TestDeleteAppendsTombstone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	if _, err := store.Delete(ctx, "q", "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete of unanswered question should be ErrNotFound, got %v", err)
	}

	if _, err := store.Commit(ctx, "q", catalog.DomainBackups, map[string]string{"a": "b"}, 100); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Delete(ctx, "q", ""); !errors.Is(err, ErrConfirmRequired) {
		t.Fatalf("expected ErrConfirmRequired, got %v", err)
	}

	tomb, err := store.Delete(ctx, "q", "confirm-123")
	if err != nil {
		t.Fatal(err)
	}
	if !tomb.Tombstoned || tomb.Status != StatusDeleted || tomb.Version != 2 {
		t.Errorf("unexpected tombstone: %+v", tomb)
	}
	if tomb.DeleteToken != "confirm-123" {
		t.Error("confirmation token must be kept for the audit trail")
	}

	// The live view hides the answer; the audit view keeps everything.
	if _, err := store.Get(ctx, "q"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete should be ErrNotFound, got %v", err)
	}
	history, _ := store.History(ctx, "q")
	if len(history) != 2 {
		t.Errorf("history must keep all versions, got %d", len(history))
	}

	// Deleting again is idempotent: no extra version.
	again, err := store.Delete(ctx, "q", "confirm-456")
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != 2 {
		t.Errorf("repeat delete appended version %d", again.Version)
	}
}

func TestHistoryStrictlyGrows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	prev := 0
	step := func(op func() error) {
		t.Helper()
		if err := op(); err != nil {
			t.Fatal(err)
		}
		history, err := store.History(ctx, "q")
		if err != nil {
			t.Fatal(err)
		}
		if len(history) <= prev {
			t.Fatalf("history did not grow: %d -> %d", prev, len(history))
		}
		prev = len(history)
	}

	step(func() error {
		_, err := store.Commit(ctx, "q", catalog.DomainBackups, nil, 100)
		return err
	})
	step(func() error {
		_, err := store.Commit(ctx, "q", catalog.DomainBackups, nil, 100)
		return err
	})
	step(func() error {
		_, err := store.Delete(ctx, "q", "tok")
		return err
	})
}

func TestAllLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	if _, err := store.Commit(ctx, "a", catalog.DomainBackups, nil, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(ctx, "a", catalog.DomainBackups, nil, 67); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(ctx, "b", catalog.DomainMonitoring, nil, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(ctx, "c", catalog.DomainMonitoring, nil, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Delete(ctx, "c", "tok"); err != nil {
		t.Fatal(err)
	}

	latest, err := store.AllLatest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 live answers, got %d", len(latest))
	}
	if latest["a"].Version != 2 || latest["a"].Score != 67 {
		t.Errorf("wrong latest for a: %+v", latest["a"])
	}
	if _, ok := latest["c"]; ok {
		t.Error("tombstoned question must not appear in AllLatest")
	}
}
