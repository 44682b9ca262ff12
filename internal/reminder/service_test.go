package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLifecycle struct {
	mu      sync.Mutex
	created []string
	changed []time.Time
	deleted []string
}

func (l *recordingLifecycle) OnCreated(_ context.Context, r *Reminder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, r.ID)
}

func (l *recordingLifecycle) OnDueDateChanged(_ context.Context, _ *Reminder, old time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changed = append(l.changed, old)
}

func (l *recordingLifecycle) OnDeleted(_ context.Context, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, id)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *recordingLifecycle) {
	t.Helper()
	store := NewMemoryStore()
	lc := &recordingLifecycle{}
	return &Service{Store: store, Lifecycle: lc}, store, lc
}

// ─── Create ────────────────────────────────────────────────────────────────

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, store, lc := newTestService(t)
	due := time.Now().Add(time.Hour)

	r, err := svc.Create(ctx, 7, CreateInput{Title: "  Read chapter 4 #Biology #exam ", Type: "study", DueAt: due})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Read chapter 4 #Biology #exam", r.Title)
	assert.Equal(t, TypeStudy, r.Type)
	assert.Equal(t, []string{"biology", "exam"}, []string(r.Tags))
	assert.False(t, r.Notified)
	assert.Equal(t, []string{r.ID}, lc.created)

	got, err := store.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.OwnerID)
}

func TestService_CreateDefaultsToGeneral(t *testing.T) {
	svc, _, _ := newTestService(t)
	r, err := svc.Create(context.Background(), 1, CreateInput{Title: "x", DueAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, TypeGeneral, r.Type)
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, lc := newTestService(t)

	_, err := svc.Create(ctx, 1, CreateInput{Title: " ", DueAt: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, 1, CreateInput{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, 1, CreateInput{Title: "x", Type: "holiday", DueAt: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.Empty(t, lc.created)
}

// ─── Update ────────────────────────────────────────────────────────────────

func TestService_UpdateDueDateResetsNotified(t *testing.T) {
	ctx := context.Background()
	svc, store, lc := newTestService(t)
	past := time.Now().Add(-time.Hour)

	r, err := svc.Create(ctx, 1, CreateInput{Title: "quiz", DueAt: past})
	require.NoError(t, err)
	ok, err := store.MarkNotified(ctx, r.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	future := time.Now().Add(time.Hour)
	updated, err := svc.Update(ctx, 1, r.ID, UpdateInput{DueAt: &future})
	require.NoError(t, err)
	assert.False(t, updated.Notified)
	assert.Nil(t, updated.NotifiedAt)
	require.Len(t, lc.changed, 1)
	assert.True(t, lc.changed[0].Equal(past))
}

func TestService_UpdateWithoutDueChangeSkipsLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, lc := newTestService(t)
	due := time.Now().Add(time.Hour)
	r, _ := svc.Create(ctx, 1, CreateInput{Title: "a", DueAt: due})

	title := "b #new"
	same := due
	updated, err := svc.Update(ctx, 1, r.ID, UpdateInput{Title: &title, DueAt: &same})
	require.NoError(t, err)
	assert.Equal(t, "b #new", updated.Title)
	assert.Equal(t, []string{"new"}, []string(updated.Tags))
	assert.Empty(t, lc.changed)
}

// markingStore marks a reminder notified right after it is read, as a
// sweep running between the read and the write of an edit would.
type markingStore struct {
	*MemoryStore
	once sync.Once
}

func (s *markingStore) FindByID(ctx context.Context, id string) (*Reminder, error) {
	r, err := s.MemoryStore.FindByID(ctx, id)
	if err == nil {
		s.once.Do(func() { _, _ = s.MemoryStore.MarkNotified(ctx, id, time.Now()) })
	}
	return r, err
}

func TestService_EditDoesNotUndoConcurrentNotify(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := &Service{Store: store}
	r, err := svc.Create(ctx, 1, CreateInput{Title: "quiz", DueAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	svc.Store = &markingStore{MemoryStore: store}
	title := "renamed"
	updated, err := svc.Update(ctx, 1, r.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.True(t, updated.Notified)

	got, err := store.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified, "a title edit must not reset notified")
	due, err := store.FindDueUnnotified(ctx, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestService_EditDueToPastKeepsNotified(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := &Service{Store: store}
	r, err := svc.Create(ctx, 1, CreateInput{Title: "quiz", DueAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = store.MarkNotified(ctx, r.ID, time.Now())
	require.NoError(t, err)

	earlier := time.Now().Add(-time.Hour)
	updated, err := svc.Update(ctx, 1, r.ID, UpdateInput{DueAt: &earlier})
	require.NoError(t, err)
	assert.True(t, updated.Notified)
	assert.NotNil(t, updated.NotifiedAt)
}

func TestService_UpdateOtherOwner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	r, _ := svc.Create(ctx, 1, CreateInput{Title: "a", DueAt: time.Now()})

	title := "stolen"
	_, err := svc.Update(ctx, 2, r.ID, UpdateInput{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

// ─── Delete ────────────────────────────────────────────────────────────────

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, store, lc := newTestService(t)
	r, _ := svc.Create(ctx, 1, CreateInput{Title: "a", DueAt: time.Now()})

	assert.ErrorIs(t, svc.Delete(ctx, 2, r.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, 1, r.ID))
	assert.Equal(t, []string{r.ID}, lc.deleted)

	_, err := store.FindByID(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ─── Store ─────────────────────────────────────────────────────────────────

func TestMemoryStore_MarkNotifiedIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Reminder{ID: "r", OwnerID: 1, Title: "t", DueAt: time.Now()}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkNotified(ctx, "r", time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := store.MarkNotified(ctx, "missing", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_FindDueUnnotified(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	_ = store.Create(ctx, &Reminder{ID: "late", DueAt: now.Add(-time.Hour)})
	_ = store.Create(ctx, &Reminder{ID: "now", DueAt: now})
	_ = store.Create(ctx, &Reminder{ID: "later", DueAt: now.Add(time.Hour)})
	_ = store.Create(ctx, &Reminder{ID: "done", DueAt: now.Add(-time.Hour), Notified: true})

	due, err := store.FindDueUnnotified(ctx, now, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"late", "now"}, ids)
}

func TestMemoryStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	_ = store.Create(ctx, &Reminder{ID: "a", OwnerID: 1, Type: TypeStudy, Tags: []string{"math"}, DueAt: now})
	_ = store.Create(ctx, &Reminder{ID: "b", OwnerID: 1, Type: TypeTask, DueAt: now.Add(time.Minute), Notified: true})
	_ = store.Create(ctx, &Reminder{ID: "c", OwnerID: 2, Type: TypeStudy, DueAt: now})

	rows, _ := store.ListByOwner(ctx, 1, ListFilter{})
	assert.Len(t, rows, 2)
	rows, _ = store.ListByOwner(ctx, 1, ListFilter{Type: TypeStudy})
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
	rows, _ = store.ListByOwner(ctx, 1, ListFilter{Tag: "math"})
	assert.Len(t, rows, 1)
	no := false
	rows, _ = store.ListByOwner(ctx, 1, ListFilter{Notified: &no})
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
}

func TestExtractTags(t *testing.T) {
	assert.Equal(t, []string{}, ExtractTags("no tags here"))
	assert.Equal(t, []string{"go", "db"}, ExtractTags("#Go and #db and #GO again"))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Event ")
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, typ)
	_, err = ParseType("birthday")
	assert.ErrorIs(t, err, ErrInvalidType)
}
