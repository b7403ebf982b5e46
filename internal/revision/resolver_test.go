package revision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = models.Target{Project: "P1", Discipline: "MEC", Phase: "FEL1"}

type memoryAudit struct {
	mu      sync.Mutex
	records []models.AuditRecord
	err     error
}

func (m *memoryAudit) Record(_ context.Context, rec models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Action)
	}
	return out
}

type countingObserver struct {
	mu           sync.Mutex
	dispositions map[Disposition]int
	archived     int
	bytes        int64
}

func (o *countingObserver) ObserveDisposition(d Disposition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dispositions == nil {
		o.dispositions = make(map[Disposition]int)
	}
	o.dispositions[d]++
}

func (o *countingObserver) ObserveArchived(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archived += n
}

func (o *countingObserver) ObserveUploadBytes(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bytes += n
}

// failingStore wraps a LocalStore and fails selected operations.
type failingStore struct {
	*storage.LocalStore
	failArchive map[string]bool
	failWrite   bool
}

func (f *failingStore) ArchiveFile(t models.Target, dir, name string) (string, error) {
	if f.failArchive[name] {
		return "", errors.New("permission denied")
	}
	return f.LocalStore.ArchiveFile(t, dir, name)
}

func (f *failingStore) WriteFile(t models.Target, name string, r io.Reader) (*models.FileInfo, error) {
	if f.failWrite {
		return nil, errors.New("disk full")
	}
	return f.LocalStore.WriteFile(t, name, r)
}

func newTestStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(root, "uploads"), filepath.Join(root, "temp"))
	require.NoError(t, err)
	return store
}

func upload(t *testing.T, r *Resolver, name string, confirmed bool) (*Result, error) {
	t.Helper()
	return r.Resolve(context.Background(), Request{
		Target:    target,
		FileName:  name,
		Content:   strings.NewReader("content of " + name),
		Confirmed: confirmed,
		User:      "alice",
	})
}

func seed(t *testing.T, store *storage.LocalStore, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := store.WriteFile(target, n, strings.NewReader("seed "+n))
		require.NoError(t, err)
	}
}

func live(t *testing.T, store *storage.LocalStore) []string {
	t.Helper()
	names, err := store.ListFiles(target)
	require.NoError(t, err)
	return names
}

func archivedNames(t *testing.T, store *storage.LocalStore, dir string) []string {
	t.Helper()
	base, err := store.TargetDir(target)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(base, dir))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestResolve_AcceptIntoEmptyTarget(t *testing.T) {
	store := newTestStore(t)
	audit := &memoryAudit{}
	obs := &countingObserver{}
	r := NewResolver(store, audit, WithObserver(obs))

	res, err := upload(t, r, "PLANTA_r1v1.pdf", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionAccept, res.Disposition)
	assert.Empty(t, res.Archived)
	require.NotNil(t, res.File)
	assert.Equal(t, "P1/MEC/FEL1/PLANTA_r1v1.pdf", res.File.Path)
	assert.Equal(t, "PLANTA", res.File.Base)
	assert.Equal(t, "r1", res.File.Revision)
	assert.Equal(t, "v1", res.File.Version)

	assert.Equal(t, []string{"PLANTA_r1v1.pdf"}, live(t, store))
	require.Len(t, audit.records, 1)
	assert.Equal(t, models.ActionUpload, audit.records[0].Action)
	assert.Equal(t, "alice", audit.records[0].User)
	assert.Equal(t, "P1/MEC/FEL1/PLANTA_r1v1.pdf", audit.records[0].File)
	assert.False(t, audit.records[0].Timestamp.IsZero())

	assert.Equal(t, 1, obs.dispositions[DispositionAccept])
	assert.Equal(t, int64(len("content of PLANTA_r1v1.pdf")), obs.bytes)
}

func TestResolve_DuplicateRejectedWithoutMutation(t *testing.T) {
	store := newTestStore(t)
	audit := &memoryAudit{}
	r := NewResolver(store, audit)

	_, err := upload(t, r, "A_r1v1.pdf", false)
	require.NoError(t, err)

	_, err = upload(t, r, "A_r1v1.pdf", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	f, _, err := store.Open("P1/MEC/FEL1/A_r1v1.pdf")
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	assert.Equal(t, "content of A_r1v1.pdf", string(buf[:n]))
	assert.Equal(t, []string{models.ActionUpload}, audit.actions())
}

func TestResolve_NewRevisionArchivesGroup(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "A_r1v1.pdf", "A_r1v2.pdf", "B_r1v1.pdf")
	audit := &memoryAudit{}
	obs := &countingObserver{}
	r := NewResolver(store, audit, WithObserver(obs))

	res, err := upload(t, r, "A_r2v1.pdf", false)
	require.NoError(t, err)

	assert.Equal(t, DispositionArchiveAndAccept, res.Disposition)
	require.Len(t, res.Archived, 2)
	assert.Equal(t, "A_r1v1.pdf", res.Archived[0].Name)
	assert.Equal(t, "P1/MEC/FEL1/A_r1v1.pdf", res.Archived[0].From)
	assert.Equal(t, "P1/MEC/FEL1/A_revisoes/A_r1v1.pdf", res.Archived[0].To)

	assert.Equal(t, []string{"A_r2v1.pdf", "B_r1v1.pdf"}, live(t, store))
	assert.Equal(t, []string{"A_r1v1.pdf", "A_r1v2.pdf"}, archivedNames(t, store, "A_revisoes"))
	assert.Equal(t, []string{models.ActionArchived, models.ActionArchived, models.ActionUpload}, audit.actions())
	assert.Equal(t, "P1/MEC/FEL1/A_r1v1.pdf -> P1/MEC/FEL1/A_revisoes/A_r1v1.pdf", audit.records[0].File)
	assert.Equal(t, 2, obs.archived)
	assert.Equal(t, 1, obs.dispositions[DispositionArchiveAndAccept])
}

func TestResolve_NewVersionNeedsConfirmation(t *testing.T) {
	t.Run("blocked without confirmation", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, "A_r1v1.pdf")
		audit := &memoryAudit{}
		r := NewResolver(store, audit)

		res, err := upload(t, r, "A_r1v2.pdf", false)
		assert.Nil(t, res)
		var warn *ConflictWarning
		require.ErrorAs(t, err, &warn)
		assert.Equal(t, "1", warn.Revision)
		assert.Equal(t, []string{"A_r1v1.pdf"}, warn.Existing)

		assert.Equal(t, []string{"A_r1v1.pdf"}, live(t, store))
		assert.Nil(t, archivedNames(t, store, "A_revisoes"))
		assert.Empty(t, audit.actions())
	})

	t.Run("accepted with confirmation", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, "A_r1v1.pdf")
		audit := &memoryAudit{}
		r := NewResolver(store, audit)

		res, err := upload(t, r, "A_r1v2.pdf", true)
		require.NoError(t, err)
		assert.Equal(t, DispositionAccept, res.Disposition)
		assert.True(t, res.Confirmed)
		assert.Empty(t, res.Archived)

		assert.Equal(t, []string{"A_r1v1.pdf", "A_r1v2.pdf"}, live(t, store))
		assert.Nil(t, archivedNames(t, store, "A_revisoes"))
		assert.Equal(t, []string{models.ActionUpload}, audit.actions())
	})
}

func TestResolve_SuccessiveRevisionsReuseArchive(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, &memoryAudit{})

	for _, name := range []string{"A_r1v1.pdf", "A_r2v1.pdf", "A_r3v1.pdf"} {
		_, err := upload(t, r, name, false)
		require.NoError(t, err, name)
	}

	assert.Equal(t, []string{"A_r3v1.pdf"}, live(t, store))
	assert.Equal(t, []string{"A_r1v1.pdf", "A_r2v1.pdf"}, archivedNames(t, store, "A_revisoes"))
}

func TestResolve_ArchiveCollisionKeepsBoth(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, &memoryAudit{})

	for _, name := range []string{"A_r1v1.pdf", "A_r2v1.pdf"} {
		_, err := upload(t, r, name, false)
		require.NoError(t, err)
	}
	// r1v1 comes back live and is superseded again.
	base, _ := store.TargetDir(target)
	require.NoError(t, os.Rename(filepath.Join(base, "A_r2v1.pdf"), filepath.Join(base, "A_r1v1.pdf")))

	res, err := upload(t, r, "A_r2v1.pdf", false)
	require.NoError(t, err)
	require.Len(t, res.Archived, 1)
	assert.NotEqual(t, "P1/MEC/FEL1/A_revisoes/A_r1v1.pdf", res.Archived[0].To)
	assert.True(t, strings.HasPrefix(res.Archived[0].To, "P1/MEC/FEL1/A_revisoes/A_r1v1_v"))
	assert.Len(t, archivedNames(t, store, "A_revisoes"), 2)
	assert.Equal(t, []string{"A_r2v1.pdf"}, live(t, store))
}

func TestResolve_RespellingNeedsConfirmation(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "A_r1v1.pdf")
	r := NewResolver(store, &memoryAudit{})

	_, err := upload(t, r, "A_r01v1.pdf", false)
	var warning *ConflictWarning
	require.ErrorAs(t, err, &warning)
	assert.Equal(t, []string{"A_r1v1.pdf"}, warning.Existing)
	assert.Equal(t, []string{"A_r1v1.pdf"}, live(t, store))

	res, err := upload(t, r, "A_r01v1.pdf", true)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, []string{"A_r01v1.pdf", "A_r1v1.pdf"}, live(t, store))
}

func TestResolve_InvalidNames(t *testing.T) {
	store := newTestStore(t)
	audit := &memoryAudit{}
	obs := &countingObserver{}
	r := NewResolver(store, audit, WithObserver(obs))

	for _, name := range []string{"", "planta.pdf", "../A_r1v1.pdf", `dir\A_r1v1.pdf`, "_r1v1.pdf"} {
		_, err := upload(t, r, name, false)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "name %q", name)
	}

	tree, err := store.Tree(nil)
	require.NoError(t, err)
	assert.Empty(t, tree, "rejected names must not create the target")
	assert.Empty(t, audit.actions())
	assert.Equal(t, 5, obs.dispositions[DispositionInvalid])
}

func TestResolve_PartialArchiveFailure(t *testing.T) {
	local := newTestStore(t)
	seed(t, local, "A_r1v1.pdf", "A_r1v2.pdf")
	store := &failingStore{LocalStore: local, failArchive: map[string]bool{"A_r1v2.pdf": true}}
	audit := &memoryAudit{}
	r := NewResolver(store, audit)

	res, err := upload(t, r, "A_r2v1.pdf", false)
	assert.Nil(t, res)

	var aerr *ArchiveError
	require.ErrorAs(t, err, &aerr)
	require.Len(t, aerr.Moved, 1)
	assert.Equal(t, "A_r1v1.pdf", aerr.Moved[0].Name)
	require.Len(t, aerr.Failed, 1)
	assert.Equal(t, "A_r1v2.pdf", aerr.Failed[0].Name)
	assert.Contains(t, err.Error(), "permission denied")

	// The moved file stays archived and the candidate is not written.
	assert.Equal(t, []string{"A_r1v2.pdf"}, live(t, local))
	assert.Equal(t, []string{"A_r1v1.pdf"}, archivedNames(t, local, "A_revisoes"))
	assert.Equal(t, []string{models.ActionArchived}, audit.actions())
}

func TestResolve_WriteFailureIsStorageError(t *testing.T) {
	local := newTestStore(t)
	store := &failingStore{LocalStore: local, failWrite: true}
	obs := &countingObserver{}
	r := NewResolver(store, &memoryAudit{}, WithObserver(obs))

	_, err := upload(t, r, "A_r1v1.pdf", false)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "write", serr.Op)
	assert.Empty(t, serr.Archived)
	assert.Equal(t, 1, obs.dispositions[DispositionFailed])
}

func TestResolve_WriteFailureAfterArchiveReportsMovedFiles(t *testing.T) {
	local := newTestStore(t)
	seed(t, local, "A_r1v1.pdf", "A_r1v2.pdf")
	store := &failingStore{LocalStore: local, failWrite: true}
	audit := &memoryAudit{}
	r := NewResolver(store, audit)

	res, err := upload(t, r, "A_r2v1.pdf", false)
	assert.Nil(t, res)

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "write", serr.Op)
	require.Len(t, serr.Archived, 2)
	names := []string{serr.Archived[0].Name, serr.Archived[1].Name}
	assert.ElementsMatch(t, []string{"A_r1v1.pdf", "A_r1v2.pdf"}, names)
	assert.Contains(t, err.Error(), "after archiving 2 file(s)")

	// The live set is empty and both files sit in the archive.
	assert.Empty(t, live(t, local))
	assert.Equal(t, []string{"A_r1v1.pdf", "A_r1v2.pdf"}, archivedNames(t, local, "A_revisoes"))
	assert.Equal(t, []string{models.ActionArchived, models.ActionArchived}, audit.actions())
}

func TestResolve_AuditFailureDoesNotFailUpload(t *testing.T) {
	store := newTestStore(t)
	audit := &memoryAudit{err: errors.New("database is locked")}
	r := NewResolver(store, audit)

	res, err := upload(t, r, "A_r1v1.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, DispositionAccept, res.Disposition)
	assert.Equal(t, []string{"A_r1v1.pdf"}, live(t, store))
}

func TestResolve_CustomArchiveSuffix(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil, WithArchiveSuffix("_old"))
	seed(t, store, "Doc-r1v1.pdf")

	res, err := upload(t, r, "Doc-r2v1.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, "P1/MEC/FEL1/Doc_old/Doc-r1v1.pdf", res.Archived[0].To)

	f, _ := ParseFilename("Doc-r2v1.pdf")
	assert.Equal(t, "Doc_old", r.ArchiveDir(f))
}

func TestResolve_CanceledContext(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, Request{Target: target, FileName: "A_r1v1.pdf", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, live(t, store))
}

func TestResolve_ConcurrentSameName(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, &memoryAudit{})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := upload(t, r, "A_r1v1.pdf", false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted, duplicates := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrDuplicate):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, duplicates)
	assert.Zero(t, r.locks.held())
}

func TestResolve_ConcurrentRevisions(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, &memoryAudit{})

	var wg sync.WaitGroup
	for _, name := range []string{"A_r1v1.pdf", "A_r2v1.pdf", "A_r3v1.pdf", "A_r4v1.pdf"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := upload(t, r, name, false)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	// Whatever the order, exactly one revision stays live.
	assert.Len(t, live(t, store), 1)
	assert.Len(t, archivedNames(t, store, "A_revisoes"), 3)
}
