package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

const waitFor = 3 * time.Second

func profile(name string) string {
	return "https://www.instagram.com/" + name + "/"
}

type injection struct {
	handle TabHandle
	url    string
	sc     models.ScriptContext
}

// fakeHost opens tabs instantly; they report loaded on the first poll
type fakeHost struct {
	mu        sync.Mutex
	activeURL string
	activeErr error
	next      int
	tabs      map[TabHandle]string
	opened    []string
	closed    []TabHandle
	maxOpen   int
	openErr   func(url string, attempt int) error
	attempts  map[string]int
	neverLoad bool
	hangLoad  bool
	injectErr error

	injected chan injection
}

func newFakeHost(active string) *fakeHost {
	return &fakeHost{
		activeURL: active,
		tabs:      make(map[TabHandle]string),
		attempts:  make(map[string]int),
		injected:  make(chan injection, 256),
	}
}

func (h *fakeHost) ActiveTabURL(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeURL, h.activeErr
}

func (h *fakeHost) OpenTab(ctx context.Context, url string) (TabHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts[url]++
	if h.openErr != nil {
		if err := h.openErr(url, h.attempts[url]); err != nil {
			return "", err
		}
	}
	h.next++
	handle := TabHandle(fmt.Sprintf("tab-%d", h.next))
	h.tabs[handle] = url
	h.opened = append(h.opened, url)
	if len(h.tabs) > h.maxOpen {
		h.maxOpen = len(h.tabs)
	}
	return handle, nil
}

func (h *fakeHost) TabLoaded(ctx context.Context, handle TabHandle) (bool, error) {
	h.mu.Lock()
	hang := h.hangLoad
	h.mu.Unlock()
	if hang {
		<-ctx.Done()
		return false, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[handle]; !ok {
		return false, errors.New("no such tab")
	}
	return !h.neverLoad, nil
}

func (h *fakeHost) Inject(ctx context.Context, handle TabHandle, sc models.ScriptContext) error {
	h.mu.Lock()
	url := h.tabs[handle]
	err := h.injectErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	h.injected <- injection{handle: handle, url: url, sc: sc}
	return nil
}

func (h *fakeHost) CloseTab(ctx context.Context, handle TabHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, handle)
	h.closed = append(h.closed, handle)
	return nil
}

func (h *fakeHost) openedURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

func (h *fakeHost) closedHandles() []TabHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TabHandle(nil), h.closed...)
}

func (h *fakeHost) closedCount() int {
	return len(h.closedHandles())
}

func (h *fakeHost) maxConcurrentTabs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxOpen
}

func (h *fakeHost) waitInjected(t *testing.T, n int) []injection {
	t.Helper()
	out := make([]injection, 0, n)
	deadline := time.After(waitFor)
	for len(out) < n {
		select {
		case inj := <-h.injected:
			out = append(out, inj)
		case <-deadline:
			t.Fatalf("waited for %d injections, got %d", n, len(out))
		}
	}
	return out
}

type memStore struct {
	mu      sync.Mutex
	records []models.ProfileRecord
}

func (m *memStore) AppendRecord(ctx context.Context, rec models.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) all() []models.ProfileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ProfileRecord(nil), m.records...)
}

func (m *memStore) count() int {
	return len(m.all())
}

type recordingListener struct {
	mu      sync.Mutex
	records int
	drained int
}

func (l *recordingListener) RecordAppended(models.ProfileRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records++
}

func (l *recordingListener) Drained() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drained++
}

func (l *recordingListener) drainedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drained
}

func newTestScheduler(t *testing.T, host *fakeHost, opts Options) (*Scheduler, *memStore) {
	t.Helper()
	store := &memStore{}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = time.Minute
	}
	opts.Logger = logger.NewTestLogger()
	s := New(host, store, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s, store
}

func queueIDs(items []models.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func restoreQueue(t *testing.T, s *Scheduler, names ...string) {
	t.Helper()
	snap := models.FrontierSnapshot{}
	for _, n := range names {
		snap.Queue = append(snap.Queue, models.WorkItem{ID: profile(n)})
	}
	require.NoError(t, s.Restore(snap))
}

func discovered(names ...string) []models.WorkItem {
	out := make([]models.WorkItem, len(names))
	for i, n := range names {
		out[i] = models.WorkItem{ID: profile(n)}
	}
	return out
}

func TestSeedScenario(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, store := newTestScheduler(t, host, Options{Capacity: 2})

	require.NoError(t, s.Start(context.Background()))

	st := s.State()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 1, st.Visited)
	assert.Equal(t, 1, st.OpenCount)

	first := host.waitInjected(t, 1)[0]
	assert.Equal(t, profile("p0"), first.url)

	require.NoError(t, s.Complete(context.Background(), first.handle, models.TaskResult{
		Profile:    models.ProfileData{Username: "p0", FollowerCount: "1,234"},
		Discovered: discovered("p1", "p2"),
	}))

	st = s.State()
	assert.Equal(t, 2, st.OpenCount)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 3, st.Visited)

	next := host.waitInjected(t, 2)
	assert.ElementsMatch(t, []string{profile("p1"), profile("p2")}, []string{next[0].url, next[1].url})
	assert.Equal(t, profile("p0"), next[0].sc.Suggester)

	recs := store.all()
	require.Len(t, recs, 1)
	assert.Equal(t, profile("p0"), recs[0].ProfileID)
	assert.Equal(t, "1,234", recs[0].FollowerCount)
	assert.False(t, recs[0].Failed)
	assert.Len(t, recs[0].Discovered, 2)
	assert.Contains(t, host.closedHandles(), first.handle)
}

func TestStartRejectsNonProfileSeed(t *testing.T) {
	host := newFakeHost("https://example.com/some/page")
	s, _ := newTestScheduler(t, host, Options{})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidSeed))
	assert.Equal(t, errs.InvalidPageMessage, errs.UserMessage(err))
	assert.Equal(t, StateIdle, s.State().State)
	assert.Empty(t, host.openedURLs())
}

func TestStartWithoutActiveTab(t *testing.T) {
	host := newFakeHost("")
	host.activeErr = errors.New("no page targets")
	s, _ := newTestScheduler(t, host, Options{})

	err := s.Start(context.Background())
	assert.True(t, errs.IsType(err, errs.ErrorTypeNoActiveTab))
	assert.Equal(t, errs.NoActiveTabMessage, errs.UserMessage(err))
	assert.False(t, s.State().Enabled)
}

func TestStartOnlyFromIdle(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	err := s.Start(context.Background())
	assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidState))

	host.waitInjected(t, 1)
	s.Stop()
	assert.Equal(t, StateDraining, s.State().State)
	err = s.Start(context.Background())
	assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidState))
}

func TestFIFOWithinBatch(t *testing.T) {
	host := newFakeHost("")
	s, _ := newTestScheduler(t, host, Options{Capacity: 2})
	restoreQueue(t, s, "a", "b", "c", "d")

	require.NoError(t, s.Start(context.Background()))
	host.waitInjected(t, 2)

	assert.Equal(t, []string{profile("a"), profile("b")}, host.openedURLs())
	assert.Equal(t, []string{profile("c"), profile("d")}, queueIDs(s.Queue()))

	st := s.State()
	require.Len(t, st.Tasks, 2)
	assert.Equal(t, profile("a"), st.Tasks[0].URL)
	assert.Equal(t, profile("b"), st.Tasks[1].URL)
}

func TestIdempotentStop(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]

	s.Stop()
	s.Stop()

	st := s.State()
	assert.False(t, st.Enabled)
	assert.Equal(t, 1, st.OpenCount)
	assert.Equal(t, 0, host.closedCount())

	select {
	case <-s.Idle():
		t.Fatal("scheduler idle with a task in flight")
	default:
	}

	require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{
		Discovered: discovered("p1"),
	}))
	assert.Equal(t, 1, host.closedCount())

	select {
	case <-s.Idle():
	case <-time.After(waitFor):
		t.Fatal("scheduler never became idle")
	}
	st = s.State()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Queued, "discoveries are kept while stopped")
	assert.Equal(t, 1, len(host.openedURLs()))
}

func TestReEnqueueOnCompletion(t *testing.T) {
	host := newFakeHost(profile("x"))
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]

	require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{
		Discovered: discovered("y", "z"),
	}))

	next := host.waitInjected(t, 1)[0]
	assert.Equal(t, profile("y"), next.url)
	assert.Equal(t, []string{profile("z")}, queueIDs(s.Queue()))
	assert.Equal(t, 1, s.State().OpenCount)
}

func TestDiscoveredDuplicatesAreDropped(t *testing.T) {
	host := newFakeHost(profile("x"))
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]

	require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{
		Discovered: discovered("x", "y", "y", "z"),
	}))
	host.waitInjected(t, 1)
	assert.Equal(t, []string{profile("z")}, queueIDs(s.Queue()))
}

func TestTimeoutFallback(t *testing.T) {
	host := newFakeHost("")
	listener := &recordingListener{}
	s, store := newTestScheduler(t, host, Options{
		Capacity:    1,
		TaskTimeout: 40 * time.Millisecond,
		Listener:    listener,
	})
	restoreQueue(t, s, "a", "b")

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return store.count() == 2 }, waitFor, 5*time.Millisecond)
	for _, rec := range store.all() {
		assert.True(t, rec.Failed)
		assert.Equal(t, string(errs.ErrorTypeExtractionTimeout), rec.ErrorType)
		assert.Empty(t, rec.Discovered)
	}

	require.Eventually(t, func() bool { return listener.drainedCount() == 1 }, waitFor, 5*time.Millisecond)
	st := s.State()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 0, st.OpenCount)
	assert.Equal(t, 2, host.closedCount())
}

func TestLateResultIsDropped(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, store := newTestScheduler(t, host, Options{Capacity: 1, TaskTimeout: 20 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]
	require.Eventually(t, func() bool { return store.count() == 1 }, waitFor, 5*time.Millisecond)

	err := s.Complete(context.Background(), inj.handle, models.TaskResult{Discovered: discovered("p1")})
	assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidState))
	assert.Equal(t, 1, store.count())
	assert.Empty(t, s.Queue())
}

func TestUpdateCapacityClamps(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeHost(""), Options{})

	assert.Equal(t, 5, s.State().Capacity)
	assert.Equal(t, 10, s.UpdateCapacity(15))
	assert.Equal(t, 10, s.Settings().MaxTabs)
	assert.Equal(t, 1, s.UpdateCapacity(0))
	assert.Equal(t, 3, s.UpdateCapacity(3))
}

func TestRaisingCapacityDispatchesMore(t *testing.T) {
	host := newFakeHost("")
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})
	restoreQueue(t, s, "a", "b", "c")

	require.NoError(t, s.Start(context.Background()))
	host.waitInjected(t, 1)

	s.UpdateCapacity(3)
	host.waitInjected(t, 2)
	assert.Equal(t, 3, s.State().OpenCount)
}

func TestRestartWhileTasksInFlight(t *testing.T) {
	host := newFakeHost("")
	listener := &recordingListener{}
	s, store := newTestScheduler(t, host, Options{Capacity: 2, Listener: listener})
	restoreQueue(t, s, "a", "b", "c", "d")

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 2)

	s.Flush()
	st := s.State()
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 2, st.OpenCount)
	assert.True(t, st.Enabled)

	for _, in := range inj {
		require.NoError(t, s.Complete(context.Background(), in.handle, models.TaskResult{}))
	}

	assert.Equal(t, 2, store.count())
	assert.Equal(t, 1, listener.drainedCount())
	assert.Equal(t, StateIdle, s.State().State)
	assert.Len(t, host.openedURLs(), 2)
}

func TestCloseSingleTabFreesCapacity(t *testing.T) {
	host := newFakeHost("")
	s, store := newTestScheduler(t, host, Options{Capacity: 1})
	restoreQueue(t, s, "a", "b")

	require.NoError(t, s.Start(context.Background()))
	first := host.waitInjected(t, 1)[0]

	assert.True(t, s.CloseSingleTab(first.handle))
	assert.False(t, s.CloseSingleTab(first.handle))

	next := host.waitInjected(t, 1)[0]
	assert.Equal(t, profile("b"), next.url)
	assert.Equal(t, 0, store.count())
}

func TestOpenFailureIsRecorded(t *testing.T) {
	host := newFakeHost("")
	host.openErr = func(url string, attempt int) error {
		if url == profile("broken") {
			return errors.New("target crashed")
		}
		return nil
	}
	s, store := newTestScheduler(t, host, Options{Capacity: 1})
	restoreQueue(t, s, "broken", "ok")

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]
	assert.Equal(t, profile("ok"), inj.url)

	require.Eventually(t, func() bool { return store.count() == 1 }, waitFor, 5*time.Millisecond)
	recs := store.all()
	assert.True(t, recs[0].Failed)
	assert.Equal(t, string(errs.ErrorTypeExtractionFailure), recs[0].ErrorType)
	assert.Equal(t, "broken", recs[0].Username)
}

func TestOpenIsRetried(t *testing.T) {
	host := newFakeHost(profile("p0"))
	host.openErr = func(url string, attempt int) error {
		if attempt == 1 {
			return errors.New("transient")
		}
		return nil
	}
	s, store := newTestScheduler(t, host, Options{Capacity: 1, OpenRetries: 2})

	require.NoError(t, s.Start(context.Background()))
	host.waitInjected(t, 1)
	assert.Equal(t, 0, store.count())
}

func TestTabThatNeverLoads(t *testing.T) {
	host := newFakeHost(profile("p0"))
	host.neverLoad = true
	s, store := newTestScheduler(t, host, Options{Capacity: 1, ReadyTimeout: 30 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return store.count() == 1 }, waitFor, 5*time.Millisecond)

	rec := store.all()[0]
	assert.True(t, rec.Failed)
	assert.Equal(t, string(errs.ErrorTypeExtractionFailure), rec.ErrorType)
	assert.Equal(t, 1, host.closedCount())
	assert.Equal(t, StateIdle, s.State().State)
}

func TestTabStuckLoadingTimesOut(t *testing.T) {
	host := newFakeHost(profile("p0"))
	host.hangLoad = true
	s, store := newTestScheduler(t, host, Options{Capacity: 1, ReadyTimeout: 30 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return store.count() == 1 }, waitFor, 5*time.Millisecond)

	rec := store.all()[0]
	assert.True(t, rec.Failed)
	assert.Contains(t, rec.Error, "did not load within")
	assert.Equal(t, 1, host.closedCount())
}

func TestTaskReportedFailure(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, store := newTestScheduler(t, host, Options{Capacity: 1, DevMode: true})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]
	assert.True(t, inj.sc.EnableStackTrace)

	require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{
		Error: "Profile header not found",
		Trace: []string{"waitForElement header: timeout"},
	}))

	rec := store.all()[0]
	assert.True(t, rec.Failed)
	assert.Equal(t, string(errs.ErrorTypeExtractionFailure), rec.ErrorType)
	assert.Contains(t, rec.Error, "Profile header not found")
	assert.Equal(t, []string{"waitForElement header: timeout"}, rec.Trace)
	assert.Equal(t, "p0", rec.Username)
}

func TestSnapshotCarriesVisited(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, _ := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	inj := host.waitInjected(t, 1)[0]
	s.Stop()
	require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{
		Discovered: discovered("p1"),
	}))

	snap := s.Snapshot()
	assert.Equal(t, []string{profile("p0")}, snap.Visited)
	assert.Equal(t, []string{profile("p1")}, queueIDs(snap.Queue))
}

func TestCapacityAndDedupUnderLoad(t *testing.T) {
	host := newFakeHost("")
	s, store := newTestScheduler(t, host, Options{Capacity: 3})
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("seed%d", i)
	}
	restoreQueue(t, s, names...)

	require.NoError(t, s.Start(context.Background()))

	rng := rand.New(rand.NewSource(7))
	completed := 0
	for completed < 60 {
		var inj injection
		select {
		case inj = <-host.injected:
		case <-s.Idle():
			completed = 60
			continue
		case <-time.After(waitFor):
			t.Fatalf("stalled after %d completions", completed)
		}

		st := s.State()
		require.LessOrEqual(t, st.OpenCount, st.Capacity)
		require.Equal(t, st.OpenCount, len(st.Tasks))

		found := make([]models.WorkItem, rng.Intn(3))
		for i := range found {
			found[i] = models.WorkItem{ID: profile(fmt.Sprintf("n%d", rng.Intn(40)))}
		}
		require.NoError(t, s.Complete(context.Background(), inj.handle, models.TaskResult{Discovered: found}))
		completed++
	}

	s.Stop()
	assert.LessOrEqual(t, host.maxConcurrentTabs(), 3)

	seen := map[string]bool{}
	for _, url := range host.openedURLs() {
		assert.False(t, seen[url], "%s opened twice", url)
		seen[url] = true
	}
	for _, rec := range store.all() {
		assert.True(t, seen[rec.ProfileID])
	}
}

func TestCloseAbandonsTasks(t *testing.T) {
	host := newFakeHost(profile("p0"))
	s, store := newTestScheduler(t, host, Options{Capacity: 1})

	require.NoError(t, s.Start(context.Background()))
	host.waitInjected(t, 1)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, host.closedCount())
	assert.Equal(t, 0, store.count())
	assert.True(t, errs.IsType(s.Start(context.Background()), errs.ErrorTypeInvalidState))
}
