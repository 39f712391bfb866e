package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
	"igcrawler/pkg/storage"
)

type fakeCrawler struct {
	mu        sync.Mutex
	startErr  error
	started   int
	stopped   int
	flushed   int
	capacity  int
	devMode   bool
	completed []scheduler.TabHandle
	closed    []scheduler.TabHandle
	status    scheduler.Status
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{capacity: 5}
}

func (f *fakeCrawler) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeCrawler) Stop()  { f.mu.Lock(); f.stopped++; f.mu.Unlock() }
func (f *fakeCrawler) Flush() { f.mu.Lock(); f.flushed++; f.mu.Unlock() }

func (f *fakeCrawler) UpdateCapacity(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity = config.ClampTabs(n)
	return f.capacity
}

func (f *fakeCrawler) SetDevMode(on bool) { f.mu.Lock(); f.devMode = on; f.mu.Unlock() }

func (f *fakeCrawler) Settings() models.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Settings{MaxTabs: f.capacity, DevMode: f.devMode}
}

func (f *fakeCrawler) Complete(_ context.Context, h scheduler.TabHandle, _ models.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == "gone" {
		return errs.Wrap(errs.ErrorTypeInvalidState, "no active task for tab gone", nil)
	}
	f.completed = append(f.completed, h)
	return nil
}

func (f *fakeCrawler) CloseSingleTab(h scheduler.TabHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h)
	return true
}

func (f *fakeCrawler) State() scheduler.Status   { return f.status }
func (f *fakeCrawler) Queue() []models.WorkItem { return []models.WorkItem{{ID: "q1"}} }

type fakeSink struct {
	mu   sync.Mutex
	recs []models.ProfileRecord
	err  error
}

func (f *fakeSink) Publish(_ context.Context, rec models.ProfileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

func (f *fakeSink) Close() error { return nil }

type fakeAvatars struct {
	submitted []string
}

func (f *fakeAvatars) SubmitRecord(rec models.ProfileRecord) bool {
	f.submitted = append(f.submitted, rec.Username)
	return true
}

type fakeNotifier struct {
	notes  []string
	errors []string
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.notes = append(f.notes, title+": "+message)
	return nil
}

func (f *fakeNotifier) Error(title, message string) error {
	f.errors = append(f.errors, title+": "+message)
	return nil
}

type recordingObserver struct {
	records []models.ProfileRecord
	drained int
}

func (o *recordingObserver) RecordAppended(rec models.ProfileRecord) {
	o.records = append(o.records, rec)
}

func (o *recordingObserver) Drained() { o.drained++ }

func newTestRouter(t *testing.T, opts Options) (*Router, *fakeCrawler) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	c := newFakeCrawler()
	return New(c, opts), c
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
	}{
		{"start", `{"source":"popup","signal":"start"}`, StartMessage{}},
		{"stop", `{"source":"Popup","signal":"stop"}`, StopMessage{}},
		{"restart", `{"source":"popup","signal":"restart"}`, RestartMessage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeUpdateSettings(t *testing.T) {
	msg, err := Decode([]byte(`{"source":"popup","signal":"update_settings","payload":{"maxTabs":15,"devMode":true}}`))
	require.NoError(t, err)

	us, ok := msg.(UpdateSettingsMessage)
	require.True(t, ok)
	require.NotNil(t, us.MaxTabs)
	require.NotNil(t, us.DevMode)
	assert.Equal(t, 15, *us.MaxTabs)
	assert.True(t, *us.DevMode)

	msg, err = Decode([]byte(`{"source":"popup","signal":"update_settings","payload":{"devMode":false}}`))
	require.NoError(t, err)
	assert.Nil(t, msg.(UpdateSettingsMessage).MaxTabs)
}

func TestDecodeComplete(t *testing.T) {
	raw := `{"source":"contentScript","signal":"complete","tab":"T1","payload":{
		"record":{"user":"alice","followerCount":"10"},
		"discoveredItems":[{"url":"https://www.instagram.com/bob/"}],
		"error":"","trace":["clicked follow"]}}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	cm, ok := msg.(CompleteMessage)
	require.True(t, ok)
	assert.Equal(t, scheduler.TabHandle("T1"), cm.Tab)
	assert.Equal(t, "alice", cm.Result.Profile.Username)
	require.Len(t, cm.Result.Discovered, 1)
	assert.Equal(t, "https://www.instagram.com/bob/", cm.Result.Discovered[0].ID)
	assert.False(t, cm.Result.Failed())
}

func TestDecodeRejectsUnknown(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		msg  string
	}{
		{"no source", `{"signal":"start"}`, "Unrecognized Source"},
		{"unknown source", `{"source":"options","signal":"start"}`, "Unrecognized message options/start"},
		{"unknown popup signal", `{"source":"popup","signal":"pause"}`, "Unrecognized message popup/pause"},
		{"popup cannot complete", `{"source":"popup","signal":"complete"}`, "Unrecognized message popup/complete"},
		{"task cannot start", `{"source":"contentScript","signal":"start"}`, "Unrecognized message contentScript/start"},
		{"complete without tab", `{"source":"contentScript","signal":"complete"}`, "complete message without a tab"},
		{"not json", `{"source":`, "malformed message"},
		{"bad payload", `{"source":"popup","signal":"update_settings","payload":{"maxTabs":"many"}}`, "malformed update_settings payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errs.IsType(err, errs.ErrorTypeUnrecognizedMessage))
			assert.Equal(t, tt.msg, errs.UserMessage(err))
		})
	}
}

func TestHandleUnrecognizedLeavesCrawlerAlone(t *testing.T) {
	r, c := newTestRouter(t, Options{})
	resp := r.HandleControl(context.Background(), []byte(`{"source":"unknown","signal":"start"}`))
	assert.False(t, resp.Success)
	assert.Zero(t, c.started)
	assert.Zero(t, c.stopped)
	assert.Zero(t, c.flushed)
}

func TestHandleControlRefusesTaskResults(t *testing.T) {
	r, c := newTestRouter(t, Options{})
	raw := []byte(`{"source":"contentScript","signal":"complete","tab":"T1","payload":{"record":{"user":"a"}}}`)

	resp := r.HandleControl(context.Background(), raw)
	assert.False(t, resp.Success)
	assert.Equal(t, "task results are only accepted from the browser", resp.Message)
	assert.Empty(t, c.completed)
}

func TestDispatchNilMessage(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	resp := r.Dispatch(context.Background(), nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unrecognized Source", resp.Message)
}

func TestStartMirrorsRunning(t *testing.T) {
	store := storage.NewMemoryStore()
	r, c := newTestRouter(t, Options{Store: store})

	resp := r.Dispatch(context.Background(), StartMessage{})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, c.started)

	running, err := store.Running(context.Background())
	require.NoError(t, err)
	assert.True(t, running)

	resp = r.Dispatch(context.Background(), StopMessage{})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, c.stopped)

	running, err = store.Running(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestStartFailureIsReported(t *testing.T) {
	notifier := &fakeNotifier{}
	store := storage.NewMemoryStore()
	r, c := newTestRouter(t, Options{Store: store, Notifier: notifier, NotifyOnError: true})
	c.startErr = errs.NewInvalidSeed("https://www.instagram.com/explore/")

	resp := r.Dispatch(context.Background(), StartMessage{})
	assert.False(t, resp.Success)
	assert.Equal(t, errs.InvalidPageMessage, resp.Message)
	require.Len(t, notifier.errors, 1)
	assert.Contains(t, notifier.errors[0], errs.InvalidPageMessage)

	running, err := store.Running(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestRestartFlushes(t *testing.T) {
	r, c := newTestRouter(t, Options{})
	resp := r.HandleControl(context.Background(), []byte(`{"source":"popup","signal":"restart"}`))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, c.flushed)
	assert.Zero(t, c.stopped)
}

func TestUpdateSettingsClampsAndPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	r, c := newTestRouter(t, Options{Store: store})

	resp := r.HandleControl(context.Background(), []byte(`{"source":"popup","signal":"update_settings","payload":{"maxTabs":15,"devMode":true}}`))
	assert.True(t, resp.Success)
	assert.Equal(t, 10, c.capacity)
	assert.True(t, c.devMode)

	saved, ok, err := store.LoadSettings(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Settings{MaxTabs: 10, DevMode: true}, saved)
}

func TestUpdateSettingsPartial(t *testing.T) {
	r, c := newTestRouter(t, Options{})
	c.devMode = true

	resp := r.HandleControl(context.Background(), []byte(`{"source":"popup","signal":"update_settings","payload":{"maxTabs":0}}`))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, c.capacity)
	assert.True(t, c.devMode, "devMode untouched when absent")
}

func TestCompleteDispatch(t *testing.T) {
	r, c := newTestRouter(t, Options{})

	resp := r.Dispatch(context.Background(), CompleteMessage{Tab: "T7"})
	assert.True(t, resp.Success)
	assert.Equal(t, []scheduler.TabHandle{"T7"}, c.completed)

	resp = r.Dispatch(context.Background(), CompleteMessage{Tab: "gone"})
	assert.False(t, resp.Success)
}

func TestHandleTaskMessageUsesHostTab(t *testing.T) {
	r, c := newTestRouter(t, Options{})

	raw := []byte(`{"source":"contentScript","signal":"complete","tab":"spoofed","payload":{"record":{"user":"a"}}}`)
	resp := r.HandleTaskMessage(context.Background(), "T3", raw)
	assert.True(t, resp.Success)
	assert.Equal(t, []scheduler.TabHandle{"T3"}, c.completed)

	resp = r.HandleTaskMessage(context.Background(), "T3", []byte(`not json`))
	assert.False(t, resp.Success)
}

func TestTabClosed(t *testing.T) {
	r, c := newTestRouter(t, Options{})
	r.TabClosed("T9")
	assert.Equal(t, []scheduler.TabHandle{"T9"}, c.closed)
}

func TestRecordAppendedFansOut(t *testing.T) {
	sink := &fakeSink{err: errors.New("broker down")}
	avatars := &fakeAvatars{}
	observer := &recordingObserver{}
	log := logger.NewTestLogger()
	r, _ := newTestRouter(t, Options{Sink: sink, Avatars: avatars, Observers: []scheduler.Listener{observer}, Logger: log})

	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	ok := models.ProfileRecord{ProfileID: "p1", ProfileData: models.ProfileData{Username: "alice", ProfileImageURL: "https://cdn/a.jpg"}}
	noImage := models.ProfileRecord{ProfileID: "p2", ProfileData: models.ProfileData{Username: "bob"}}
	failed := models.ProfileRecord{ProfileID: "p3", Failed: true, ProfileData: models.ProfileData{Username: "carol", ProfileImageURL: "https://cdn/c.jpg"}}

	r.RecordAppended(ok)
	r.RecordAppended(noImage)
	r.RecordAppended(failed)

	assert.Len(t, sink.recs, 3)
	assert.Equal(t, []string{"alice"}, avatars.submitted)
	assert.Len(t, observer.records, 3)
	assert.True(t, log.HasMessage("Sink publish failed"))

	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, SignalRefresh, ev.Signal)
			require.NotNil(t, ev.Record)
		case <-time.After(time.Second):
			t.Fatal("missing refresh event")
		}
	}
}

func TestDrained(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetRunning(context.Background(), true))
	notifier := &fakeNotifier{}
	observer := &recordingObserver{}
	r, c := newTestRouter(t, Options{Store: store, Notifier: notifier, NotifyOnComplete: true, Observers: []scheduler.Listener{observer}})
	c.status = scheduler.Status{Visited: 12}

	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	r.Drained()

	running, err := store.Running(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
	require.Len(t, notifier.notes, 1)
	assert.Contains(t, notifier.notes[0], "12 profiles")
	assert.Equal(t, 1, observer.drained)

	ev := <-events
	assert.Equal(t, SignalDrained, ev.Signal)
	assert.Equal(t, SourceWorker, ev.Source)
}

func TestSubscribeDoesNotBlockOnSlowReader(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	_, unsubscribe := r.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBuffer*2; i++ {
			r.RecordAppended(models.ProfileRecord{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	unsubscribe()
	unsubscribe()
}
