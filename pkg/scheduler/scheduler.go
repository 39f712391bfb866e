// Package scheduler implements the tab-budgeted frontier crawler.
//
// A Scheduler pulls profile URLs from a FIFO frontier and opens at most
// Capacity background tabs at once. Each tab gets the extraction task
// injected once it has loaded; the task's result (or a timeout) closes the
// tab, appends a record, feeds discovered profiles back into the frontier
// and frees the slot for the next item.
//
// The order is approximately breadth-first: items are dispatched in
// discovery order, but tasks finish in any order so discoveries from
// different levels interleave.
//
// Host calls (opening, polling, injecting, closing) run outside the
// scheduler lock. Every continuation re-checks that its task is still live
// after each of those calls, because Stop, Complete, CloseSingleTab and the
// timeout may all have run in between.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"igcrawler/pkg/await"
	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/frontier"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/ratelimit"
	"igcrawler/pkg/retry"
)

// State is the lifecycle state derived from enabled and the task count
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

const closeTimeout = 10 * time.Second

// Options configures a Scheduler. Zero values fall back to the defaults of
// the crawler config section.
type Options struct {
	Capacity       int
	DevMode        bool
	PollInterval   time.Duration
	ReadyTimeout   time.Duration
	TaskTimeout    time.Duration
	ProfilePattern *regexp.Regexp
	OpenRetries    int
	Limiter        ratelimit.Limiter
	Logger         logger.Logger
	Listener       Listener
}

// OptionsFromConfig builds Options from the crawler config section
func OptionsFromConfig(cfg config.CrawlerConfig) (Options, error) {
	pattern, err := regexp.Compile(cfg.ProfilePattern)
	if err != nil {
		return Options{}, fmt.Errorf("invalid profile pattern: %w", err)
	}
	return Options{
		Capacity:       cfg.MaxTabs,
		DevMode:        cfg.DevMode,
		PollInterval:   cfg.PollInterval,
		ReadyTimeout:   cfg.ReadyTimeout,
		TaskTimeout:    cfg.TaskTimeout,
		ProfilePattern: pattern,
		OpenRetries:    cfg.OpenRetries,
		Limiter:        ratelimit.New(cfg.TabsPerMinute),
	}, nil
}

func (o *Options) applyDefaults() {
	def := config.DefaultConfig().Crawler
	if o.Capacity == 0 {
		o.Capacity = def.MaxTabs
	}
	o.Capacity = config.ClampTabs(o.Capacity)
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = def.ReadyTimeout
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = def.TaskTimeout
	}
	if o.ProfilePattern == nil {
		o.ProfilePattern = regexp.MustCompile(config.DefaultProfilePattern)
	}
	if o.OpenRetries < 0 {
		o.OpenRetries = 0
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.Unlimited{}
	}
	if o.Logger == nil {
		o.Logger = logger.GetLogger()
	}
}

// ActiveTask is one in-flight extraction task bound to one tab
type ActiveTask struct {
	ID        string
	Item      models.WorkItem
	Handle    TabHandle
	StartedAt time.Time
	ReadyAt   time.Time

	seq       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	timer     *time.Timer
	resolving bool
}

// TaskInfo is the public view of an ActiveTask
type TaskInfo struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Suggester string    `json:"suggester,omitempty"`
	Handle    TabHandle `json:"tab,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	ReadyAt   time.Time `json:"readyAt,omitempty"`
}

// Status is a point-in-time snapshot of the scheduler
type Status struct {
	State     State      `json:"state"`
	Enabled   bool       `json:"enabled"`
	Capacity  int        `json:"capacity"`
	OpenCount int        `json:"openCount"`
	Queued    int        `json:"queued"`
	Visited   int        `json:"visited"`
	DevMode   bool       `json:"devMode"`
	Tasks     []TaskInfo `json:"tasks"`
}

// Scheduler is the crawl engine. Construct one per process with New and
// pass it to whatever needs to drive it.
type Scheduler struct {
	host  TabHost
	store RecordStore
	opts  Options
	log   logger.Logger

	mu         sync.Mutex
	frontier   *frontier.Frontier
	enabled    bool
	capacity   int
	devMode    bool
	listener   Listener
	// tasks is the only record of open tabs; the open count is len(tasks)
	tasks      map[string]*ActiveTask
	byHandle   map[TabHandle]string
	seq        uint64
	// persisting counts resolutions whose record is not yet appended;
	// idle waits for them
	persisting int
	idle       chan struct{}
	isIdle     bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle Scheduler
func New(host TabHost, store RecordStore, opts Options) *Scheduler {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		host:     host,
		store:    store,
		opts:     opts,
		log:      opts.Logger.WithField("component", "scheduler"),
		frontier: frontier.New(),
		capacity: opts.Capacity,
		devMode:  opts.DevMode,
		listener: opts.Listener,
		tasks:    make(map[string]*ActiveTask),
		byHandle: make(map[TabHandle]string),
		idle:     idle,
		isIdle:   true,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetListener replaces the record/drain listener
func (s *Scheduler) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start begins crawling. It is only valid while idle. When the frontier is
// empty the seed is the active tab's URL, which must look like a profile
// page; a frontier restored from an earlier run is resumed as is.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkStartableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	needSeed := s.frontier.IsEmpty()
	s.mu.Unlock()

	var seed models.WorkItem
	if needSeed {
		url, err := s.host.ActiveTabURL(ctx)
		if err != nil {
			return errs.NewNoActiveTab(err)
		}
		if url == "" {
			return errs.NewNoActiveTab(nil)
		}
		if !s.opts.ProfilePattern.MatchString(url) {
			return errs.NewInvalidSeed(url)
		}
		seed = models.WorkItem{ID: url}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The lock was released around the host call.
	if err := s.checkStartableLocked(); err != nil {
		return err
	}
	if s.frontier.IsEmpty() && seed.ID != "" {
		s.frontier.Enqueue(seed)
	}

	s.enabled = true
	s.markBusyLocked()
	s.log.InfoWithFields("Crawl started", map[string]interface{}{
		"seed":     seed.ID,
		"queued":   s.frontier.Len(),
		"capacity": s.capacity,
	})

	s.dispatchLocked()
	if s.drainedLocked() {
		go s.notifyDrained()
	}
	return nil
}

func (s *Scheduler) checkStartableLocked() error {
	if s.closed {
		return errs.Wrap(errs.ErrorTypeInvalidState, "scheduler is closed", nil)
	}
	if st := s.stateLocked(); st != StateIdle {
		return errs.Wrap(errs.ErrorTypeInvalidState, fmt.Sprintf("cannot start while %s", st), nil)
	}
	return nil
}

// Stop disables dispatch. In-flight tasks are left to finish or time out.
// Calling Stop again has no further effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.enabled = false
	s.log.InfoWithFields("Crawl stopped", map[string]interface{}{
		"in_flight": len(s.tasks),
		"queued":    s.frontier.Len(),
	})
	s.updateIdleLocked()
}

// Flush discards every queued item. Visited ids and in-flight tasks are
// untouched.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.frontier.Len()
	s.frontier.Clear()
	s.log.WithField("dropped", dropped).Info("Frontier flushed")
}

// UpdateCapacity clamps n to the allowed tab range and applies it to future
// dispatch. Tasks above the new capacity are not cancelled.
func (s *Scheduler) UpdateCapacity(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = config.ClampTabs(n)
	s.dispatchLocked()
	return s.capacity
}

// SetDevMode toggles stack-trace collection for tasks injected from now on
func (s *Scheduler) SetDevMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devMode = on
}

// Settings returns the operator-adjustable settings
func (s *Scheduler) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Settings{MaxTabs: s.capacity, DevMode: s.devMode}
}

// Complete resolves the task running in tab h with the task's own result.
// A result for a tab that is no longer tracked is dropped.
func (s *Scheduler) Complete(ctx context.Context, h TabHandle, result models.TaskResult) error {
	s.mu.Lock()
	t := s.taskByHandleLocked(h)
	if t == nil || !s.claimLocked(t) {
		s.mu.Unlock()
		s.log.WithField("tab", string(h)).Warn("Dropping result for a tab that is no longer active")
		return errs.Wrap(errs.ErrorTypeInvalidState, "no active task for tab "+string(h), nil)
	}
	s.mu.Unlock()

	rec := s.baseRecord(t)
	rec.ProfileData = result.Profile
	if rec.Username == "" {
		rec.Username = models.UsernameFromURL(t.Item.ID)
	}
	rec.Discovered = result.Discovered
	if result.Failed() {
		err := errs.NewExtractionFailure(t.Item.ID, result.Error, result.Trace, nil)
		rec.Failed = true
		rec.ErrorType = string(err.Type)
		rec.Error = err.Message
	}
	rec.Trace = result.Trace

	s.resolve(ctx, t, rec, result.Discovered, true)
	return nil
}

// CloseSingleTab forgets the task bound to h after its tab was closed
// outside the scheduler. No record is written. It reports whether a task
// was found.
func (s *Scheduler) CloseSingleTab(h TabHandle) bool {
	s.mu.Lock()
	t := s.taskByHandleLocked(h)
	if t == nil || !s.claimLocked(t) {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(t)
	s.log.WithField("profile", t.Item.ID).Info("Tab closed externally")
	s.dispatchLocked()
	drained := s.drainedLocked()
	s.mu.Unlock()

	if drained {
		s.notifyDrained()
	}
	return true
}

// State returns a snapshot of the scheduler
func (s *Scheduler) State() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*ActiveTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })

	infos := make([]TaskInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = TaskInfo{
			ID:        t.ID,
			URL:       t.Item.ID,
			Suggester: t.Item.Origin,
			Handle:    t.Handle,
			StartedAt: t.StartedAt,
			ReadyAt:   t.ReadyAt,
		}
	}

	return Status{
		State:     s.stateLocked(),
		Enabled:   s.enabled,
		Capacity:  s.capacity,
		OpenCount: len(s.tasks),
		Queued:    s.frontier.Len(),
		Visited:   s.frontier.VisitedCount(),
		DevMode:   s.devMode,
		Tasks:     infos,
	}
}

// Queue returns the pending items in dispatch order
func (s *Scheduler) Queue() []models.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontier.Pending()
}

// Snapshot returns the frontier for persistence
func (s *Scheduler) Snapshot() models.FrontierSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontier.Snapshot()
}

// Restore loads a persisted frontier. Only valid while idle.
func (s *Scheduler) Restore(snap models.FrontierSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stateLocked(); st != StateIdle {
		return errs.Wrap(errs.ErrorTypeInvalidState, fmt.Sprintf("cannot restore while %s", st), nil)
	}
	s.frontier.Restore(snap)
	s.log.InfoWithFields("Frontier restored", map[string]interface{}{
		"queued":  s.frontier.Len(),
		"visited": s.frontier.VisitedCount(),
	})
	return nil
}

// Idle returns a channel that is closed once the scheduler is disabled and
// has no tasks left
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Close abandons every in-flight task, closes their tabs and waits for
// background work to exit, including records still being appended. No
// records are written for abandoned tasks.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.enabled = false
	var handles []TabHandle
	for _, t := range s.tasks {
		if s.claimLocked(t) {
			if t.Handle != "" {
				handles = append(handles, t.Handle)
			}
			s.removeLocked(t)
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	// Records of tasks resolved just before Close are still being appended.
	<-s.Idle()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var closeErrs []error
	for _, h := range handles {
		if err := s.host.CloseTab(ctx, h); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	return errors.Join(closeErrs...)
}

func (s *Scheduler) stateLocked() State {
	switch {
	case s.enabled:
		return StateRunning
	case len(s.tasks) > 0:
		return StateDraining
	default:
		return StateIdle
	}
}

func (s *Scheduler) markBusyLocked() {
	if s.isIdle {
		s.idle = make(chan struct{})
		s.isIdle = false
	}
}

func (s *Scheduler) updateIdleLocked() {
	if !s.isIdle && s.persisting == 0 && s.stateLocked() == StateIdle {
		close(s.idle)
		s.isIdle = true
	}
}

// drainedLocked disables a running crawl that has nothing left to do and
// reports whether it did so
func (s *Scheduler) drainedLocked() bool {
	if !s.enabled || len(s.tasks) > 0 || !s.frontier.IsEmpty() {
		return false
	}
	s.enabled = false
	s.log.WithField("visited", s.frontier.VisitedCount()).Info("Frontier drained")
	s.updateIdleLocked()
	return true
}

func (s *Scheduler) notifyDrained() {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.Drained()
	}
}

func (s *Scheduler) taskByHandleLocked(h TabHandle) *ActiveTask {
	id, ok := s.byHandle[h]
	if !ok {
		return nil
	}
	return s.tasks[id]
}

func (s *Scheduler) liveLocked(t *ActiveTask) bool {
	return s.tasks[t.ID] == t && !t.resolving
}

// claimLocked marks t as being resolved so exactly one path resolves it
func (s *Scheduler) claimLocked(t *ActiveTask) bool {
	if !s.liveLocked(t) {
		return false
	}
	t.resolving = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancel()
	return true
}

func (s *Scheduler) removeLocked(t *ActiveTask) {
	delete(s.tasks, t.ID)
	if t.Handle != "" {
		delete(s.byHandle, t.Handle)
	}
	s.updateIdleLocked()
}

// dispatchLocked fills free capacity from the head of the frontier. The
// task is registered before its tab exists so capacity is never exceeded
// while opens are in flight.
func (s *Scheduler) dispatchLocked() {
	if !s.enabled || s.closed {
		return
	}
	free := s.capacity - len(s.tasks)
	if free <= 0 || s.frontier.IsEmpty() {
		return
	}

	items := s.frontier.DequeueUpTo(free)
	batch := make([]*ActiveTask, 0, len(items))
	for _, item := range items {
		s.frontier.MarkVisited(item.ID)
		s.seq++
		t := &ActiveTask{
			ID:        uuid.NewString(),
			Item:      item,
			StartedAt: time.Now(),
			seq:       s.seq,
		}
		t.ctx, t.cancel = context.WithCancel(s.ctx)
		s.tasks[t.ID] = t
		batch = append(batch, t)

		s.log.DebugWithFields("Task dispatched", map[string]interface{}{
			"profile": item.ID,
			"open":    len(s.tasks),
			"queued":  s.frontier.Len(),
		})
	}

	s.wg.Add(1)
	go s.openBatch(batch)
}

// openBatch opens the batch's tabs one after another so tabs appear in
// queue order, then hands each tab to its own goroutine
func (s *Scheduler) openBatch(batch []*ActiveTask) {
	defer s.wg.Done()
	for _, t := range batch {
		h, ok := s.openTab(t)
		if !ok {
			continue
		}
		s.wg.Add(1)
		go s.prepare(t, h)
	}
}

func (s *Scheduler) openTab(t *ActiveTask) (TabHandle, bool) {
	if err := s.opts.Limiter.Wait(t.ctx); err != nil {
		s.fail(t, errs.Wrap(errs.ErrorTypeBrowser, "tab pacing interrupted", err))
		return "", false
	}

	h, err := retry.DoWithResult(func() (TabHandle, error) {
		return s.host.OpenTab(t.ctx, t.Item.ID)
	}, retry.ForAttempts(t.ctx, s.opts.OpenRetries+1, s.log))
	if err != nil {
		s.fail(t, errs.NewExtractionFailure(t.Item.ID, "failed to open tab", nil, err))
		return "", false
	}

	s.mu.Lock()
	live := s.liveLocked(t)
	if live {
		t.Handle = h
		s.byHandle[h] = t.ID
	}
	s.mu.Unlock()

	if !live {
		s.closeTab(h)
		return "", false
	}
	return h, true
}

// prepare waits for the tab to load, injects the extraction task and arms
// the task timeout
func (s *Scheduler) prepare(t *ActiveTask, h TabHandle) {
	defer s.wg.Done()

	err := await.Until(t.ctx, s.opts.PollInterval, s.opts.ReadyTimeout, func(ctx context.Context) (bool, error) {
		return s.host.TabLoaded(ctx, h)
	})
	if err != nil {
		if errors.Is(err, await.ErrTimeout) {
			err = errs.NewExtractionFailure(t.Item.ID,
				fmt.Sprintf("tab did not load within %s", s.opts.ReadyTimeout), nil, err)
		} else {
			err = errs.NewExtractionFailure(t.Item.ID, "tab failed while loading", nil, err)
		}
		s.fail(t, err)
		return
	}

	s.mu.Lock()
	live := s.liveLocked(t)
	sc := models.ScriptContext{EnableStackTrace: s.devMode, Suggester: t.Item.Origin}
	s.mu.Unlock()
	if !live {
		return
	}

	if err := s.host.Inject(t.ctx, h, sc); err != nil {
		s.fail(t, errs.NewExtractionFailure(t.Item.ID, "script injection failed", nil, err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(t) {
		return
	}
	t.ReadyAt = time.Now()
	t.timer = time.AfterFunc(s.opts.TaskTimeout, func() { s.expire(t) })
}

func (s *Scheduler) expire(t *ActiveTask) {
	s.mu.Lock()
	if !s.claimLocked(t) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := errs.NewExtractionTimeout(t.Item.ID, s.opts.TaskTimeout)
	s.resolve(context.Background(), t, s.failureRecord(t, err), nil, true)
}

// fail resolves t with a failure record, unless the scheduler is shutting
// down or t was already resolved elsewhere
func (s *Scheduler) fail(t *ActiveTask, err error) {
	s.mu.Lock()
	if !s.claimLocked(t) {
		s.mu.Unlock()
		return
	}
	if s.ctx.Err() != nil {
		s.removeLocked(t)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.resolve(context.Background(), t, s.failureRecord(t, err), nil, t.Handle != "")
}

// resolve finishes a claimed task: closes its tab, frees its slot, queues
// what it discovered and persists its record
func (s *Scheduler) resolve(ctx context.Context, t *ActiveTask, rec models.ProfileRecord, discovered []models.WorkItem, closeTab bool) {
	if closeTab && t.Handle != "" {
		s.closeTab(t.Handle)
	}

	for i := range discovered {
		if discovered[i].Origin == "" {
			discovered[i].Origin = t.Item.ID
		}
	}

	s.mu.Lock()
	s.persisting++
	s.removeLocked(t)
	accepted := s.frontier.Enqueue(discovered...)
	s.dispatchLocked()
	drained := s.drainedLocked()
	listener := s.listener
	s.mu.Unlock()

	if len(discovered) > 0 {
		s.log.DebugWithFields("Discovered profiles queued", map[string]interface{}{
			"profile":  t.Item.ID,
			"reported": len(discovered),
			"accepted": accepted,
		})
	}

	rec.CompletedAt = time.Now()
	logger.LogRecord(s.log, rec)
	if err := s.store.AppendRecord(context.WithoutCancel(ctx), rec); err != nil {
		s.log.WithError(err).WithField("profile", rec.ProfileID).Error("Failed to append record")
	} else if listener != nil {
		listener.RecordAppended(rec)
	}

	if drained && listener != nil {
		listener.Drained()
	}

	s.mu.Lock()
	s.persisting--
	s.updateIdleLocked()
	s.mu.Unlock()
}

func (s *Scheduler) closeTab(h TabHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.host.CloseTab(ctx, h); err != nil {
		s.log.WithError(err).WithField("tab", string(h)).Warn("Failed to close tab")
	}
}

func (s *Scheduler) baseRecord(t *ActiveTask) models.ProfileRecord {
	return models.ProfileRecord{
		ID:        t.ID,
		ProfileID: t.Item.ID,
		Suggester: t.Item.Origin,
		StartedAt: t.StartedAt,
	}
}

func (s *Scheduler) failureRecord(t *ActiveTask, err error) models.ProfileRecord {
	rec := s.baseRecord(t)
	rec.Username = models.UsernameFromURL(t.Item.ID)
	rec.Failed = true
	rec.ErrorType = string(errs.TypeOf(err))
	rec.Error = err.Error()
	rec.Trace = errs.TraceOf(err)
	return rec
}
