// Package router is the message router between operators, extraction
// tasks and the scheduler.
//
// Commands and task results arrive as JSON envelopes, are decoded into a
// closed set of message variants and dispatched to the scheduler. The
// router mirrors the running flag and settings into the store, relays every
// appended record to sinks, the avatar pool and observers, and publishes
// worker events to subscribers.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
	"igcrawler/pkg/sink"
	"igcrawler/pkg/storage"
)

const (
	sinkTimeout   = 10 * time.Second
	mirrorTimeout = 5 * time.Second
	eventBuffer   = 64
)

// Crawler is the scheduler surface the router drives
type Crawler interface {
	Start(ctx context.Context) error
	Stop()
	Flush()
	UpdateCapacity(n int) int
	SetDevMode(on bool)
	Settings() models.Settings
	Complete(ctx context.Context, h scheduler.TabHandle, result models.TaskResult) error
	CloseSingleTab(h scheduler.TabHandle) bool
	State() scheduler.Status
	Queue() []models.WorkItem
}

// AvatarQueue accepts profile images for download
type AvatarQueue interface {
	SubmitRecord(rec models.ProfileRecord) bool
}

// Notifier shows operator notifications
type Notifier interface {
	Notify(title, message string) error
	Error(title, message string) error
}

// Options configures a Router
type Options struct {
	Store            storage.Store
	Sink             sink.Sink
	Avatars          AvatarQueue
	Notifier         Notifier
	NotifyOnComplete bool
	NotifyOnError    bool
	// Observers are told about records and drains after the router's own
	// handling
	Observers []scheduler.Listener
	Logger    logger.Logger
}

// Router dispatches messages to a Crawler. It implements
// scheduler.Listener.
type Router struct {
	crawler Crawler
	opts    Options
	log     logger.Logger

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

// New creates a router for crawler
func New(crawler Crawler, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Router{
		crawler:     crawler,
		opts:        opts,
		log:         opts.Logger.WithField("component", "router"),
		subscribers: make(map[int]chan Event),
	}
}

// HandleControl decodes raw from a control client and dispatches it. Task
// results carry the tab they resolve, so they are only taken from the
// browser host through HandleTaskMessage.
func (r *Router) HandleControl(ctx context.Context, raw []byte) Response {
	msg, err := Decode(raw)
	if err != nil {
		r.log.WithError(err).Warn("Rejected message")
		return failure(err)
	}
	if _, ok := msg.(CompleteMessage); ok {
		err := errs.Wrap(errs.ErrorTypeUnrecognizedMessage, "task results are only accepted from the browser", nil)
		r.log.Warn("Rejected task result from a control client")
		return failure(err)
	}
	return r.Dispatch(ctx, msg)
}

// Dispatch runs msg against the crawler. Every variant is handled; anything
// else is answered with an unrecognized message failure.
func (r *Router) Dispatch(ctx context.Context, msg Message) Response {
	switch m := msg.(type) {
	case StartMessage:
		if err := r.crawler.Start(ctx); err != nil {
			r.log.WithError(err).Warn("Start rejected")
			r.notifyError("Crawl not started", errs.UserMessage(err))
			return failure(err)
		}
		r.mirrorRunning(ctx, true)
		return Response{Success: true}

	case StopMessage:
		r.crawler.Stop()
		r.mirrorRunning(ctx, false)
		return Response{Success: true}

	case RestartMessage:
		r.crawler.Flush()
		return Response{Success: true}

	case UpdateSettingsMessage:
		return r.updateSettings(ctx, m)

	case CompleteMessage:
		if err := r.crawler.Complete(ctx, m.Tab, m.Result); err != nil {
			return failure(err)
		}
		return Response{Success: true}

	default:
		return failure(errs.NewUnrecognizedMessage("", ""))
	}
}

func (r *Router) updateSettings(ctx context.Context, m UpdateSettingsMessage) Response {
	if m.MaxTabs != nil {
		applied := r.crawler.UpdateCapacity(*m.MaxTabs)
		if applied != *m.MaxTabs {
			r.log.InfoWithFields("Tab capacity clamped", map[string]interface{}{
				"requested": *m.MaxTabs,
				"applied":   applied,
			})
		}
	}
	if m.DevMode != nil {
		r.crawler.SetDevMode(*m.DevMode)
	}

	settings := r.crawler.Settings()
	if r.opts.Store != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := r.opts.Store.SaveSettings(mctx, settings); err != nil {
			r.log.WithError(err).Warn("Failed to persist settings")
		}
	}
	return Response{Success: true, Message: fmt.Sprintf("maxTabs=%d devMode=%t", settings.MaxTabs, settings.DevMode)}
}

// HandleTaskMessage dispatches a message posted by the extraction task in
// tab h. The tab is taken from the host, not from the message.
func (r *Router) HandleTaskMessage(ctx context.Context, h scheduler.TabHandle, raw []byte) Response {
	env, err := parseEnvelope(raw)
	if err != nil {
		r.log.WithError(err).WithField("tab", string(h)).Warn("Malformed task message")
		return failure(err)
	}
	env.Tab = string(h)

	msg, err := DecodeEnvelope(env)
	if err != nil {
		r.log.WithError(err).WithField("tab", string(h)).Warn("Rejected task message")
		return failure(err)
	}
	return r.Dispatch(ctx, msg)
}

// TabClosed forwards an externally closed tab to the scheduler
func (r *Router) TabClosed(h scheduler.TabHandle) {
	r.crawler.CloseSingleTab(h)
}

// RecordAppended relays rec to sinks, the avatar pool, observers and
// subscribers
func (r *Router) RecordAppended(rec models.ProfileRecord) {
	if r.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := r.opts.Sink.Publish(ctx, rec); err != nil {
			r.log.WithError(err).WithField("profile", rec.ProfileID).Warn("Sink publish failed")
		}
		cancel()
	}

	if r.opts.Avatars != nil && !rec.Failed && rec.ProfileImageURL != "" {
		if !r.opts.Avatars.SubmitRecord(rec) {
			r.log.WithField("profile", rec.ProfileID).Debug("Avatar skipped")
		}
	}

	for _, o := range r.opts.Observers {
		o.RecordAppended(rec)
	}

	r.publish(Event{Source: SourceWorker, Signal: SignalRefresh, Record: &rec})
}

// Drained clears the running mirror and tells everyone the crawl is over
func (r *Router) Drained() {
	r.mirrorRunning(context.Background(), false)

	st := r.crawler.State()
	r.log.WithField("visited", st.Visited).Info("Frontier drained")
	if r.opts.NotifyOnComplete && r.opts.Notifier != nil {
		if err := r.opts.Notifier.Notify("Crawl complete", fmt.Sprintf("%d profiles visited", st.Visited)); err != nil {
			r.log.WithError(err).Debug("Notification failed")
		}
	}

	for _, o := range r.opts.Observers {
		o.Drained()
	}

	r.publish(Event{Source: SourceWorker, Signal: SignalDrained})
}

// Subscribe returns a channel of worker events and a function that ends
// the subscription. Slow subscribers miss events rather than block.
func (r *Router) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, eventBuffer)
	r.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subscribers, id)
			close(ch)
		})
	}
}

func (r *Router) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Router) mirrorRunning(ctx context.Context, running bool) {
	if r.opts.Store == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := r.opts.Store.SetRunning(mctx, running); err != nil {
		r.log.WithError(err).Warn("Failed to persist running flag")
	}
}

func (r *Router) notifyError(title, message string) {
	if !r.opts.NotifyOnError || r.opts.Notifier == nil {
		return
	}
	if err := r.opts.Notifier.Error(title, message); err != nil {
		r.log.WithError(err).Debug("Notification failed")
	}
}

func failure(err error) Response {
	return Response{Success: false, Message: errs.UserMessage(err)}
}
