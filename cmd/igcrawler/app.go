package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igcrawler/internal/browserhost"
	"igcrawler/internal/downloader"
	"igcrawler/pkg/auth"
	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/ratelimit"
	"igcrawler/pkg/router"
	"igcrawler/pkg/scheduler"
	"igcrawler/pkg/sink"
	"igcrawler/pkg/storage"
	"igcrawler/pkg/ui"
)

const (
	avatarsPerMinute = 60
	shutdownTimeout  = 10 * time.Second
)

// app is one wired crawler: result store, scheduler, router and the
// optional sinks and avatar pool
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   storage.Store
	sinks   sink.Multi
	sched   *scheduler.Scheduler
	router  *router.Router
	avatars *downloader.WorkerPool

	avatarsDone chan struct{}
}

// observerFunc builds observers once the scheduler they watch exists
type observerFunc func(*scheduler.Scheduler) []scheduler.Listener

func newApp(ctx context.Context, cfg *config.Config, host scheduler.TabHost, account *auth.Account, observers observerFunc) (*app, error) {
	log := logger.GetLogger()

	store, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	sinks, err := sink.FromConfig(ctx, cfg.Sinks)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to configure sinks: %w", err)
	}

	opts, err := scheduler.OptionsFromConfig(cfg.Crawler)
	if err != nil {
		store.Close()
		sinks.Close()
		return nil, err
	}
	opts.Logger = log
	sched := scheduler.New(host, store, opts)

	if st, ok, err := store.LoadSettings(ctx); err != nil {
		log.WithError(err).Warn("Could not load saved settings")
	} else if ok {
		sched.UpdateCapacity(st.MaxTabs)
		sched.SetDevMode(st.DevMode)
	}

	a := &app{cfg: cfg, log: log, store: store, sinks: sinks, sched: sched}

	var avatars router.AvatarQueue
	if cfg.Avatars.Enabled {
		if err := a.startAvatars(account); err != nil {
			a.Close()
			return nil, err
		}
		avatars = a.avatars
	}

	var listeners []scheduler.Listener
	if observers != nil {
		listeners = observers(sched)
	}

	routerOpts := router.Options{
		Store:            store,
		Avatars:          avatars,
		NotifyOnComplete: cfg.Notifications.OnComplete,
		NotifyOnError:    cfg.Notifications.OnError,
		Observers:        listeners,
		Logger:           log,
	}
	if len(sinks) > 0 {
		routerOpts.Sink = sinks
	}
	if cfg.Notifications.Enabled {
		routerOpts.Notifier = ui.NewNotifier(true)
	}
	a.router = router.New(sched, routerOpts)
	sched.SetListener(a.router)

	if bh, ok := host.(*browserhost.Host); ok {
		bh.SetMessenger(a.router)
	}
	return a, nil
}

func (a *app) startAvatars(account *auth.Account) error {
	store, err := storage.NewAvatarStore(a.cfg.Avatars.Directory)
	if err != nil {
		return err
	}

	fetcher := downloader.NewHTTPFetcher(a.cfg.Avatars.Timeout, a.log)
	if account != nil {
		fetcher.SetHeader("Cookie", account.CookieHeader())
	}
	if ua := a.cfg.Browser.UserAgent; ua != "" {
		fetcher.SetHeader("User-Agent", ua)
	}

	a.avatars = downloader.NewWorkerPool(
		a.cfg.Avatars.Concurrent,
		a.cfg.Avatars.Timeout,
		fetcher,
		store,
		ratelimit.New(avatarsPerMinute),
		a.log,
	)
	a.avatars.Start()

	a.avatarsDone = make(chan struct{})
	go func() {
		defer close(a.avatarsDone)
		for res := range a.avatars.Results() {
			if res.Error != nil {
				a.log.WithError(res.Error).WithField("username", res.Job.Username).Debug("Avatar not saved")
			}
		}
	}()
	return nil
}

// resume applies --resume / --force-restart to the persisted frontier
func (a *app) resume(ctx context.Context, resume, forceRestart bool) error {
	if forceRestart {
		return a.store.ClearFrontier(ctx)
	}
	if !resume {
		return nil
	}

	snap, ok, err := a.store.LoadFrontier(ctx)
	if err != nil {
		return err
	}
	if !ok {
		a.log.Info("No saved frontier, starting fresh")
		return nil
	}
	return a.sched.Restore(snap)
}

// saveFrontier persists the frontier for a later --resume
func (a *app) saveFrontier() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	snap := a.sched.Snapshot()
	if err := a.store.SaveFrontier(ctx, snap); err != nil {
		a.log.WithError(err).Error("Failed to save frontier")
		return
	}
	a.log.WithFields(map[string]interface{}{
		"queued":  len(snap.Queue),
		"visited": len(snap.Visited),
	}).Debug("Frontier saved")
}

// Close abandons in-flight tasks, flushes the avatar queue and closes the
// sinks and the store
func (a *app) Close() error {
	var errList []error
	if a.sched != nil {
		if err := a.sched.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.avatars != nil {
		a.avatars.Stop()
		<-a.avatarsDone
		st := a.avatars.Stats()
		a.log.WithFields(map[string]interface{}{
			"downloaded": st.Downloaded,
			"skipped":    st.Skipped,
			"failed":     st.Failed,
		}).Info("Avatar downloads finished")
	}
	if err := a.sinks.Close(); err != nil {
		errList = append(errList, err)
	}
	if err := a.store.Close(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// newBrowserHost builds the Chrome tab host with the configured account's
// session cookies
func newBrowserHost(cfg *config.Config) (*browserhost.Host, *auth.Account) {
	account := resolveAccount(cfg.Browser.Account)
	return browserhost.New(browserhost.Options{
		Browser: cfg.Browser,
		SeedURL: cfg.Crawler.SeedURL,
		Account: account,
		Logger:  logger.GetLogger(),
	}), account
}

// resolveAccount returns the stored session, or nil to crawl logged out
func resolveAccount(name string) *auth.Account {
	log := logger.GetLogger()

	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential storage unavailable")
		return nil
	}
	account, err := manager.Resolve(name)
	if err != nil {
		if name != "" {
			log.WithField("account", name).Warn("Stored account not found, crawling without a session")
		}
		return nil
	}
	return account
}
