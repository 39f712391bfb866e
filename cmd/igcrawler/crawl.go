package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/router"
	"igcrawler/pkg/scheduler"
	"igcrawler/pkg/ui"
	"igcrawler/pkg/ui/tui"
)

var (
	resumeCrawl  bool
	forceRestart bool
	useTUI       bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [seed-url]",
	Short: "Crawl from a seed profile until the frontier drains",
	Long: `Crawl starting at a seed profile URL and follow suggested profiles until
there is nothing left to visit or the crawl is interrupted.

Without a seed argument the URL of the focused tab of the attached browser
(--browser-url) is used. The frontier is saved on exit so an interrupted
crawl can continue with --resume.

Press Ctrl+C once to stop dispatching and let open tabs finish; press it
again to abandon them.`,
	Example: `  # Crawl from a profile with three tabs
  igcrawler crawl https://www.instagram.com/natgeo/ --max-tabs 3

  # Continue an interrupted crawl
  igcrawler crawl --resume

  # Drive a running Chrome and show the dashboard
  igcrawler crawl --browser-url ws://127.0.0.1:9222/devtools/browser/... --tui`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	addCrawlerFlags(crawlCmd)

	crawlCmd.Flags().BoolVar(&resumeCrawl, "resume", false, "resume the frontier saved by the last run")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard any saved frontier")
	crawlCmd.Flags().BoolVar(&useTUI, "tui", false, "show the interactive crawl dashboard")
	crawlCmd.Flags().String("seed", "", "seed profile URL (same as the positional argument)")
	crawlCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
}

// addCrawlerFlags adds the flags shared by crawl and serve
func addCrawlerFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-tabs", 0, "maximum concurrently open tabs (1-10)")
	cmd.Flags().Int("tabs-per-minute", 0, "pace tab opens (0 = unlimited)")
	cmd.Flags().Bool("dev-mode", false, "collect diagnostic traces in records")
	cmd.Flags().Duration("task-timeout", 0, "give up on a tab's extraction after this long")
	cmd.Flags().String("browser-url", "", "attach to a running Chrome (ws://...) instead of launching one")
	cmd.Flags().Bool("headless", true, "run a launched Chrome headless")
	cmd.Flags().StringP("account", "a", "", "stored account whose session cookies are used")
	cmd.Flags().String("storage", "", "result store backend (file, sqlite, redis, memory)")
	cmd.Flags().String("storage-path", "", "result store file")
	cmd.Flags().Bool("avatars", false, "download profile images")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := cmd.Flags().Set("seed", args[0]); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if useTUI && cfg.Logging.File == "" && !cmd.Flags().Changed("log-level") {
		// Console logs would tear the dashboard.
		cfg.Logging.Level = "error"
		if err := logger.Initialize(&cfg.Logging); err != nil {
			return err
		}
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, account := newBrowserHost(cfg)
	if err := host.Start(ctx); err != nil {
		return err
	}
	defer host.Close()

	var (
		progress  *ui.CrawlProgress
		dashboard *tui.TUI
	)
	observers := func(s *scheduler.Scheduler) []scheduler.Listener {
		switch {
		case useTUI:
			dashboard = tui.NewTUI(s)
			return []scheduler.Listener{dashboard}
		case !quiet:
			progress = ui.NewCrawlProgress(os.Stdout, cfg.Logging.Level == "debug")
			return []scheduler.Listener{progress}
		}
		return nil
	}

	a, err := newApp(ctx, cfg, host, account, observers)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.saveFrontier()

	if err := a.resume(ctx, resumeCrawl, forceRestart); err != nil {
		return err
	}

	if resp := a.router.Dispatch(ctx, router.StartMessage{}); !resp.Success {
		return errors.New(resp.Message)
	}

	crawlCtx, cancelCrawl := context.WithCancel(ctx)
	defer cancelCrawl()

	dashboardDone := make(chan struct{})
	if dashboard != nil {
		go func() {
			defer close(dashboardDone)
			if err := dashboard.Start(); err != nil {
				log.WithError(err).Error("Dashboard failed")
			}
			// Leaving the dashboard interrupts the crawl.
			cancelCrawl()
		}()
		defer dashboard.Stop()
	}
	if progress != nil {
		go reportProgress(crawlCtx, a.sched, progress)
	}

	waitForCrawl(crawlCtx, a, cfg.Crawler)
	// Clears the running mirror however the crawl ended.
	a.router.Dispatch(context.Background(), router.StopMessage{})

	if progress != nil {
		progress.Complete()
	}
	if dashboard != nil && ctx.Err() == nil {
		// Keep the final numbers on screen until the operator quits.
		select {
		case <-dashboardDone:
		case <-ctx.Done():
		}
	}
	return nil
}

// waitForCrawl blocks until the scheduler runs dry. The first interrupt
// stops dispatching and lets open tabs drain; a second one, or the drain
// outlasting a task's time budget, returns with tabs still open.
func waitForCrawl(ctx context.Context, a *app, cfg config.CrawlerConfig) {
	select {
	case <-a.sched.Idle():
		return
	case <-ctx.Done():
	}

	ui.PrintWarning("Stopping, waiting for open tabs to finish (Ctrl+C again to abandon them)")
	a.router.Dispatch(context.Background(), router.StopMessage{})

	again := make(chan os.Signal, 1)
	signal.Notify(again, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(again)

	budget := cfg.ReadyTimeout + cfg.TaskTimeout + 5*time.Second
	select {
	case <-a.sched.Idle():
	case <-again:
	case <-time.After(budget):
		a.log.Warn("Open tabs did not drain in time")
	}
}

func reportProgress(ctx context.Context, s *scheduler.Scheduler, p *ui.CrawlProgress) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Idle():
			return
		case <-ticker.C:
			st := s.State()
			p.Update(st.OpenCount, st.Capacity, st.Queued)
		}
	}
}
