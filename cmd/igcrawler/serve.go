package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/router"
)

var startOnServe bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the crawler behind the HTTP control API",
	Long: `Run the crawler and expose it over HTTP. Nothing is crawled until a
start message arrives, unless --start is given.

  POST   /api/messages  {"source":"popup","signal":"start"}
  GET    /api/state     scheduler status and saved settings
  GET    /api/records   collected records
  DELETE /api/records   clear records
  GET    /api/events    worker events (server-sent events)`,
	Example: `  igcrawler serve --addr 127.0.0.1:8765
  curl -X POST localhost:8765/api/messages -d '{"source":"popup","signal":"start"}'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addCrawlerFlags(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address for the control API")
	serveCmd.Flags().String("seed", "", "seed profile URL used by the first start message")
	serveCmd.Flags().BoolVar(&startOnServe, "start", false, "start crawling immediately")
	serveCmd.Flags().BoolVar(&resumeCrawl, "resume", false, "resume the frontier saved by the last run")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, account := newBrowserHost(cfg)
	if err := host.Start(ctx); err != nil {
		return err
	}
	defer host.Close()

	a, err := newApp(ctx, cfg, host, account, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.saveFrontier()

	if err := a.resume(ctx, resumeCrawl, false); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("Control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.router.Dispatch(context.Background(), router.StopMessage{})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if startOnServe {
		if resp := a.router.Dispatch(ctx, router.StartMessage{}); !resp.Success {
			stop()
			_ = g.Wait()
			return errors.New(resp.Message)
		}
	}

	return g.Wait()
}
