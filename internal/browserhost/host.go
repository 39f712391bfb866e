// Package browserhost drives Chrome over the DevTools protocol and serves
// as the scheduler's tab host: every crawl tab is a background rod page
// running the embedded extraction script.
package browserhost

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/router"
	"igcrawler/pkg/scheduler"
)

//go:embed extract.js
var extractJS string

const bindingName = "__igcrawler_report"

// Messenger receives what crawl tabs report
type Messenger interface {
	HandleTaskMessage(ctx context.Context, h scheduler.TabHandle, raw []byte) router.Response
	TabClosed(h scheduler.TabHandle)
}

// Options configures a Host
type Options struct {
	Browser config.BrowserConfig
	// SeedURL, when set, replaces the operator's focused tab as the seed
	SeedURL string
	// Account cookies are installed before any tab opens
	Account *auth.Account
	Logger  logger.Logger
}

type tab struct {
	page   *rod.Page
	ctx    context.Context
	cancel context.CancelFunc
	hijack *rod.HijackRouter
}

// Host implements scheduler.TabHost on a launched or attached Chrome
type Host struct {
	opts Options
	log  logger.Logger

	browser  *rod.Browser
	launcher *launcher.Launcher
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	tabs      map[scheduler.TabHandle]*tab
	messenger Messenger
}

// New creates a Host. Start connects it to a browser.
func New(opts Options) *Host {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Host{
		opts: opts,
		log:  log.WithField("component", "browser"),
		tabs: make(map[scheduler.TabHandle]*tab),
	}
}

// SetMessenger sets where task reports and closed tabs go
func (h *Host) SetMessenger(m Messenger) {
	h.mu.Lock()
	h.messenger = m
	h.mu.Unlock()
}

// Start launches Chrome, or attaches to RemoteURL, and installs the
// session cookies
func (h *Host) Start(ctx context.Context) error {
	cfg := h.opts.Browser

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return errs.Wrap(errs.ErrorTypeBrowser, "launch chrome", err)
		}
		wsURL = u
		h.launcher = l
		h.log.WithField("url", wsURL).Info("Launched local Chrome")
	} else {
		h.log.WithField("url", wsURL).Info("Attaching to remote Chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		h.cleanupLauncher()
		return errs.Wrap(errs.ErrorTypeBrowser, "connect to chrome", err)
	}
	h.browser = b
	h.ctx, h.cancel = context.WithCancel(context.Background())

	if acc := h.opts.Account; acc != nil {
		if err := b.SetCookies(cookieParams(acc)); err != nil {
			return errs.Wrap(errs.ErrorTypeBrowser, "install session cookies", err)
		}
		h.log.WithField("account", acc.Username).Info("Installed session cookies")
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		h.log.WithError(err).Warn("Target discovery unavailable, closed tabs go unnoticed")
	}
	wait := b.Context(h.ctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		go h.targetDestroyed(scheduler.TabHandle(e.TargetID))
	})
	go wait()

	return nil
}

// Close closes every crawl tab, and the browser when it was launched here
func (h *Host) Close() error {
	h.mu.Lock()
	tabs := h.tabs
	h.tabs = make(map[scheduler.TabHandle]*tab)
	h.mu.Unlock()

	for _, t := range tabs {
		t.close()
	}
	if h.cancel != nil {
		h.cancel()
	}

	var err error
	if h.browser != nil && h.launcher != nil {
		err = h.browser.Close()
	}
	h.cleanupLauncher()
	return err
}

func (h *Host) cleanupLauncher() {
	if h.launcher != nil {
		h.launcher.Cleanup()
		h.launcher = nil
	}
}

// ActiveTabURL returns the seed override, else the URL of the first
// regular page that is not a crawl tab
func (h *Host) ActiveTabURL(ctx context.Context) (string, error) {
	if h.opts.SeedURL != "" {
		return h.opts.SeedURL, nil
	}
	if h.browser == nil {
		return "", errs.NewNoActiveTab(fmt.Errorf("browser not started"))
	}

	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return "", errs.NewNoActiveTab(err)
	}
	for _, p := range pages {
		if h.owns(scheduler.TabHandle(p.TargetID)) {
			continue
		}
		info, err := p.Info()
		if err != nil || info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if strings.HasPrefix(info.URL, "http") {
			return info.URL, nil
		}
	}
	return "", errs.NewNoActiveTab(nil)
}

// OpenTab opens url in a new background page
func (h *Host) OpenTab(ctx context.Context, url string) (scheduler.TabHandle, error) {
	if h.browser == nil {
		return "", errs.Wrap(errs.ErrorTypeBrowser, "browser not started", nil)
	}
	cfg := h.opts.Browser

	page, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank", Background: true})
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeBrowser, "create tab", err)
	}
	handle := scheduler.TabHandle(page.TargetID)
	tabCtx, cancel := context.WithCancel(h.ctx)
	t := &tab{page: page, ctx: tabCtx, cancel: cancel}

	h.mu.Lock()
	h.tabs[handle] = t
	h.mu.Unlock()

	fail := func(msg string, err error) (scheduler.TabHandle, error) {
		h.forget(handle)
		t.close()
		return "", errs.Wrap(errs.ErrorTypeBrowser, msg, err)
	}

	if cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			return fail("apply stealth", err)
		}
	}
	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			return fail("set user agent", err)
		}
	}
	if cfg.BlockResources {
		t.hijack = blockResources(page.Context(tabCtx), defaultBlocked)
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		return fail("navigate "+url, err)
	}

	h.log.DebugWithFields("Opened tab", map[string]interface{}{
		"tab": string(handle),
		"url": url,
	})
	return handle, nil
}

// TabLoaded reports whether the tab's document has finished loading
func (h *Host) TabLoaded(ctx context.Context, handle scheduler.TabHandle) (bool, error) {
	t, err := h.tab(handle)
	if err != nil {
		return false, err
	}

	res, err := t.page.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeBrowser, "read ready state", err)
	}
	return res.Value.Str() == "complete", nil
}

// Inject binds the report channel and starts the extraction script
func (h *Host) Inject(ctx context.Context, handle scheduler.TabHandle, sc models.ScriptContext) error {
	t, err := h.tab(handle)
	if err != nil {
		return err
	}
	page := t.page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return errs.Wrap(errs.ErrorTypeBrowser, "add report binding", err)
	}

	// Callbacks run on rod's event loop; the report is handled off it
	// because completing a task closes this very tab.
	listen := t.page.Context(t.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			go h.forward(handle, e.Payload)
		}
	})
	go listen()

	if _, err := page.Eval(`(ctx) => { window.__igcrawlerContext = ctx }`, scriptArgs(sc)); err != nil {
		return errs.Wrap(errs.ErrorTypeBrowser, "set script context", err)
	}
	if _, err := page.Eval(extractJS); err != nil {
		return errs.Wrap(errs.ErrorTypeBrowser, "run extraction script", err)
	}
	return nil
}

// CloseTab closes the tab; unknown handles are ignored
func (h *Host) CloseTab(ctx context.Context, handle scheduler.TabHandle) error {
	t := h.forget(handle)
	if t == nil {
		return nil
	}
	if err := t.close(); err != nil {
		return errs.Wrap(errs.ErrorTypeBrowser, "close tab", err)
	}
	return nil
}

// OpenTabs returns the number of crawl tabs currently open
func (h *Host) OpenTabs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tabs)
}

func (h *Host) forward(handle scheduler.TabHandle, payload string) {
	h.mu.Lock()
	m := h.messenger
	h.mu.Unlock()
	if m == nil {
		h.log.WithField("tab", string(handle)).Warn("Task report with no messenger")
		return
	}

	resp := m.HandleTaskMessage(context.Background(), handle, []byte(payload))
	if !resp.Success {
		h.log.WithFields(map[string]interface{}{
			"tab":    string(handle),
			"reason": resp.Message,
		}).Warn("Task report rejected")
	}
}

// targetDestroyed handles a tab that went away without CloseTab
func (h *Host) targetDestroyed(handle scheduler.TabHandle) {
	t := h.forget(handle)
	if t == nil {
		return
	}
	t.cancel()

	h.mu.Lock()
	m := h.messenger
	h.mu.Unlock()

	h.log.WithField("tab", string(handle)).Info("Crawl tab closed externally")
	if m != nil {
		m.TabClosed(handle)
	}
}

func (h *Host) tab(handle scheduler.TabHandle) (*tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[handle]
	if !ok {
		return nil, errs.Wrap(errs.ErrorTypeBrowser, "tab "+string(handle)+" is closed", nil)
	}
	return t, nil
}

func (h *Host) owns(handle scheduler.TabHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.tabs[handle]
	return ok
}

func (h *Host) forget(handle scheduler.TabHandle) *tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[handle]
	if !ok {
		return nil
	}
	delete(h.tabs, handle)
	return t
}

func (t *tab) close() error {
	t.cancel()
	if t.hijack != nil {
		_ = t.hijack.Stop()
	}
	return t.page.Close()
}

// scriptArgs is the context object handed to the extraction script
func scriptArgs(sc models.ScriptContext) gson.JSON {
	return gson.New(map[string]interface{}{
		"enableStackTrace": sc.EnableStackTrace,
		"suggester":        sc.Suggester,
	})
}

func cookieParams(acc *auth.Account) []*proto.NetworkCookieParam {
	cookies := acc.Cookies()
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return params
}
