// Package headless renders pages in Chrome via chromedp for the browser tier.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// Config controls the behavior of the browser.
type Config struct {
	UserAgent string
	// ShowBrowser runs a visible window so an operator can solve CAPTCHAs.
	ShowBrowser       bool
	NavigationTimeout time.Duration
	// Settle is how long to let scripts run after the body is ready.
	Settle       time.Duration
	WindowWidth  int64
	WindowHeight int64
	ExecPath     string
}

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
  Object.defineProperty(navigator, 'languages', {get: () => ['ru-RU', 'ru', 'en-US', 'en']});
  Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
  window.chrome = window.chrome || {runtime: {}};
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) => p && p.name === 'notifications'
      ? Promise.resolve({state: Notification.permission})
      : query(p);
  }
  const spoofGL = (proto) => {
    if (!proto) return;
    const getParameter = proto.getParameter;
    proto.getParameter = function (param) {
      if (param === 37445) return 'Intel Inc.';
      if (param === 37446) return 'Intel Iris OpenGL Engine';
      return getParameter.call(this, param);
    };
  };
  spoofGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
  spoofGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
})();`

// Browser implements enrich.Browser on top of one Chrome process.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a browser allocator. Chrome starts lazily with the first
// session.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 15 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 750 * time.Millisecond
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1366, 900
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "ru-RU"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(int(cfg.WindowWidth), int(cfg.WindowHeight)),
	)
	if cfg.ShowBrowser {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewSession opens a tab in its own Chrome process with fingerprint
// reduction applied. Closing the session stops that process.
func (b *Browser) NewSession(ctx context.Context) (enrich.BrowserSession, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	s := &Session{
		cfg:    b.cfg,
		tabCtx: tabCtx,
		cancel: tabCancel,
		meta:   newResponseMeta(),
	}
	// The first Run starts Chrome and must use the undecorated tab context,
	// otherwise a deadline would tear the process down with it.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	setupCtx, cancel := s.bound(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(setupCtx, s.setupAction()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return s, nil
}

// Session is one Chrome tab. Calls must not overlap.
type Session struct {
	cfg    Config
	tabCtx context.Context
	cancel context.CancelFunc
	meta   *responseMeta
}

// bound derives a context from the tab that also ends when ctx ends.
func (s *Session) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		}).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).
				WithAcceptLanguage("ru-RU,ru").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny).
			WithEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("set download behavior: %w", err)
		}
		return nil
	})
}

// Navigate loads rawURL and returns the rendered DOM. A navigation that turns
// into a file download fails with enrich.ErrDownloadTriggered.
func (s *Session) Navigate(ctx context.Context, rawURL string) (enrich.RenderedPage, error) {
	s.meta.reset()
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var rendered enrich.RenderedPage
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
		s.readAction(&rendered),
	)
	if s.meta.downloaded() || (err != nil && isAbortedNavigation(err)) {
		return enrich.RenderedPage{}, fmt.Errorf("navigate %s: %w", rawURL, enrich.ErrDownloadTriggered)
	}
	if err != nil {
		return enrich.RenderedPage{}, fmt.Errorf("chromedp navigate: %w", err)
	}
	status, docURL := s.meta.snapshotWithFallbacks(rawURL, rendered.URL)
	rendered.StatusCode = status
	if rendered.URL == "" {
		rendered.URL = docURL
	}
	return rendered, nil
}

// Snapshot re-reads the tab as it is now.
func (s *Session) Snapshot(ctx context.Context) (enrich.RenderedPage, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	var rendered enrich.RenderedPage
	if err := chromedp.Run(runCtx, s.readAction(&rendered)); err != nil {
		return enrich.RenderedPage{}, fmt.Errorf("chromedp snapshot: %w", err)
	}
	rendered.StatusCode, _ = s.meta.snapshotWithFallbacks(rendered.URL, rendered.URL)
	return rendered, nil
}

func (s *Session) readAction(dst *enrich.RenderedPage) chromedp.Action {
	return chromedp.Tasks{
		chromedp.Location(&dst.URL),
		chromedp.Title(&dst.Title),
		chromedp.OuterHTML("html", &dst.HTML, chromedp.ByQuery),
	}
}

// Foreground restores, enlarges and raises the window for an operator.
func (s *Session) Foreground(ctx context.Context) error {
	runCtx, cancel := s.bound(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return fmt.Errorf("get window: %w", err)
		}
		if err := browser.SetWindowBounds(windowID, &browser.Bounds{
			WindowState: browser.WindowStateNormal,
		}).Do(ctx); err != nil {
			return fmt.Errorf("restore window: %w", err)
		}
		if err := browser.SetWindowBounds(windowID, &browser.Bounds{
			Width:  s.cfg.WindowWidth,
			Height: s.cfg.WindowHeight,
		}).Do(ctx); err != nil {
			return fmt.Errorf("resize window: %w", err)
		}
		if err := page.BringToFront().Do(ctx); err != nil {
			return fmt.Errorf("bring to front: %w", err)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("foreground window: %w", err)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

func isAbortedNavigation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "net::ERR_ABORTED") || strings.Contains(msg, "ERR_BLOCKED_BY_CLIENT")
}

type responseMeta struct {
	mu       sync.RWMutex
	status   int
	url      string
	mimeType string
	download bool
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status, m.url, m.mimeType, m.download = 0, "", "", false
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mimeType = strings.ToLower(event.Response.MimeType)
	if strings.Contains(m.mimeType, "pdf") || strings.Contains(m.mimeType, "octet-stream") {
		m.download = true
	}
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		m.capture(e)
	case *browser.EventDownloadWillBegin:
		m.mu.Lock()
		m.download = true
		m.url = e.URL
		m.mu.Unlock()
	}
}

func (m *responseMeta) downloaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.download
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
