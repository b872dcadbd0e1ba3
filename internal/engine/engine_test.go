package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/headless/detector"
	"github.com/JakeFAU/inn-enricher/internal/learning"
	"github.com/JakeFAU/inn-enricher/internal/progress"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	fetcher  *fakeFetcher
	browser  *fakeBrowser
	pdf      *fakePDF
	events   *recorder
	learning *learning.FileStore
	engine   *Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		fetcher:  newFakeFetcher(),
		browser:  &fakeBrowser{session: newFakeSession()},
		pdf:      &fakePDF{},
		events:   &recorder{},
		learning: learning.NewMemory(fixedClock{now: testNow}),
	}
	if cfg.CaptchaPoll == 0 {
		cfg.CaptchaPoll = 5 * time.Millisecond
	}
	if cfg.CaptchaWait == 0 {
		cfg.CaptchaWait = time.Second
	}
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = time.Second
	}
	h.engine = New(cfg, Deps{
		Fetcher:  h.fetcher,
		Browser:  h.browser,
		Learning: h.learning,
		PDF:      h.pdf,
		Detector: detector.NewHeuristic(0),
		Progress: h.events,
		Clock:    fixedClock{now: testNow},
		Logger:   zap.NewNop(),
	})
	return h
}

func (h *harness) session() *fakeSession {
	return h.browser.session
}

func TestTier1HitNeverOpensBrowser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.page("https://a.ru/",
		`<html><body><p>Реквизиты: ИНН 7703412988, КПП 772001001</p><a href="mailto:sales@a.ru">Написать</a></body></html>`)

	res := h.engine.Extract(context.Background(), "https://www.A.ru/")
	require.Equal(t, "a.ru", res.Domain)
	require.True(t, res.HasTaxID())
	require.Equal(t, "7703412988", *res.TaxID)
	require.Equal(t, []string{"sales@a.ru"}, res.Emails)
	require.Equal(t, enrich.Strategy("http_direct:/"), res.Strategy)
	require.Equal(t, []string{"https://a.ru/"}, res.SourceURLs)
	require.Empty(t, res.Error)
	require.Zero(t, h.browser.Sessions())
}

func TestEmailPageLearnedSeparately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.page("https://b.ru/", `<html><body><a href="mailto:info@b.ru">info@b.ru</a></body></html>`)
	h.fetcher.page("https://b.ru/rekvizity", `<html><body><p>ИНН 7707083893</p></body></html>`)

	res := h.engine.Extract(context.Background(), "b.ru")
	require.Equal(t, "7707083893", *res.TaxID)
	require.Equal(t, enrich.Strategy("http_direct:/rekvizity"), res.Strategy)
	require.Equal(t, "/", res.EmailSource)
	require.Equal(t, []string{"/rekvizity"}, h.learning.PriorityURLs("b.ru", enrich.DataTaxID))
	require.Equal(t, []string{"/"}, h.learning.PriorityURLs("b.ru", enrich.DataEmail))
}

func TestEmbeddedSniffFindsHydrationPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.page("https://x.ru/", `<html><body>
<a href="mailto:office@x.ru">office@x.ru</a>
<script id="__NEXT_DATA__" type="application/json">{"props":{"company":{"ИНН":"7707083893"}}}</script>
</body></html>`)

	res := h.engine.Extract(context.Background(), "x.ru")
	require.Equal(t, "7707083893", *res.TaxID)
	require.Equal(t, []string{"office@x.ru"}, res.Emails)
	require.Equal(t, enrich.Strategy("embedded_sniff:next_data"), res.Strategy)
	require.Zero(t, h.browser.Sessions())
}

func TestBrowserTierRunsWhenTaxIDMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.page("https://c.ru/", `<html><body><h1>Добро пожаловать</h1><a href="/contacts">Контакты</a></body></html>`)
	h.session().pages["https://c.ru/"] = `<html><body><a href="/contacts">Контакты</a></body></html>`
	h.session().pages["https://c.ru/contacts"] = `<html><body><p>ИНН 7703412988</p><p>info@c.ru</p></body></html>`

	res := h.engine.Extract(context.Background(), "c.ru")
	require.Equal(t, "7703412988", *res.TaxID)
	require.Equal(t, []string{"info@c.ru"}, res.Emails)
	require.Equal(t, enrich.Strategy("browser_rendered:/contacts"), res.Strategy)
	require.Equal(t, 1, h.browser.Sessions())
	require.Contains(t, res.SourceURLs, "https://c.ru/contacts")
	require.True(t, h.session().closed)

	// The winning page is learned and tried first next time.
	require.Equal(t, []string{"/contacts"}, h.learning.PriorityURLs("c.ru", enrich.DataTaxID))
	before := len(h.fetcher.Calls())
	h.engine.Extract(context.Background(), "c.ru")
	require.Equal(t, "https://c.ru/contacts", h.fetcher.Calls()[before])
}

func TestBrowserTierWithoutTaxIDReportsLastTier(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.page("https://b.ru/", `<html><body><p>Магазин</p></body></html>`)
	h.session().pages["https://b.ru/"] = `<html><body><p>Пишите: hello@b.ru</p></body></html>`

	res := h.engine.Extract(context.Background(), "b.ru")
	require.False(t, res.HasTaxID())
	require.Nil(t, res.TaxID)
	require.Equal(t, []string{"hello@b.ru"}, res.Emails)
	require.Equal(t, enrich.Strategy(enrich.TierBrowserRendered), res.Strategy)
	require.Empty(t, res.Error)
	require.Equal(t, 1, h.browser.Sessions())
}

func TestCaptchaClearedContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	wall := `<html><body><div class="g-recaptcha"></div></body></html>`
	h.session().pages["https://d.ru/"] = wall
	h.session().snapshots = []string{
		wall,
		`<html><body><p>ИНН 7707083893, почта: buh@d.ru</p></body></html>`,
	}

	res := h.engine.Extract(context.Background(), "d.ru")
	require.Equal(t, "7707083893", *res.TaxID)
	require.Equal(t, enrich.Strategy("browser_rendered:/"), res.Strategy)
	require.Empty(t, res.Error)
	require.Equal(t, 1, h.session().foregrounds)
	require.Equal(t, []progress.Stage{progress.StageCaptchaWait, progress.StageCaptchaCleared}, h.events.Stages())
	require.Equal(t, "d.ru", h.events.events[0].Domain)
	require.Equal(t, "content:g-recaptcha", h.events.events[0].Note)

	var sawCaptcha bool
	for _, entry := range res.Log {
		if entry.Outcome == enrich.OutcomeCaptcha {
			sawCaptcha = true
		}
	}
	require.True(t, sawCaptcha)
}

func TestCaptchaTimeoutFailsDomain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{CaptchaWait: 40 * time.Millisecond})
	wall := `<html><body>Подтвердите, что вы не робот</body></html>`
	h.session().pages["https://g.ru/"] = wall
	h.session().snapshots = []string{wall}

	res := h.engine.Extract(context.Background(), "g.ru")
	require.False(t, res.HasTaxID())
	require.Contains(t, res.Error, ErrCaptchaTimeout.Error())
	require.Equal(t, enrich.Strategy(enrich.TierBrowserRendered), res.Strategy)
	require.Len(t, h.session().navigated, 1)
}

func TestDownloadIsReroutedToPDF(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.
		fail("https://e.ru/", &enrich.StatusError{URL: "https://e.ru/", Code: http.StatusServiceUnavailable}).
		page("https://e.ru/", "%PDF-1.4 binary")
	h.session().errs["https://e.ru/"] = fmt.Errorf("navigate https://e.ru/: %w", enrich.ErrDownloadTriggered)
	h.pdf.text = "Карточка предприятия\nИНН 7707083893\ne-mail: buh@e.ru"

	res := h.engine.Extract(context.Background(), "e.ru")
	require.Equal(t, "7707083893", *res.TaxID)
	require.Equal(t, []string{"buh@e.ru"}, res.Emails)
	require.Equal(t, enrich.Strategy("browser_rendered:/"), res.Strategy)
	require.Equal(t, 1, h.pdf.calls)

	var redirected bool
	for _, entry := range res.Log {
		if entry.Outcome == enrich.OutcomeRedirect && entry.URL == "https://e.ru/" {
			redirected = true
		}
	}
	require.True(t, redirected)
}

func TestHTTPSFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.fail("https://f.ru/", errors.New("tls: handshake failure"))
	h.fetcher.page("http://f.ru/", `<p>ИНН 7707083893</p><a href="mailto:office@f.ru">write</a>`)

	res := h.engine.Extract(context.Background(), "f.ru")
	require.Equal(t, "7707083893", *res.TaxID)
	require.Equal(t, enrich.Strategy("http_direct:/"), res.Strategy)
	require.Equal(t, []string{"https://f.ru/", "http://f.ru/"}, res.SourceURLs)
	require.Equal(t, enrich.OutcomeError, res.Log[0].Outcome)
	require.Equal(t, enrich.OutcomeFound, res.Log[1].Outcome)
}

func TestRunReusesOneSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.session().pages["https://one.ru/"] = `<p>ИНН 7707083893 one@one.ru</p>`
	h.session().pages["https://two.ru/"] = `<p>ИНН 7703412988 two@two.ru</p>`

	run := h.engine.NewRun("job-1")
	first := run.Extract(context.Background(), "one.ru")
	second := run.Extract(context.Background(), "two.ru")
	require.NoError(t, run.Close())

	require.Equal(t, "7707083893", *first.TaxID)
	require.Equal(t, "7703412988", *second.TaxID)
	require.Equal(t, 1, h.browser.Sessions())
	require.True(t, h.session().closed)
}

func TestInvalidDomain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	res := h.engine.Extract(context.Background(), "   ")
	require.Equal(t, ErrInvalidDomain.Error(), res.Error)
	require.Empty(t, h.fetcher.Calls())
}

func TestPathQueueDedupes(t *testing.T) {
	t.Parallel()

	q := newPathQueue()
	q.push("/contacts", "contacts/", "", "/", "/about")
	var got []string
	for {
		p, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, p)
	}
	require.Equal(t, []string{"/contacts", "/", "/about"}, got)
}
