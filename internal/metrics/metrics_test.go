package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := c
	Init()
	require.Same(t, first, c)
}

func TestObserveHelpers(t *testing.T) {
	ObserveTier("browser_rendered", "found", 2*time.Second)
	require.GreaterOrEqual(t, testutil.ToFloat64(c.tierAttempts.WithLabelValues("browser_rendered", "found")), 1.0)

	ObservePDFParse("pdftotext")
	require.GreaterOrEqual(t, testutil.ToFloat64(c.pdfParses.WithLabelValues("pdftotext")), 1.0)

	before := testutil.ToFloat64(c.fetchBytes.WithLabelValues("http_direct"))
	ObserveFetch("http_direct", "200", 512)
	ObserveFetch("http_direct", "error", 0)
	require.InDelta(t, before+512, testutil.ToFloat64(c.fetchBytes.WithLabelValues("http_direct")), 0)

	ObserveRateLimitDelay("shop.ru", 300*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(c.rateWait))
}

func TestCollectorsRegisterOnFreshRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cs := newCollectors(reg)
	cs.fetchPages.WithLabelValues("http_direct", "200").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	require.Contains(t, names, "enricher_fetch_pages_total")
	require.Panics(t, func() { newCollectors(reg) })
}
