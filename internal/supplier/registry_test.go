package supplier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/publisher/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingLookup struct{}

func (failingLookup) IsResolved(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func newRegistry(lookup Lookup) (*Registry, *memory.Publisher) {
	pub := memory.New()
	clock := fixedClock{now: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	return New(lookup, pub, "suppliers", clock, zap.NewNop()), pub
}

func TestReportRoutesByFindings(t *testing.T) {
	t.Parallel()

	reg, pub := newRegistry(NewMemoryLookup())
	ctx := context.Background()
	tax := "7703412988"

	require.NoError(t, Report(ctx, reg, enrich.ExtractionResult{
		Domain: "a.ru", TaxID: &tax, Emails: []string{"sales@a.ru"}, SourceURLs: []string{"https://a.ru/"},
	}))
	require.NoError(t, Report(ctx, reg, enrich.ExtractionResult{Domain: "b.ru", Emails: []string{"x@b.ru"}}))
	require.NoError(t, Report(ctx, reg, enrich.ExtractionResult{Domain: "c.ru", TaxID: &tax}))

	msgs := pub.Messages()
	require.Len(t, msgs, 3)

	var upsert Message
	require.NoError(t, msgs[0].Decode(&upsert))
	require.Equal(t, KindUpsert, upsert.Kind)
	require.Equal(t, "7703412988", upsert.Supplier.TaxID)
	require.Equal(t, []string{"sales@a.ru"}, upsert.Supplier.Emails)

	var flagged Message
	require.NoError(t, msgs[1].Decode(&flagged))
	require.Equal(t, KindModeration, flagged.Kind)
	require.Equal(t, enrich.ReasonTaxIDNotFound, flagged.Reason)

	require.NoError(t, msgs[2].Decode(&flagged))
	require.Equal(t, enrich.ReasonEmailNotFound, flagged.Reason)
}

func TestIsResolved(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(NewMemoryLookup("www.known.ru"))
	ctx := context.Background()

	ok, err := reg.IsResolved(ctx, "known.ru")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reg.IsResolved(ctx, "fresh.ru")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, reg.UpsertSupplier(ctx, enrich.SupplierRecord{Domain: "fresh.ru", TaxID: "7707083893"}))
	ok, err = reg.IsResolved(ctx, "https://fresh.ru/")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLookupErrorsPropagate(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(failingLookup{})
	_, err := reg.IsResolved(context.Background(), "a.ru")
	require.ErrorContains(t, err, "db down")

	require.Error(t, reg.UpsertSupplier(context.Background(), enrich.SupplierRecord{Domain: "a.ru"}))
}
