package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
	"github.com/JakeFAU/inn-enricher/internal/extract"
)

// embeddedSniff re-reads the direct tier's pages for hydration payloads and
// structured data. It never touches the network.
type embeddedSniff struct {
	e *Engine
}

func (s *embeddedSniff) Tier() enrich.Tier { return enrich.TierEmbeddedSniff }

func (s *embeddedSniff) Applies(a *Attempt) bool { return len(a.pages) > 0 }

func (s *embeddedSniff) Attempt(ctx context.Context, a *Attempt) (Partial, error) {
	var partial Partial
	for _, page := range a.pages {
		if ctx.Err() != nil {
			break
		}
		payloads := extract.EmbeddedPayloads(page.Doc)
		if len(payloads) == 0 {
			continue
		}
		pageFindings := extract.Findings{}
		for _, payload := range payloads {
			if payload.ParseErr != nil {
				s.e.logger.Debug("embedded payload is not json, scanning raw text",
					zap.String("url", page.URL),
					zap.String("kind", string(payload.Kind)),
					zap.Error(payload.ParseErr),
				)
			}
			f := payload.Findings()
			partial.absorb(f, string(payload.Kind))
			if !pageFindings.HasTaxID() && f.HasTaxID() {
				pageFindings.TaxID = f.TaxID
			}
			pageFindings.Emails = extract.MergeEmails(pageFindings.Emails, f.Emails)
		}
		a.record(page.URL, enrich.TierEmbeddedSniff, outcomeFor(pageFindings), nil, s.e.deps.Clock.Now())
		if partial.complete() {
			break
		}
	}
	return partial, nil
}
