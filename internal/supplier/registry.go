// Package supplier is the boundary to the supplier-record service: it asks
// whether a domain is already resolved and publishes upsert and moderation
// callbacks.
package supplier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// Lookup answers whether a domain already has a resolved supplier record.
type Lookup interface {
	IsResolved(ctx context.Context, domain string) (bool, error)
}

// Publisher delivers callback payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Message kinds.
const (
	KindUpsert     = "supplier_upsert"
	KindModeration = "moderation_flag"
)

// Message is the callback payload.
type Message struct {
	Kind     string                 `json:"kind"`
	Domain   string                 `json:"domain"`
	Supplier *enrich.SupplierRecord `json:"supplier,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	At       time.Time              `json:"at"`
}

// Registry implements enrich.SupplierRegistry over a lookup and a publisher.
// Domains upserted by this process count as resolved even before the
// supplier service has caught up.
type Registry struct {
	lookup    Lookup
	publisher Publisher
	topic     string
	clock     enrich.Clock
	logger    *zap.Logger

	mu       sync.RWMutex
	resolved map[string]struct{}
}

// New builds a Registry. A nil lookup treats every domain as unresolved.
func New(lookup Lookup, publisher Publisher, topic string, clock enrich.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = enrich.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = "supplier-enrichment"
	}
	return &Registry{
		lookup:    lookup,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logger.Named("supplier"),
		resolved:  map[string]struct{}{},
	}
}

// IsResolved checks the local cache, then the lookup.
func (r *Registry) IsResolved(ctx context.Context, domain string) (bool, error) {
	domain = enrich.NormalizeDomain(domain)
	r.mu.RLock()
	_, ok := r.resolved[domain]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}
	if r.lookup == nil {
		return false, nil
	}
	resolved, err := r.lookup.IsResolved(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("is resolved %s: %w", domain, err)
	}
	return resolved, nil
}

// UpsertSupplier publishes a supplier record with both a tax id and emails.
func (r *Registry) UpsertSupplier(ctx context.Context, record enrich.SupplierRecord) error {
	record.Domain = enrich.NormalizeDomain(record.Domain)
	if record.Domain == "" || record.TaxID == "" {
		return fmt.Errorf("upsert supplier: domain and tax id are required")
	}
	id, err := r.publish(ctx, Message{Kind: KindUpsert, Domain: record.Domain, Supplier: &record})
	if err != nil {
		return fmt.Errorf("upsert supplier %s: %w", record.Domain, err)
	}
	r.mu.Lock()
	r.resolved[record.Domain] = struct{}{}
	r.mu.Unlock()
	r.logger.Info("supplier upserted",
		zap.String("domain", record.Domain),
		zap.String("tax_id", record.TaxID),
		zap.String("message_id", id),
	)
	return nil
}

// FlagForModeration publishes a moderation request for the domain.
func (r *Registry) FlagForModeration(ctx context.Context, domain, reason string) error {
	domain = enrich.NormalizeDomain(domain)
	id, err := r.publish(ctx, Message{Kind: KindModeration, Domain: domain, Reason: reason})
	if err != nil {
		return fmt.Errorf("flag %s for moderation: %w", domain, err)
	}
	r.logger.Info("domain flagged for moderation",
		zap.String("domain", domain),
		zap.String("reason", reason),
		zap.String("message_id", id),
	)
	return nil
}

func (r *Registry) publish(ctx context.Context, msg Message) (string, error) {
	if r.publisher == nil {
		return "", fmt.Errorf("no publisher configured")
	}
	msg.At = r.clock.Now()
	return r.publisher.Publish(ctx, r.topic, msg)
}

// MemoryLookup is a Lookup backed by a fixed set of resolved domains.
type MemoryLookup struct {
	mu      sync.RWMutex
	domains map[string]struct{}
}

// NewMemoryLookup seeds the lookup.
func NewMemoryLookup(domains ...string) *MemoryLookup {
	l := &MemoryLookup{domains: map[string]struct{}{}}
	for _, d := range domains {
		l.Resolve(d)
	}
	return l
}

// Resolve marks a domain as resolved.
func (l *MemoryLookup) Resolve(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.domains[enrich.NormalizeDomain(domain)] = struct{}{}
}

// IsResolved reports whether the domain was marked.
func (l *MemoryLookup) IsResolved(_ context.Context, domain string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.domains[enrich.NormalizeDomain(domain)]
	return ok, nil
}

// Report hands a finished domain result to the registry: both found means
// an upsert; a missing tax id or a missing email means moderation.
func Report(ctx context.Context, reg enrich.SupplierRegistry, result enrich.ExtractionResult) error {
	switch {
	case !result.HasTaxID():
		return reg.FlagForModeration(ctx, result.Domain, enrich.ReasonTaxIDNotFound)
	case !result.HasEmail():
		return reg.FlagForModeration(ctx, result.Domain, enrich.ReasonEmailNotFound)
	default:
		return reg.UpsertSupplier(ctx, enrich.SupplierRecord{
			Domain:     result.Domain,
			TaxID:      *result.TaxID,
			Emails:     result.Emails,
			SourceURLs: result.SourceURLs,
		})
	}
}
