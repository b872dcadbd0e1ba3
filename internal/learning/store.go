// Package learning remembers which URL patterns yielded a tax id or email
// for each domain and feeds them back to the extraction engine as priority
// URLs. State is persisted as a single JSON document replaced atomically.
package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

const documentVersion = 1

// ErrInvalidInput rejects a manual confirmation that cannot be learned.
var ErrInvalidInput = errors.New("invalid learning input")

// Pattern is one learned URL, stored as a same-site path.
type Pattern struct {
	URL         string    `json:"url"`
	Successes   int       `json:"successes"`
	LastSuccess time.Time `json:"last_success"`
	Manual      bool      `json:"manual,omitempty"`
}

// UnmarshalJSON also accepts a bare URL string.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*p = Pattern{URL: bare}
		return nil
	}
	type plain Pattern
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Pattern(v)
	return nil
}

// Record holds the patterns learned for one domain and data type.
type Record struct {
	Patterns    []Pattern       `json:"patterns"`
	Confidence  int             `json:"confidence"`
	Strategy    enrich.Strategy `json:"strategy,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// DomainRecord groups records by data type.
type DomainRecord struct {
	TaxID *Record `json:"tax_id,omitempty"`
	Email *Record `json:"email,omitempty"`
}

func (d *DomainRecord) record(dataType enrich.DataType, create bool) *Record {
	slot := &d.TaxID
	if dataType == enrich.DataEmail {
		slot = &d.Email
	}
	if *slot == nil && create {
		*slot = &Record{}
	}
	return *slot
}

func (d *DomainRecord) confidence() int {
	total := 0
	if d.TaxID != nil {
		total += d.TaxID.Confidence
	}
	if d.Email != nil {
		total += d.Email.Confidence
	}
	return total
}

// Statistics summarizes learning effectiveness. "Before" counts attempts
// made for domains with no learned patterns, "after" those with patterns.
type Statistics struct {
	TotalLearned        int                   `json:"total_learned"`
	ManualConfirmations int                   `json:"manual_confirmations"`
	AttemptsBefore      int                   `json:"attempts_before"`
	SuccessesBefore     int                   `json:"successes_before"`
	AttemptsAfter       int                   `json:"attempts_after"`
	SuccessesAfter      int                   `json:"successes_after"`
	SuccessRateBefore   float64               `json:"success_rate_before"`
	SuccessRateAfter    float64               `json:"success_rate_after"`
	TierCounts          map[enrich.Tier]int   `json:"tier_counts"`
	TierAvgTimeMs       map[enrich.Tier]int64 `json:"tier_avg_time_ms"`
}

type document struct {
	Version    int                      `json:"version"`
	Domains    map[string]*DomainRecord `json:"domains"`
	Statistics Statistics               `json:"statistics"`
	TierTimeMs map[enrich.Tier]int64    `json:"tier_total_time_ms"`
}

// FileStore is a LearningStore persisted to a JSON file. An empty path
// keeps state in memory only.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	doc    document
	clock  enrich.Clock
	logger *zap.Logger
}

// Open loads the store at path, starting empty when the file does not
// exist yet.
func Open(path string, clock enrich.Clock, logger *zap.Logger) (*FileStore, error) {
	if clock == nil {
		clock = enrich.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path:   path,
		doc:    newDocument(),
		clock:  clock,
		logger: logger,
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read learning store: %w", err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode learning store %s: %w", path, err)
	}
	if doc.Domains == nil {
		doc.Domains = map[string]*DomainRecord{}
	}
	if doc.TierTimeMs == nil {
		doc.TierTimeMs = map[enrich.Tier]int64{}
	}
	if doc.Statistics.TierCounts == nil {
		doc.Statistics.TierCounts = map[enrich.Tier]int{}
	}
	s.doc = doc
	return s, nil
}

// decodeDocument reads the current layout, where domains sit under
// "domains", and the flat layout where each domain is a top-level key next
// to "statistics". Flat files are rewritten in the current layout on the
// next save.
func decodeDocument(data []byte) (document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return document{}, err
	}
	if _, nested := top["domains"]; nested {
		var doc document
		err := json.Unmarshal(data, &doc)
		return doc, err
	}

	doc := newDocument()
	for key, raw := range top {
		switch key {
		case "version":
			// Flat files predate versioning.
		case "statistics":
			if err := json.Unmarshal(raw, &doc.Statistics); err != nil {
				return document{}, fmt.Errorf("statistics: %w", err)
			}
		case "tier_total_time_ms":
			if err := json.Unmarshal(raw, &doc.TierTimeMs); err != nil {
				return document{}, fmt.Errorf("tier times: %w", err)
			}
		default:
			domain := enrich.NormalizeDomain(key)
			if domain == "" {
				continue
			}
			rec := &DomainRecord{}
			if err := json.Unmarshal(raw, rec); err != nil {
				return document{}, fmt.Errorf("domain %s: %w", key, err)
			}
			doc.Domains[domain] = rec
		}
	}
	return doc, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory(clock enrich.Clock) *FileStore {
	s, _ := Open("", clock, nil)
	return s
}

func newDocument() document {
	return document{
		Version:    documentVersion,
		Domains:    map[string]*DomainRecord{},
		TierTimeMs: map[enrich.Tier]int64{},
		Statistics: Statistics{TierCounts: map[enrich.Tier]int{}},
	}
}

// PriorityURLs returns learned same-site paths for the domain, best first.
func (s *FileStore) PriorityURLs(domain string, dataType enrich.DataType) []string {
	domain = enrich.NormalizeDomain(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Domains[domain]
	if !ok {
		return nil
	}
	r := rec.record(dataType, false)
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		out[i] = p.URL
	}
	return out
}

// SaveStrategyResult records one engine outcome for the statistics. When a
// tax id was found and the strategy detail is a page path, that path is
// learned for tax ids. Email pages are learned by SaveEmailSource.
func (s *FileStore) SaveStrategyResult(
	domain string,
	strategy enrich.Strategy,
	foundTaxID, foundEmail bool,
	elapsed time.Duration,
) error {
	domain = enrich.NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, known := s.doc.Domains[domain]
	hadPatterns := known && rec.confidence() > 0
	stats := &s.doc.Statistics
	if hadPatterns {
		stats.AttemptsAfter++
		if foundTaxID {
			stats.SuccessesAfter++
		}
	} else {
		stats.AttemptsBefore++
		if foundTaxID {
			stats.SuccessesBefore++
		}
	}
	if tier := strategy.Tier(); tier != "" {
		stats.TierCounts[tier]++
		s.doc.TierTimeMs[tier] += elapsed.Milliseconds()
	}

	if pattern, ok := patternFor(domain, strategy.Detail()); ok && foundTaxID {
		if !known {
			rec = &DomainRecord{}
			s.doc.Domains[domain] = rec
		}
		s.learn(rec.record(enrich.DataTaxID, true), pattern, strategy, false, now)
	}
	return s.persistLocked()
}

// SaveEmailSource learns the page that yielded emails. Details that are not
// same-site paths (embedded payload kinds, foreign hosts) are ignored.
func (s *FileStore) SaveEmailSource(domain string, strategy enrich.Strategy) error {
	domain = enrich.NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	pattern, ok := patternFor(domain, strategy.Detail())
	if !ok {
		return nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, known := s.doc.Domains[domain]
	if !known {
		rec = &DomainRecord{}
		s.doc.Domains[domain] = rec
	}
	s.learn(rec.record(enrich.DataEmail, true), pattern, strategy, false, now)
	return s.persistLocked()
}

// LearnFromManualURL records an operator-confirmed URL. It is ranked ahead
// of every automatically learned pattern.
func (s *FileStore) LearnFromManualURL(domain string, dataType enrich.DataType, confirmedURL string) error {
	domain = enrich.NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("domain is required: %w", ErrInvalidInput)
	}
	if !dataType.Valid() {
		return fmt.Errorf("unknown data type %q: %w", dataType, ErrInvalidInput)
	}
	pattern, ok := patternFor(domain, confirmedURL)
	if !ok {
		return fmt.Errorf("url %q is not on %s: %w", confirmedURL, domain, ErrInvalidInput)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, known := s.doc.Domains[domain]
	if !known {
		rec = &DomainRecord{}
		s.doc.Domains[domain] = rec
	}
	s.learn(rec.record(dataType, true), pattern, "manual", true, now)
	s.doc.Statistics.ManualConfirmations++
	return s.persistLocked()
}

func (s *FileStore) learn(r *Record, pattern string, strategy enrich.Strategy, manual bool, now time.Time) {
	idx := -1
	for i, p := range r.Patterns {
		if p.URL == pattern {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.Patterns = append(r.Patterns, Pattern{URL: pattern})
		idx = len(r.Patterns) - 1
		s.doc.Statistics.TotalLearned++
	}
	p := &r.Patterns[idx]
	p.Successes++
	p.LastSuccess = now
	p.Manual = p.Manual || manual
	r.Confidence++
	r.Strategy = strategy
	r.LastUpdated = now
	rankPatterns(r.Patterns)
}

func rankPatterns(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.Manual != b.Manual {
			return a.Manual
		}
		if !a.Manual && a.Successes != b.Successes {
			return a.Successes > b.Successes
		}
		return a.LastSuccess.After(b.LastSuccess)
	})
}

// patternFor turns a path or absolute URL into a same-site path pattern.
func patternFor(domain, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.HasPrefix(raw, "/") && !strings.Contains(raw, "://") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		if !enrich.SameSite(domain, u.Hostname()) {
			return "", false
		}
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, true
}

// Statistics returns a snapshot with derived rates and averages.
func (s *FileStore) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statisticsLocked()
}

func (s *FileStore) statisticsLocked() Statistics {
	st := s.doc.Statistics
	st.TierCounts = make(map[enrich.Tier]int, len(s.doc.Statistics.TierCounts))
	st.TierAvgTimeMs = make(map[enrich.Tier]int64, len(s.doc.Statistics.TierCounts))
	for tier, n := range s.doc.Statistics.TierCounts {
		st.TierCounts[tier] = n
		if n > 0 {
			st.TierAvgTimeMs[tier] = s.doc.TierTimeMs[tier] / int64(n)
		}
	}
	st.SuccessRateBefore = rate(st.SuccessesBefore, st.AttemptsBefore)
	st.SuccessRateAfter = rate(st.SuccessesAfter, st.AttemptsAfter)
	return st
}

func rate(successes, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	return float64(successes) / float64(attempts)
}

// DomainSummary is one entry of Summary.
type DomainSummary struct {
	Domain string  `json:"domain"`
	TaxID  *Record `json:"tax_id,omitempty"`
	Email  *Record `json:"email,omitempty"`
}

// Summary lists the most confident domains and the statistics.
type Summary struct {
	Domains    []DomainSummary `json:"domains"`
	Statistics Statistics      `json:"statistics"`
}

// Summary returns up to limit domains ordered by confidence. A limit of
// zero or less returns all of them.
func (s *FileStore) Summary(limit int) Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domains := make([]string, 0, len(s.doc.Domains))
	for d := range s.doc.Domains {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		ci, cj := s.doc.Domains[domains[i]].confidence(), s.doc.Domains[domains[j]].confidence()
		if ci != cj {
			return ci > cj
		}
		return domains[i] < domains[j]
	})
	if limit > 0 && len(domains) > limit {
		domains = domains[:limit]
	}
	out := Summary{Domains: make([]DomainSummary, 0, len(domains)), Statistics: s.statisticsLocked()}
	for _, d := range domains {
		rec := s.doc.Domains[d]
		out.Domains = append(out.Domains, DomainSummary{
			Domain: d,
			TaxID:  cloneRecord(rec.TaxID),
			Email:  cloneRecord(rec.Email),
		})
	}
	return out
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Patterns = append([]Pattern(nil), r.Patterns...)
	return &cp
}

// persistLocked writes the document to a temp file next to the target and
// renames it into place. Callers hold the write lock.
func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	s.doc.Statistics.SuccessRateBefore = rate(s.doc.Statistics.SuccessesBefore, s.doc.Statistics.AttemptsBefore)
	s.doc.Statistics.SuccessRateAfter = rate(s.doc.Statistics.SuccessesAfter, s.doc.Statistics.AttemptsAfter)
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode learning store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create learning store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create learning store tmp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("remove learning tmp file failed", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write learning store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync learning store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close learning store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename learning store: %w", err)
	}
	s.logger.Debug("learning store persisted", zap.String("path", s.path), zap.Int("domains", len(s.doc.Domains)))
	return nil
}
