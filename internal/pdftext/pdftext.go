// Package pdftext turns PDF bytes into plain text using a chain of
// progressively cruder extractors.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/metrics"
)

// Errors returned before any extractor runs.
var (
	ErrNotPDF   = errors.New("document is not a pdf")
	ErrTooLarge = errors.New("pdf exceeds size limit")
	ErrNoText   = errors.New("no text extracted from pdf")
)

// Extractor pulls text out of one PDF document.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

type namedExtractor struct {
	name string
	ext  Extractor
}

// Chain tries extractors in order and returns the first non-empty text.
type Chain struct {
	maxBytes   int
	extractors []namedExtractor
	logger     *zap.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithExtractor appends an extractor to the chain.
func WithExtractor(name string, ext Extractor) Option {
	return func(c *Chain) {
		c.extractors = append(c.extractors, namedExtractor{name: name, ext: ext})
	}
}

// WithLogger sets the logger used for extractor failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds an empty chain capped at maxBytes (10MB when zero).
func New(maxBytes int, opts ...Option) *Chain {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	c := &Chain{maxBytes: maxBytes, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefault builds the standard chain: the pdftotext CLI, the pure-Go
// reader, then the raw content-stream scan.
func NewDefault(pdftotextPath string, maxBytes int, logger *zap.Logger) *Chain {
	return New(maxBytes,
		WithLogger(logger),
		WithExtractor("pdftotext", NewPdfToText(pdftotextPath)),
		WithExtractor("native", Native{}),
		WithExtractor("raw", Raw{}),
	)
}

// MaxBytes reports the size cap.
func (c *Chain) MaxBytes() int {
	return c.maxBytes
}

// ExtractText runs the chain.
func (c *Chain) ExtractText(ctx context.Context, data []byte) (string, error) {
	if len(data) > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if !IsPDF(data) {
		return "", ErrNotPDF
	}
	var errs []error
	for _, ne := range c.extractors {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("pdf extraction canceled: %w", err)
		}
		text, err := ne.ext.ExtractText(ctx, data)
		if err != nil {
			c.logger.Debug("pdf extractor failed", zap.String("method", ne.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ne.name, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		metrics.ObservePDFParse(ne.name)
		return text, nil
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrNoText, errors.Join(errs...))
	}
	return "", ErrNoText
}

// IsPDF checks the magic header. Some generators prepend junk, so the first
// kilobyte is searched.
func IsPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}
