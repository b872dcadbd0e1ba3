package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// ErrDisabled is returned when the browser tier is turned off.
var ErrDisabled = errors.New("headless browser not configured")

// Noop implements enrich.Browser but never starts a session.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// NewSession always fails with ErrDisabled.
func (Noop) NewSession(context.Context) (enrich.BrowserSession, error) {
	return nil, ErrDisabled
}
