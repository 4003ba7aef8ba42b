package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetinfo/portal/internal/portal"
)

// ErrDisabled is returned when a rule asks for rendering but headless
// browsing is switched off.
var ErrDisabled = errors.New("headless rendering is disabled")

// Noop stands in for the browser when headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, request portal.FetchRequest) (portal.FetchResponse, error) {
	return portal.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ErrDisabled)
}
