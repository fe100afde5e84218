package ai

import (
	"context"
	"fmt"
)

// Disabled is the enhancer used when enhancement is switched off.
type Disabled struct {
	Reason string
}

// Enhance always reports ErrUnavailable.
func (d Disabled) Enhance(context.Context, EnhancementInput) (Enhancement, error) {
	reason := d.Reason
	if reason == "" {
		reason = "disabled by configuration"
	}
	return Enhancement{}, fmt.Errorf("%w: %s", ErrUnavailable, reason)
}
