package consult

import (
	"context"
	"fmt"
)

// Gate reports whether the current user may start a live consultation. It
// is evaluated by the caller before Connect; the controller itself performs
// no authorization.
type Gate func(ctx context.Context) (bool, error)

// AllowAll is a Gate that permits every session.
func AllowAll(context.Context) (bool, error) { return true, nil }

// Check runs the gate. A nil Gate permits. A denial is reported as
// [ErrNotPermitted].
func (g Gate) Check(ctx context.Context) error {
	if g == nil {
		return nil
	}
	ok, err := g(ctx)
	if err != nil {
		return fmt.Errorf("consult: entitlement check: %w", err)
	}
	if !ok {
		return ErrNotPermitted
	}
	return nil
}
