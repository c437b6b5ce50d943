package engine

import (
	"context"
	"fmt"

	"quipu/internal/plumbing"
)

// Checkout makes the work tree match target and points HEAD at it. The visit
// log is not touched.
func (e *Engine) Checkout(ctx context.Context, target string) error {
	if !plumbing.IsHash(target) {
		return fmt.Errorf("checkout: invalid tree hash %q", target)
	}
	prev := e.Head()
	e.logger.Info("checking out", "from", prev, "to", target)

	if err := e.git.CheckoutTree(ctx, target); err != nil {
		return err
	}
	if err := e.writeHead(target); err != nil {
		return err
	}
	e.current = e.byTree[target]
	return nil
}

// Visit checks out target and appends it to the visit log.
func (e *Engine) Visit(ctx context.Context, target string) error {
	prev := e.Head()
	if err := e.Checkout(ctx, target); err != nil {
		return err
	}
	return e.appendNav(prev, target)
}

// Back moves to the previous entry of the visit log. It returns false without
// side effects when already at the oldest entry.
func (e *Engine) Back(ctx context.Context) (string, bool, error) {
	return e.step(ctx, -1)
}

// Forward moves to the next entry of the visit log. It returns false without
// side effects when already at the newest entry.
func (e *Engine) Forward(ctx context.Context) (string, bool, error) {
	return e.step(ctx, 1)
}

func (e *Engine) step(ctx context.Context, delta int) (string, bool, error) {
	entries, ptr := e.NavLog()
	next := ptr + delta
	if len(entries) == 0 || next < 0 || next >= len(entries) {
		return "", false, nil
	}
	target := entries[next]
	if err := e.Checkout(ctx, target); err != nil {
		return "", false, err
	}
	if err := e.writeNavPtr(next); err != nil {
		return target, true, err
	}
	return target, true, nil
}
