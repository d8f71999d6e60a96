package policy

import (
	"context"
	"fmt"
	"sync"

	"oracleflow/bytes32"
)

// Resolver maps escalation manager addresses to hooks.
type Resolver struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

func NewResolver(hooks ...Hook) *Resolver {
	r := &Resolver{hooks: make(map[string]Hook)}
	for _, h := range hooks {
		r.Register(h)
	}
	return r
}

func (r *Resolver) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.Address()] = h
}

// Resolve returns the hook registered under address.
func (r *Resolver) Resolve(address string) (Hook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownManager, address)
	}
	return h, nil
}

// SetArbitrationResolution forwards to the manager when it arbitrates.
func (r *Resolver) SetArbitrationResolution(ctx context.Context, manager, caller string, key bytes32.ID, resolution bool) error {
	h, err := r.Resolve(manager)
	if err != nil {
		return err
	}
	arb, ok := h.(interface {
		SetArbitrationResolution(ctx context.Context, caller string, key bytes32.ID, resolution bool) error
	})
	if !ok {
		return ErrArbitrationUnsupported
	}
	return arb.SetArbitrationResolution(ctx, caller, key, resolution)
}

// Configure replaces a configurable manager's flags for future assertions.
func (r *Resolver) Configure(manager, caller string, settings Settings) error {
	h, err := r.Resolve(manager)
	if err != nil {
		return err
	}
	full, ok := h.(*Full)
	if !ok {
		return ErrNotConfigurable
	}
	return full.Configure(caller, settings)
}

// SetListed forwards a whitelist edit to the manager.
func (r *Resolver) SetListed(ctx context.Context, manager, caller, list, account string, allowed bool) error {
	h, err := r.Resolve(manager)
	if err != nil {
		return err
	}
	switch m := h.(type) {
	case *Full:
		return m.SetListed(ctx, caller, list, account, allowed)
	case *DisputerWhitelist:
		if list != ListDisputers {
			return fmt.Errorf("%w: %s has only a disputer list", ErrUnknownManager, manager)
		}
		return m.SetDisputer(ctx, caller, account, allowed)
	}
	return fmt.Errorf("%w: %s has no whitelists", ErrUnknownManager, manager)
}
