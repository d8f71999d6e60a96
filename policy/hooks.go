package policy

import (
	"context"
	"sync"

	"oracleflow/bytes32"
)

// Permissive admits everyone and never overrides the vote.
type Permissive struct {
	address string
}

func NewPermissive(address string) *Permissive {
	return &Permissive{address: address}
}

func (p *Permissive) Address() string { return p.address }

func (p *Permissive) Settings() Settings { return Settings{} }

func (p *Permissive) IsAssertionAllowed(context.Context, bytes32.ID, string, string) (bool, error) {
	return true, nil
}

func (p *Permissive) IsDisputeAllowed(context.Context, bytes32.ID, string) (bool, error) {
	return true, nil
}

func (p *Permissive) ResolutionOverride(context.Context, Ref) (*bool, error) {
	return nil, nil
}

// DisputerWhitelist only lets listed accounts dispute.
type DisputerWhitelist struct {
	address string
	owner   string
	store   Store
}

func NewDisputerWhitelist(address, owner string, store Store) *DisputerWhitelist {
	return &DisputerWhitelist{address: address, owner: owner, store: store}
}

func (w *DisputerWhitelist) Address() string { return w.address }

func (w *DisputerWhitelist) Settings() Settings {
	return Settings{ValidateDisputers: true}
}

func (w *DisputerWhitelist) IsAssertionAllowed(context.Context, bytes32.ID, string, string) (bool, error) {
	return true, nil
}

func (w *DisputerWhitelist) IsDisputeAllowed(ctx context.Context, _ bytes32.ID, disputer string) (bool, error) {
	return w.store.Listed(ctx, w.address, ListDisputers, disputer)
}

func (w *DisputerWhitelist) ResolutionOverride(context.Context, Ref) (*bool, error) {
	return nil, nil
}

// SetDisputer adds or removes a whitelisted disputer.
func (w *DisputerWhitelist) SetDisputer(ctx context.Context, caller, account string, allowed bool) error {
	if caller != w.owner {
		return ErrNotOwner
	}
	return w.store.SetListed(ctx, w.address, ListDisputers, account, allowed)
}

// Full supports every escalation behaviour, including manual arbitration.
type Full struct {
	address string
	owner   string
	store   Store

	mu       sync.RWMutex
	settings Settings
}

func NewFull(address, owner string, store Store, settings Settings) (*Full, error) {
	if settings.BlockByAsserter && !settings.BlockByAssertingCaller {
		return nil, ErrInvalidSettings
	}
	return &Full{address: address, owner: owner, store: store, settings: settings}, nil
}

func (f *Full) Address() string { return f.address }

func (f *Full) Settings() Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// Configure replaces the flags. Assertions already created keep their snapshot.
func (f *Full) Configure(caller string, settings Settings) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	if settings.BlockByAsserter && !settings.BlockByAssertingCaller {
		return ErrInvalidSettings
	}
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	return nil
}

func (f *Full) IsAssertionAllowed(ctx context.Context, _ bytes32.ID, asserter, caller string) (bool, error) {
	s := f.Settings()
	if s.BlockByAssertingCaller {
		ok, err := f.store.Listed(ctx, f.address, ListAssertingCallers, caller)
		if err != nil || !ok {
			return false, err
		}
	}
	if s.BlockByAsserter {
		return f.store.Listed(ctx, f.address, ListAsserters, asserter)
	}
	return true, nil
}

// IsDisputeAllowed checks the disputer list. Whether to ask at all is decided
// by the assertion's own settings snapshot, not the current flags.
func (f *Full) IsDisputeAllowed(ctx context.Context, _ bytes32.ID, disputer string) (bool, error) {
	return f.store.Listed(ctx, f.address, ListDisputers, disputer)
}

func (f *Full) ResolutionOverride(ctx context.Context, ref Ref) (*bool, error) {
	return f.store.Resolution(ctx, f.address, ref.RequestKey)
}

// SetListed edits one of the manager's whitelists.
func (f *Full) SetListed(ctx context.Context, caller, list, account string, allowed bool) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	return f.store.SetListed(ctx, f.address, list, account, allowed)
}

// SetArbitrationResolution records the manual outcome for a request key. It can be set once.
func (f *Full) SetArbitrationResolution(ctx context.Context, caller string, key bytes32.ID, resolution bool) error {
	if caller != f.owner {
		return ErrNotOwner
	}
	return f.store.SetResolution(ctx, f.address, key, resolution, caller)
}
