package wakelock

import (
	"context"
	"errors"
	"sync"

	"github.com/dpup/prefab/logging"
)

// ErrUnsupported is reported by platforms that have no wake-lock facility.
// Managers translate it into StatusUnsupported so callers can continue
// without the lock.
var ErrUnsupported = errors.New("wake lock not supported on this platform")

// Status is the outcome of an acquire attempt.
type Status string

const (
	// StatusHeld means the lock is held after the call.
	StatusHeld Status = "held"
	// StatusUnsupported means the platform cannot hold a lock at all.
	StatusUnsupported Status = "unsupported"
)

// Handle is an ownership token for the platform's stay-awake resource.
type Handle interface {
	// Release gives the resource back. Must tolerate repeat calls.
	Release() error
	// OnRelease registers a listener invoked when the platform revokes the
	// lock unprompted (e.g. the user switches away from the app).
	OnRelease(func())
}

// Platform acquires the underlying OS resource.
type Platform interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Manager owns at most one wake-lock handle and keeps acquire/release
// idempotent. It detects platform-side revocation through the handle's
// release listener and nulls its reference rather than assuming the handle
// stays valid.
type Manager struct {
	platform Platform

	mu     sync.Mutex
	handle Handle
}

// NewManager creates a manager over the given platform.
func NewManager(platform Platform) *Manager {
	return &Manager{platform: platform}
}

// Acquire requests the lock. Acquiring while already held is a no-op that
// reports StatusHeld; an unsupported platform reports StatusUnsupported
// without error.
func (m *Manager) Acquire(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return StatusHeld, nil
	}

	handle, err := m.platform.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			logging.Infow(ctx, "Wake lock unsupported, continuing without it")
			return StatusUnsupported, nil
		}
		return "", err
	}

	m.handle = handle
	handle.OnRelease(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Only drop our reference if the revoked handle is still the one
		// we hold; a newer acquisition must not be clobbered.
		if m.handle == handle {
			m.handle = nil
		}
	})

	return StatusHeld, nil
}

// Release gives the lock back. Releasing an unheld lock is a no-op.
func (m *Manager) Release() {
	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.mu.Unlock()

	if handle != nil {
		_ = handle.Release()
	}
}

// Held reports whether a handle is currently held.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// HandleVisibilityChange re-acquires the lock after the app becomes visible
// again, but only while a trip is active and no handle is currently held.
// This prevents duplicate acquisition when the platform never revoked the
// original handle.
func (m *Manager) HandleVisibilityChange(ctx context.Context, visible, tripActive bool) {
	if !visible || !tripActive {
		return
	}
	if m.Held() {
		return
	}
	if _, err := m.Acquire(ctx); err != nil {
		logging.Warnw(ctx, "Wake lock re-acquire failed", "error", err)
	}
}

// unsupportedPlatform is the default on hosts without a wake-lock facility.
type unsupportedPlatform struct{}

func (unsupportedPlatform) Acquire(ctx context.Context) (Handle, error) {
	return nil, ErrUnsupported
}

// NewUnsupportedPlatform returns a platform whose acquire always reports
// ErrUnsupported.
func NewUnsupportedPlatform() Platform {
	return unsupportedPlatform{}
}
