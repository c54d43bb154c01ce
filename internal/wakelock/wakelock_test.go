package wakelock

import (
	"context"
	"errors"
	"testing"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext carries a logger, which the logging helpers require.
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}

// fakeHandle records release calls and lets tests simulate platform-side
// revocation.
type fakeHandle struct {
	releases  int
	onRelease func()
}

func (h *fakeHandle) Release() error {
	h.releases++
	if h.onRelease != nil {
		h.onRelease()
	}
	return nil
}

func (h *fakeHandle) OnRelease(fn func()) {
	h.onRelease = fn
}

// revoke simulates the platform taking the lock back unprompted.
func (h *fakeHandle) revoke() {
	if h.onRelease != nil {
		h.onRelease()
	}
}

type fakePlatform struct {
	handles  []*fakeHandle
	acquires int
	err      error
}

func (p *fakePlatform) Acquire(ctx context.Context) (Handle, error) {
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	handle := &fakeHandle{}
	p.handles = append(p.handles, handle)
	return handle, nil
}

func TestAcquire_Holds(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	status, err := manager.Acquire(testContext())
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, status)
	assert.True(t, manager.Held())
}

func TestAcquire_Idempotent(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)
	status, err := manager.Acquire(testContext())
	require.NoError(t, err)

	assert.Equal(t, StatusHeld, status)
	assert.Equal(t, 1, platform.acquires, "second acquire should be a no-op")
}

func TestAcquire_Unsupported(t *testing.T) {
	manager := NewManager(NewUnsupportedPlatform())

	status, err := manager.Acquire(testContext())
	require.NoError(t, err, "unsupported platforms are not an error")
	assert.Equal(t, StatusUnsupported, status)
	assert.False(t, manager.Held())
}

func TestAcquire_PlatformFailure(t *testing.T) {
	platform := &fakePlatform{err: errors.New("screen locked")}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	assert.Error(t, err)
	assert.False(t, manager.Held())
}

func TestRelease_Idempotent(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)

	manager.Release()
	manager.Release()

	assert.False(t, manager.Held())
	require.Len(t, platform.handles, 1)
	assert.Equal(t, 1, platform.handles[0].releases, "handle released exactly once")
}

func TestPlatformRevocation_DropsHandle(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)

	platform.handles[0].revoke()
	assert.False(t, manager.Held(), "revocation should null the handle")

	// A fresh acquire after revocation goes back to the platform
	status, err := manager.Acquire(testContext())
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, status)
	assert.Equal(t, 2, platform.acquires)
}

func TestRevocation_DoesNotClobberNewerHandle(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)
	old := platform.handles[0]

	manager.Release()
	_, err = manager.Acquire(testContext())
	require.NoError(t, err)

	// A late revocation of the old handle must not drop the new one
	old.revoke()
	assert.True(t, manager.Held())
}

func TestHandleVisibilityChange_ReacquiresMidTrip(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)
	platform.handles[0].revoke()
	require.False(t, manager.Held())

	manager.HandleVisibilityChange(testContext(), true, true)
	assert.True(t, manager.Held())
}

func TestHandleVisibilityChange_NoTripNoAcquire(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	manager.HandleVisibilityChange(testContext(), true, false)
	assert.False(t, manager.Held())
	assert.Zero(t, platform.acquires)
}

func TestHandleVisibilityChange_HiddenNoAcquire(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	manager.HandleVisibilityChange(testContext(), false, true)
	assert.Zero(t, platform.acquires)
}

func TestHandleVisibilityChange_AlreadyHeld(t *testing.T) {
	platform := &fakePlatform{}
	manager := NewManager(platform)

	_, err := manager.Acquire(testContext())
	require.NoError(t, err)

	manager.HandleVisibilityChange(testContext(), true, true)
	assert.Equal(t, 1, platform.acquires, "held lock must not be re-acquired")
}
