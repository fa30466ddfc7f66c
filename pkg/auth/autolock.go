package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/audit"
)

// DefaultAutoLock applies until a duration is stored.
const DefaultAutoLock = 5 * time.Minute

type stopper interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// AutoLockDuration returns the configured idle timeout. Zero means never.
func (m *Manager) AutoLockDuration(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoLockDurationLocked(ctx)
}

func (m *Manager) autoLockDurationLocked(ctx context.Context) (time.Duration, error) {
	raw, err := m.store.Retrieve(ctx, keyAutoLock)
	if err != nil {
		return 0, fmt.Errorf("auth: failed to read auto-lock setting: %w", err)
	}
	if raw == nil {
		return DefaultAutoLock, nil
	}
	var seconds int
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return 0, fmt.Errorf("auth: failed to parse auto-lock setting: %w", err)
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second, nil
}

// SetAutoLockDuration stores the idle timeout, truncated to whole seconds.
// An open session is re-armed with the new value.
func (m *Manager) SetAutoLockDuration(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("auth: negative auto-lock duration %s", d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := json.Marshal(int(d / time.Second))
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, keyAutoLock, raw, false); err != nil {
		return fmt.Errorf("auth: failed to save auto-lock setting: %w", err)
	}
	if m.session != nil {
		m.armLocked(ctx)
	}
	return nil
}

// armLocked replaces any pending auto-lock with a fresh one.
//
// Each arm bumps the generation; a timer that fires after being replaced
// sees a stale generation and does nothing.
func (m *Manager) armLocked(ctx context.Context) {
	m.disarmLocked()

	d, err := m.autoLockDurationLocked(ctx)
	if err != nil {
		m.logger.Warn("auto-lock disabled for this session", zap.Error(err))
		return
	}
	if d == 0 {
		return
	}

	gen := m.timerGen
	m.timer = m.afterFunc(d, func() { m.autoLock(gen) })
	m.logger.Debug("auto-lock armed", zap.Duration("after", d))
}

func (m *Manager) disarmLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) autoLock(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.timerGen || m.session == nil {
		return
	}
	m.logger.Info("auto-lock fired")
	m.logoutLocked(audit.OpVaultAutoLock)
}
