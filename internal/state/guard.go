package state

import (
	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/principal"
)

// TimerGuard holds the mutual-exclusion lock for one task type. A second
// acquisition while the previous run is still in flight fails immediately;
// the periodic task treats that as a no-op tick.
type TimerGuard struct {
	m    *Manager
	task TaskType
}

// NewTimerGuard acquires the lock for the task type.
func NewTimerGuard(m *Manager, task TaskType) (*TimerGuard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, config.ErrStateNotInitialized
	}
	if _, held := m.state.activeTasks[task]; held {
		return nil, config.ErrTaskAlreadyRunning
	}
	m.state.activeTasks[task] = struct{}{}
	return &TimerGuard{m: m, task: task}, nil
}

// Release frees the task lock.
func (g *TimerGuard) Release() {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	delete(g.m.state.activeTasks, g.task)
}

// WithdrawGuard holds the per-principal withdrawal lock. It is separate from
// the task-lock set: different principals proceed in parallel, a second
// withdrawal by the same principal fails fast.
type WithdrawGuard struct {
	m   *Manager
	key string
}

// NewWithdrawGuard acquires the withdrawal lock for the principal.
func NewWithdrawGuard(m *Manager, p principal.Principal) (*WithdrawGuard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, config.ErrStateNotInitialized
	}
	key := p.Text()
	if _, held := m.state.withdrawPrincipals[key]; held {
		return nil, config.ErrWithdrawInProgress
	}
	m.state.withdrawPrincipals[key] = struct{}{}
	return &WithdrawGuard{m: m, key: key}, nil
}

// Release frees the principal's withdrawal lock.
func (g *WithdrawGuard) Release() {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	delete(g.m.state.withdrawPrincipals, g.key)
}
