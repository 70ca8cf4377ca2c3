package persistence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// Store is the adapter-shaped facade every caller programs against, so the
// backend (flat JSON files today) can be swapped for a key-value store
// later without touching SignalMachine, RiskGate, or the trackers.
type Store interface {
	SavePending(ctx domain.Context, signal *domain.Signal) error
	LoadPending(ctx domain.Context) (*domain.Signal, error)
	ClearPending(ctx domain.Context) error

	SaveScheduled(ctx domain.Context, signal *domain.Signal) error
	LoadScheduled(ctx domain.Context) (*domain.Signal, error)
	ClearScheduled(ctx domain.Context) error

	SavePartial(ctx domain.Context, signalID string, state domain.PartialState) error
	LoadPartial(ctx domain.Context, signalID string) (domain.PartialState, bool, error)
	ClearPartial(ctx domain.Context, signalID string) error

	SavePositions(risk, exchange string, positions map[string]domain.ActivePosition) error
	LoadPositions(risk, exchange string) (map[string]domain.ActivePosition, error)
}

// Manager memoizes one Handle per entity directory for the process
// lifetime, as required by the persistence contract.
type Manager struct {
	logger  *zap.Logger
	baseDir string

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(logger *zap.Logger, baseDir string) *Manager {
	return &Manager{logger: logger, baseDir: baseDir, handles: make(map[string]*Handle)}
}

func (m *Manager) handle(subdir string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[subdir]; ok {
		return h
	}
	h := NewHandle(m.logger, m.baseDir+"/"+subdir)
	m.handles[subdir] = h
	return h
}

func entityDir(ctx domain.Context) string {
	return ctx.Symbol + "_" + ctx.Strategy + "_" + ctx.Exchange
}

// SavePending persists ctx's pending signal.
func (m *Manager) SavePending(ctx domain.Context, signal *domain.Signal) error {
	return m.handle("pending/" + entityDir(ctx)).Write(ctx.Symbol, signal)
}

// LoadPending loads ctx's pending signal, if any.
func (m *Manager) LoadPending(ctx domain.Context) (*domain.Signal, error) {
	var s domain.Signal
	ok, err := m.handle("pending/" + entityDir(ctx)).Read(ctx.Symbol, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// ClearPending removes ctx's pending signal.
func (m *Manager) ClearPending(ctx domain.Context) error {
	return m.handle("pending/" + entityDir(ctx)).Delete(ctx.Symbol)
}

// SaveScheduled persists ctx's scheduled signal.
func (m *Manager) SaveScheduled(ctx domain.Context, signal *domain.Signal) error {
	return m.handle("scheduled/" + entityDir(ctx)).Write(ctx.Symbol, signal)
}

// LoadScheduled loads ctx's scheduled signal, if any.
func (m *Manager) LoadScheduled(ctx domain.Context) (*domain.Signal, error) {
	var s domain.Signal
	ok, err := m.handle("scheduled/" + entityDir(ctx)).Read(ctx.Symbol, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// ClearScheduled removes ctx's scheduled signal.
func (m *Manager) ClearScheduled(ctx domain.Context) error {
	return m.handle("scheduled/" + entityDir(ctx)).Delete(ctx.Symbol)
}

// SavePartial persists the partial-close milestone set for one signal.
func (m *Manager) SavePartial(ctx domain.Context, signalID string, state domain.PartialState) error {
	return m.handle("partial/" + entityDir(ctx)).Write(signalID, state)
}

// LoadPartial loads the partial-close milestone set for one signal.
func (m *Manager) LoadPartial(ctx domain.Context, signalID string) (domain.PartialState, bool, error) {
	var st domain.PartialState
	ok, err := m.handle("partial/" + entityDir(ctx)).Read(signalID, &st)
	return st, ok, err
}

// ClearPartial removes the partial-close milestone set for one signal.
func (m *Manager) ClearPartial(ctx domain.Context, signalID string) error {
	return m.handle("partial/" + entityDir(ctx)).Delete(signalID)
}

// SavePositions persists the full active-position map for one risk profile.
func (m *Manager) SavePositions(risk, exchange string, positions map[string]domain.ActivePosition) error {
	type pair struct {
		Key      string                `json:"key"`
		Position domain.ActivePosition `json:"position"`
	}
	pairs := make([]pair, 0, len(positions))
	for k, v := range positions {
		pairs = append(pairs, pair{Key: k, Position: v})
	}
	return m.handle("positions/" + risk + "_" + exchange).Write("positions", pairs)
}

// LoadPositions loads the full active-position map for one risk profile.
func (m *Manager) LoadPositions(risk, exchange string) (map[string]domain.ActivePosition, error) {
	type pair struct {
		Key      string                `json:"key"`
		Position domain.ActivePosition `json:"position"`
	}
	var pairs []pair
	ok, err := m.handle("positions/" + risk + "_" + exchange).Read("positions", &pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ActivePosition, len(pairs))
	if !ok {
		return out, nil
	}
	for _, p := range pairs {
		out[p.Key] = p.Position
	}
	return out, nil
}

var _ Store = (*Manager)(nil)
