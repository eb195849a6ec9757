package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage is the in-memory Storage used by tests and local tooling.
// Listings iterate keys in sorted order so callers observe deterministic
// results.
type MemoryStorage struct {
	mu             sync.Mutex
	users          map[string]User
	snakes         map[string]SnakeRecord
	chunks         map[string]WorldChunk
	events         []SnakeEvent
	settings       map[string]Settings
	economyParams  map[string]EconomyParams
	economyPeriods map[string]EconomyPeriod
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	m := &MemoryStorage{}
	m.reset()
	return m
}

func (m *MemoryStorage) reset() {
	m.users = make(map[string]User)
	m.snakes = make(map[string]SnakeRecord)
	m.chunks = make(map[string]WorldChunk)
	m.events = nil
	m.settings = make(map[string]Settings)
	m.economyParams = make(map[string]EconomyParams)
	m.economyPeriods = make(map[string]EconomyPeriod)
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStorage) ListUsers() ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, k := range sortedKeys(m.users) {
		out = append(out, m.users[k])
	}
	return out, nil
}

func (m *MemoryStorage) GetUserByUsername(username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range sortedKeys(m.users) {
		if m.users[k].Username == username {
			u := m.users[k]
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetUserByID(userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutUser(u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	return nil
}

func (m *MemoryStorage) ListSnakes() ([]SnakeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SnakeRecord, 0, len(m.snakes))
	for _, k := range sortedKeys(m.snakes) {
		out = append(out, m.snakes[k])
	}
	return out, nil
}

func (m *MemoryStorage) GetSnake(snakeID string) (*SnakeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snakes[snakeID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutSnake(s SnakeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snakes[s.SnakeID] = s
	return nil
}

func (m *MemoryStorage) DeleteSnake(snakeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snakes, snakeID)
	return nil
}

func (m *MemoryStorage) GetWorldChunk(chunkID string) (*WorldChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chunks[chunkID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutWorldChunk(c WorldChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[c.ChunkID] = c
	return nil
}

func (m *MemoryStorage) AppendSnakeEvent(e SnakeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the append-only event log, in insertion order.
func (m *MemoryStorage) Events() []SnakeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SnakeEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStorage) GetSettings(settingsID string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[settingsID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutSettings(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.SettingsID] = s
	return nil
}

func (m *MemoryStorage) GetEconomyParamsActive() (*EconomyParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.economyParams["active"]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutEconomyParamsActiveAndVersioned(p EconomyParams, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active, ok := m.economyParams["active"]; ok && p.Version <= active.Version {
		p.Version = active.Version + 1
	}
	p.UpdatedBy = updatedBy
	m.economyParams[fmt.Sprintf("ver#%d", p.Version)] = p
	m.economyParams["active"] = p
	return nil
}

func (m *MemoryStorage) GetEconomyPeriod(periodKey string) (*EconomyPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.economyPeriods[periodKey]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemoryStorage) PutEconomyPeriod(p EconomyPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.economyPeriods[p.PeriodKey] = p
	return nil
}

func (m *MemoryStorage) IncrementUserBalance(userID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.BalanceMi += delta
	m.users[userID] = u
	return nil
}

func (m *MemoryStorage) IncrementEconomyPeriodDeltaMBuy(periodKey string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.economyPeriods[periodKey]
	p.PeriodKey = periodKey
	p.DeltaMBuy += delta
	m.economyPeriods[periodKey] = p
	return nil
}

func (m *MemoryStorage) HealthCheck() error {
	return nil
}

func (m *MemoryStorage) ResetForDev() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}
