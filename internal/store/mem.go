package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// MemStore is an in-memory Port for tests and dry runs. Values are deep
// copied on the way in and out so callers cannot alias stored state.
type MemStore struct {
	mu sync.Mutex

	champion    *ir.Champion
	stats       []byte
	log         []ir.LogEntry
	definitions []byte
	backups     map[string][]byte
	artifacts   map[string][]byte
	sides       map[string][]byte
	snapshot    *memSnapshot
	quarantines map[string]*memSnapshot
}

type memSnapshot struct {
	champion *ir.Champion
	stats    []byte
	log      []ir.LogEntry
	sides    map[string][]byte
}

// NewMemStore returns a MemStore seeded with a champion and definitions.
// Either may be nil.
func NewMemStore(champ *ir.Champion, doc *policy.Document) *MemStore {
	m := &MemStore{
		backups:     make(map[string][]byte),
		artifacts:   make(map[string][]byte),
		sides:       make(map[string][]byte),
		quarantines: make(map[string]*memSnapshot),
	}
	if champ != nil {
		c := *champ
		m.champion = &c
	}
	if doc != nil {
		if err := m.SaveDefinitions(doc); err != nil {
			panic(fmt.Sprintf("store: seed definitions: %v", err))
		}
	}
	return m
}

// LoadChampion implements Port.
func (m *MemStore) LoadChampion() (ir.Champion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.champion == nil {
		return ir.Champion{}, ErrNoChampion
	}
	return *m.champion, nil
}

// SaveChampion implements Port.
func (m *MemStore) SaveChampion(c ir.Champion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.champion = &c
	return nil
}

// LoadStats implements Port.
func (m *MemStore) LoadStats() (*ir.StatsFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil, nil
	}
	var sf ir.StatsFile
	if err := json.Unmarshal(m.stats, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

// SaveStats implements Port.
func (m *MemStore) SaveStats(sf *ir.StatsFile) error {
	data, err := json.Marshal(sf)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = data
	return nil
}

// AppendLog implements Port.
func (m *MemStore) AppendLog(e ir.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, copyEntry(e))
	return nil
}

// ReadLog implements Port.
func (m *MemStore) ReadLog() ([]ir.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyLog(m.log), nil
}

// LoadDefinitions implements Port.
func (m *MemStore) LoadDefinitions() (*policy.Document, error) {
	m.mu.Lock()
	data := m.definitions
	m.mu.Unlock()
	if data == nil {
		return nil, fmt.Errorf("store: no definitions")
	}
	return policy.Parse(data)
}

// SaveDefinitions implements Port.
func (m *MemStore) SaveDefinitions(doc *policy.Document) error {
	data, err := doc.MarshalIndent()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions = data
	return nil
}

// BackupDefinitions implements Port.
func (m *MemStore) BackupDefinitions(label string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.definitions == nil {
		return "", fmt.Errorf("store: no definitions to back up")
	}
	key := fmt.Sprintf("%s/backup-%03d", BackupDir, len(m.backups)+1)
	if label != "" {
		key += "-" + label
	}
	m.backups[key] = append([]byte(nil), m.definitions...)
	return key, nil
}

// Backups returns backup keys in creation order.
func (m *MemStore) Backups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.backups))
	for k := range m.backups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteArtifact implements Port.
func (m *MemStore) WriteArtifact(iteration int, name string, data []byte) (string, error) {
	rel := ArtifactName(iteration, name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[rel] = append([]byte(nil), data...)
	return rel, nil
}

// ReadArtifact implements Port.
func (m *MemStore) ReadArtifact(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.artifacts[path]
	if !ok {
		return nil, fmt.Errorf("store: artifact %s not found", path)
	}
	return append([]byte(nil), data...), nil
}

// LastArtifactIteration implements Port.
func (m *MemStore) LastArtifactIteration() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := 0
	for rel := range m.artifacts {
		parts := strings.Split(rel, "/")
		if len(parts) < 2 {
			continue
		}
		if n, ok := parseIterDir(parts[1]); ok && n > last {
			last = n
		}
	}
	return last, nil
}

// ReadSide implements Port.
func (m *MemStore) ReadSide(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sides[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// WriteSide implements Port.
func (m *MemStore) WriteSide(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sides[name] = append([]byte(nil), data...)
	return nil
}

// AppendSide implements Port.
func (m *MemStore) AppendSide(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sides[name] = append(append(m.sides[name], data...), '\n')
	return nil
}

func (m *MemStore) capture() *memSnapshot {
	snap := &memSnapshot{
		stats: append([]byte(nil), m.stats...),
		log:   copyLog(m.log),
		sides: make(map[string][]byte),
	}
	if m.stats == nil {
		snap.stats = nil
	}
	if m.champion != nil {
		c := *m.champion
		snap.champion = &c
	}
	for _, name := range trackedSides {
		if data, ok := m.sides[name]; ok {
			snap.sides[name] = append([]byte(nil), data...)
		}
	}
	return snap
}

// HasSnapshot implements Port.
func (m *MemStore) HasSnapshot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot != nil
}

// Snapshot implements Port.
func (m *MemStore) Snapshot(replace bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !replace && m.snapshot != nil {
		return false, nil
	}
	if m.champion == nil {
		return false, ErrNoChampion
	}
	m.snapshot = m.capture()
	return true, nil
}

// Quarantine implements Port.
func (m *MemStore) Quarantine(label string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%03d-%s", RollbackArchiveDir, len(m.quarantines)+1, label)
	m.quarantines[key] = m.capture()
	m.stats = nil
	m.log = nil
	for _, name := range trackedSides {
		delete(m.sides, name)
	}
	return key, nil
}

// Quarantined returns the log captured by a quarantine, for tests.
func (m *MemStore) Quarantined(key string) ([]ir.LogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quarantines[key]
	if !ok {
		return nil, false
	}
	return copyLog(q.log), true
}

// RestoreSnapshot implements Port.
func (m *MemStore) RestoreSnapshot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return ErrNoSnapshot
	}
	snap := m.snapshot
	if snap.champion == nil {
		return ErrNoChampion
	}
	c := *snap.champion
	m.champion = &c
	m.stats = append([]byte(nil), snap.stats...)
	if snap.stats == nil {
		m.stats = nil
	}
	m.log = copyLog(snap.log)
	for _, name := range trackedSides {
		if data, ok := snap.sides[name]; ok {
			m.sides[name] = append([]byte(nil), data...)
		} else {
			delete(m.sides, name)
		}
	}
	return nil
}

func copyLog(log []ir.LogEntry) []ir.LogEntry {
	if log == nil {
		return nil
	}
	out := make([]ir.LogEntry, len(log))
	for i, e := range log {
		out[i] = copyEntry(e)
	}
	return out
}

func copyEntry(e ir.LogEntry) ir.LogEntry {
	if e.Warnings != nil {
		e.Warnings = append([]string(nil), e.Warnings...)
	}
	if e.Delta != nil {
		e.Delta = ir.Float(*e.Delta)
	}
	if e.Edge != nil {
		e.Edge = ir.Float(*e.Edge)
	}
	return e
}

var _ Port = (*MemStore)(nil)
