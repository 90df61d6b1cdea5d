// Package history keeps a bounded, versioned archive of past champions.
//
// Layout under the store directory:
//
//	manifest.json
//	champion_001/strategy.sol
//	champion_001/metadata.json
//	champion_002/...
//
// Sequence numbers are monotonic and never reused, even after pruning. The
// manifest's best_ever entry is exempt from pruning, so with max history K
// the archive holds at most K entries plus, when it is older, best_ever.
package history

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/solosage1/amm-challenge-sub000/internal/fsutil"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

const (
	manifestFile = "manifest.json"
	sourceFile   = "strategy.sol"
	metadataFile = "metadata.json"
)

// Archive reasons.
const (
	ReasonPromotion = "promotion"
	ReasonRevert    = "revert"
	ReasonManual    = "manual"
)

// ErrNotFound is returned when a sequence or position has no entry.
var ErrNotFound = errors.New("history: entry not found")

// Entry is one manifest line.
type Entry struct {
	Sequence   int       `json:"sequence"`
	Name       string    `json:"name"`
	Edge       float64   `json:"edge"`
	PromotedAt time.Time `json:"promoted_at"`
	Directory  string    `json:"directory"`
}

// Manifest indexes the archive, oldest first.
type Manifest struct {
	Entries      []Entry `json:"entries"`
	NextSequence int     `json:"next_sequence"`
	BestEver     *int    `json:"best_ever"`
}

func (m *Manifest) index(seq int) int {
	for i, e := range m.Entries {
		if e.Sequence == seq {
			return i
		}
	}
	return -1
}

// Metadata is the per-entry record. Previous* fields chain each entry to
// the one archived before it.
type Metadata struct {
	Sequence         int       `json:"sequence"`
	Name             string    `json:"name"`
	Edge             float64   `json:"edge"`
	ArchivedAt       time.Time `json:"archived_at"`
	Reason           string    `json:"reason"`
	Iteration        int       `json:"iteration,omitempty"`
	Mechanism        string    `json:"mechanism,omitempty"`
	Delta            *float64  `json:"delta,omitempty"`
	PreviousSequence *int      `json:"previous_sequence,omitempty"`
	PreviousName     string    `json:"previous_name,omitempty"`
	PreviousEdge     *float64  `json:"previous_edge,omitempty"`
	SourceHash       string    `json:"source_hash"`
}

// Record is an archived champion with its source.
type Record struct {
	Metadata
	Source string `json:"source"`
}

// Champion returns the record as a champion.
func (r *Record) Champion() ir.Champion {
	return ir.Champion{Source: r.Source, Edge: r.Edge, Name: r.Name}
}

// ArchiveRequest describes a champion to archive.
type ArchiveRequest struct {
	Champion  ir.Champion
	Reason    string
	Iteration int
	Mechanism string // mechanism whose candidate displaced this champion
	Delta     *float64
}

// Store is the file-backed champion archive.
type Store struct {
	dir        string
	maxHistory int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New returns a store rooted at dir. maxHistory <= 0 disables pruning.
func New(dir string, maxHistory int, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		maxHistory: maxHistory,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the archive root.
func (s *Store) Dir() string {
	return s.dir
}

// Manifest loads the manifest. A missing manifest is an empty archive.
func (s *Store) Manifest() (*Manifest, error) {
	m := &Manifest{NextSequence: 1}
	err := fsutil.ReadJSON(filepath.Join(s.dir, manifestFile), m)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{NextSequence: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if m.NextSequence < 1 {
		m.NextSequence = 1
	}
	return m, nil
}

func (s *Store) saveManifest(m *Manifest) error {
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	return fsutil.WriteJSONAtomic(filepath.Join(s.dir, manifestFile), m)
}

// Archive stores a champion and returns its sequence number.
//
// The entry directory is fully written before the manifest references it.
// Pruning runs afterwards and never removes best_ever.
func (s *Store) Archive(req ArchiveRequest) (int, error) {
	m, err := s.Manifest()
	if err != nil {
		return 0, err
	}

	seq := m.NextSequence
	name := req.Champion.Name
	if name == "" {
		name = ir.ChampionName(req.Champion.Source)
	}
	reason := req.Reason
	if reason == "" {
		reason = ReasonPromotion
	}

	meta := Metadata{
		Sequence:   seq,
		Name:       name,
		Edge:       req.Champion.Edge,
		ArchivedAt: s.now().UTC(),
		Reason:     reason,
		Iteration:  req.Iteration,
		Mechanism:  req.Mechanism,
		Delta:      req.Delta,
		SourceHash: ir.SourceHash(req.Champion.Source),
	}
	if n := len(m.Entries); n > 0 {
		prev := m.Entries[n-1]
		meta.PreviousSequence = &prev.Sequence
		meta.PreviousName = prev.Name
		meta.PreviousEdge = ir.Float(prev.Edge)
	}

	dirName := fmt.Sprintf("champion_%03d", seq)
	entryDir := filepath.Join(s.dir, dirName)
	if err := fsutil.WriteFileAtomic(filepath.Join(entryDir, sourceFile), []byte(req.Champion.Source), 0o644); err != nil {
		return 0, fmt.Errorf("archive champion %d: %w", seq, err)
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(entryDir, metadataFile), meta); err != nil {
		return 0, fmt.Errorf("archive champion %d: %w", seq, err)
	}

	m.Entries = append(m.Entries, Entry{
		Sequence:   seq,
		Name:       name,
		Edge:       meta.Edge,
		PromotedAt: meta.ArchivedAt,
		Directory:  dirName,
	})
	m.NextSequence = seq + 1
	if m.BestEver == nil || meta.Edge > s.edgeOf(m, *m.BestEver) {
		best := seq
		m.BestEver = &best
	}

	pruned := s.prune(m)
	if err := s.saveManifest(m); err != nil {
		return 0, fmt.Errorf("save manifest: %w", err)
	}
	for _, e := range pruned {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Directory)); err != nil {
			s.logger.Warn("failed to remove pruned champion", "sequence", e.Sequence, "error", err)
		}
	}

	s.logger.Info("champion archived",
		"sequence", seq,
		"name", name,
		"edge", meta.Edge,
		"reason", reason,
		"pruned", len(pruned))
	return seq, nil
}

func (s *Store) edgeOf(m *Manifest, seq int) float64 {
	if i := m.index(seq); i >= 0 {
		return m.Entries[i].Edge
	}
	return 0
}

// prune drops the oldest non-best entries until the count is within
// maxHistory and returns what was dropped.
func (s *Store) prune(m *Manifest) []Entry {
	if s.maxHistory <= 0 {
		return nil
	}
	var dropped []Entry
	for len(m.Entries) > s.maxHistory {
		victim := -1
		for i, e := range m.Entries {
			if m.BestEver != nil && e.Sequence == *m.BestEver {
				continue
			}
			victim = i
			break
		}
		if victim < 0 {
			break
		}
		dropped = append(dropped, m.Entries[victim])
		m.Entries = append(m.Entries[:victim], m.Entries[victim+1:]...)
	}
	return dropped
}

// Get returns the record with the given sequence number.
func (s *Store) Get(seq int) (*Record, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	i := m.index(seq)
	if i < 0 {
		return nil, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	return s.load(m.Entries[i])
}

// Recent returns the nth most recent record; n=1 is the latest.
func (s *Store) Recent(n int) (*Record, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(m.Entries) {
		return nil, fmt.Errorf("%w: position %d of %d", ErrNotFound, n, len(m.Entries))
	}
	return s.load(m.Entries[len(m.Entries)-n])
}

// List returns manifest entries newest first.
func (s *Store) List() ([]Entry, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(m.Entries))
	for i, e := range m.Entries {
		out[len(out)-1-i] = e
	}
	return out, nil
}

// Revert archives current (so the revert can itself be undone) and returns
// the target record for the caller to install as champion.
func (s *Store) Revert(seq int, current ir.Champion) (*Record, error) {
	target, err := s.Get(seq)
	if err != nil {
		return nil, err
	}
	delta := target.Edge - current.Edge
	if _, err := s.Archive(ArchiveRequest{
		Champion: current,
		Reason:   ReasonRevert,
		Delta:    &delta,
	}); err != nil {
		return nil, fmt.Errorf("archive current before revert: %w", err)
	}
	s.logger.Info("reverting champion", "to_sequence", seq, "to_edge", target.Edge, "from_edge", current.Edge)
	return target, nil
}

func (s *Store) load(e Entry) (*Record, error) {
	dir := filepath.Join(s.dir, e.Directory)
	var meta Metadata
	if err := fsutil.ReadJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, fmt.Errorf("load champion %d: %w", e.Sequence, err)
	}
	src, err := os.ReadFile(filepath.Join(dir, sourceFile))
	if err != nil {
		return nil, fmt.Errorf("load champion %d: %w", e.Sequence, err)
	}
	return &Record{Metadata: meta, Source: string(src)}, nil
}
