package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solosage1/amm-challenge-sub000/internal/fsutil"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// File names under the state root.
const (
	ChampionSourceFile     = ".best_strategy.sol"
	ChampionEdgeFile       = ".best_edge.txt"
	LogFile                = ".iteration_log.jsonl"
	StatsFileName          = ".mechanism_stats.json"
	DefaultDefinitionsFile = "mechanism_definitions.json"
	SnapshotDir            = ".loop_snapshot"
	RollbackArchiveDir     = "rollback_archive"
	BackupDir              = "definitions_backups"
	HistoryDir             = "champion_history"

	snapshotMeta   = "snapshot.json"
	quarantineMeta = "quarantine.json"
	timestampFmt   = "20060102T150405Z"
)

// FileStore is the file-backed Port.
type FileStore struct {
	root            string
	definitionsPath string
	now             func() time.Time
	newID           func() string
	logger          *slog.Logger
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithDefinitionsPath overrides the definitions file location. Relative
// paths are resolved against the state root.
func WithDefinitionsPath(path string) FileOption {
	return func(s *FileStore) {
		s.definitionsPath = path
	}
}

// WithClock sets the time source used for backup and quarantine names.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		s.now = now
	}
}

// WithIDGenerator sets the generator for quarantine ids.
func WithIDGenerator(gen func() string) FileOption {
	return func(s *FileStore) {
		s.newID = gen
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) {
		s.logger = l
	}
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string, opts ...FileOption) *FileStore {
	s := &FileStore{
		root:            root,
		definitionsPath: DefaultDefinitionsFile,
		now:             time.Now,
		newID:           shortUUID,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !filepath.IsAbs(s.definitionsPath) {
		s.definitionsPath = filepath.Join(root, s.definitionsPath)
	}
	return s
}

func shortUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// Root returns the state directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path resolves a state-relative path.
func (s *FileStore) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// DefinitionsPath returns the definitions file location.
func (s *FileStore) DefinitionsPath() string {
	return s.definitionsPath
}

// MirrorPath returns the YAML mirror location for the definitions file.
func (s *FileStore) MirrorPath() string {
	return strings.TrimSuffix(s.definitionsPath, filepath.Ext(s.definitionsPath)) + ".yaml"
}

// LoadChampion implements Port.
func (s *FileStore) LoadChampion() (ir.Champion, error) {
	src, err := os.ReadFile(s.Path(ChampionSourceFile))
	if errors.Is(err, fs.ErrNotExist) {
		return ir.Champion{}, ErrNoChampion
	}
	if err != nil {
		return ir.Champion{}, fmt.Errorf("read champion source: %w", err)
	}
	raw, err := os.ReadFile(s.Path(ChampionEdgeFile))
	if errors.Is(err, fs.ErrNotExist) {
		return ir.Champion{}, ErrNoChampion
	}
	if err != nil {
		return ir.Champion{}, fmt.Errorf("read champion edge: %w", err)
	}
	edge, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return ir.Champion{}, fmt.Errorf("parse %s: %w", ChampionEdgeFile, err)
	}
	return ir.NewChampion(string(src), edge), nil
}

// SaveChampion implements Port. Source and edge are always rewritten
// together.
func (s *FileStore) SaveChampion(c ir.Champion) error {
	if err := fsutil.WriteFileAtomic(s.Path(ChampionSourceFile), []byte(c.Source), 0o644); err != nil {
		return fmt.Errorf("save champion: %w", err)
	}
	edge := strconv.FormatFloat(c.Edge, 'f', -1, 64) + "\n"
	if err := fsutil.WriteFileAtomic(s.Path(ChampionEdgeFile), []byte(edge), 0o644); err != nil {
		return fmt.Errorf("save champion: %w", err)
	}
	return nil
}

// LoadStats implements Port.
func (s *FileStore) LoadStats() (*ir.StatsFile, error) {
	var sf ir.StatsFile
	err := fsutil.ReadJSON(s.Path(StatsFileName), &sf)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sf.Mechanisms == nil {
		sf.Mechanisms = make(map[string]*ir.MechanismStats)
	}
	return &sf, nil
}

// SaveStats implements Port.
func (s *FileStore) SaveStats(sf *ir.StatsFile) error {
	return fsutil.WriteJSONAtomic(s.Path(StatsFileName), sf)
}

// AppendLog implements Port.
func (s *FileStore) AppendLog(e ir.LogEntry) error {
	return fsutil.AppendJSONLine(s.Path(LogFile), e)
}

// ReadLog implements Port. A torn final line (a crash mid-append) is
// skipped with a warning; a malformed line anywhere else is an error.
func (s *FileStore) ReadLog() ([]ir.LogEntry, error) {
	data, err := os.ReadFile(s.Path(LogFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", LogFile, err)
	}
	return s.parseLog(data)
}

func (s *FileStore) parseLog(data []byte) ([]ir.LogEntry, error) {
	var entries []ir.LogEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	var pending error
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var e ir.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			pending = fmt.Errorf("%s line %d: %w", LogFile, lineNo, err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", LogFile, err)
	}
	if pending != nil {
		s.logger.Warn("skipping torn final log line", "error", pending)
	}
	return entries, nil
}

// LoadDefinitions implements Port.
func (s *FileStore) LoadDefinitions() (*policy.Document, error) {
	return policy.Load(s.definitionsPath)
}

// SaveDefinitions implements Port. The YAML mirror is refreshed when one
// exists.
func (s *FileStore) SaveDefinitions(doc *policy.Document) error {
	data, err := doc.MarshalIndent()
	if err != nil {
		return fmt.Errorf("marshal definitions: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.definitionsPath, data, 0o644); err != nil {
		return fmt.Errorf("save definitions: %w", err)
	}
	if fsutil.Exists(s.MirrorPath()) {
		y, err := doc.MarshalYAMLBytes()
		if err != nil {
			return fmt.Errorf("marshal definitions mirror: %w", err)
		}
		if err := fsutil.WriteFileAtomic(s.MirrorPath(), y, 0o644); err != nil {
			return fmt.Errorf("save definitions mirror: %w", err)
		}
	}
	return nil
}

// BackupDefinitions implements Port.
func (s *FileStore) BackupDefinitions(label string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(s.definitionsPath), filepath.Ext(s.definitionsPath))
	stamp := s.now().UTC().Format(timestampFmt)
	if label != "" {
		stamp += "-" + label
	}
	rel := filepath.ToSlash(filepath.Join(BackupDir, base+"."+stamp+".json"))
	if err := fsutil.CopyFile(s.definitionsPath, s.Path(rel)); err != nil {
		return "", fmt.Errorf("backup definitions: %w", err)
	}
	mirror := strings.TrimSuffix(s.Path(rel), ".json") + ".yaml"
	if _, err := fsutil.CopyIfExists(s.MirrorPath(), mirror); err != nil {
		return "", fmt.Errorf("backup definitions mirror: %w", err)
	}
	return rel, nil
}

// WriteArtifact implements Port.
func (s *FileStore) WriteArtifact(iteration int, name string, data []byte) (string, error) {
	rel := ArtifactName(iteration, name)
	if err := fsutil.WriteFileAtomic(s.Path(rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return rel, nil
}

// ReadArtifact implements Port.
func (s *FileStore) ReadArtifact(path string) ([]byte, error) {
	return os.ReadFile(s.Path(path))
}

// LastArtifactIteration implements Port.
func (s *FileStore) LastArtifactIteration() (int, error) {
	entries, err := os.ReadDir(s.Path(artifactsRoot))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}
	last := 0
	for _, e := range entries {
		if n, ok := parseIterDir(e.Name()); ok && e.IsDir() && n > last {
			last = n
		}
	}
	return last, nil
}

// ReadSide implements Port.
func (s *FileStore) ReadSide(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// WriteSide implements Port.
func (s *FileStore) WriteSide(name string, data []byte) error {
	return fsutil.WriteFileAtomic(s.Path(name), data, 0o644)
}

// AppendSide implements Port.
func (s *FileStore) AppendSide(name string, v any) error {
	return fsutil.AppendJSONLine(s.Path(name), v)
}

// snapshotFiles are the files captured by Snapshot and restored by
// RestoreSnapshot.
func snapshotFiles() []string {
	return append([]string{ChampionSourceFile, ChampionEdgeFile, StatsFileName, LogFile}, trackedSides...)
}

type snapshotInfo struct {
	CreatedAt    time.Time `json:"created_at"`
	ChampionEdge float64   `json:"champion_edge"`
	Files        []string  `json:"files"`
}

// HasSnapshot implements Port.
func (s *FileStore) HasSnapshot() bool {
	return fsutil.Exists(filepath.Join(s.Path(SnapshotDir), snapshotMeta))
}

// Snapshot implements Port. The metadata file is written last and marks
// the snapshot complete.
func (s *FileStore) Snapshot(replace bool) (bool, error) {
	if !replace && s.HasSnapshot() {
		return false, nil
	}
	champ, err := s.LoadChampion()
	if err != nil {
		return false, err
	}

	dir := s.Path(SnapshotDir)
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("clear snapshot: %w", err)
	}
	info := snapshotInfo{CreatedAt: s.now().UTC(), ChampionEdge: champ.Edge}
	for _, name := range snapshotFiles() {
		copied, err := fsutil.CopyIfExists(s.Path(name), filepath.Join(dir, name))
		if err != nil {
			return false, fmt.Errorf("snapshot %s: %w", name, err)
		}
		if copied {
			info.Files = append(info.Files, name)
		}
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, snapshotMeta), info); err != nil {
		return false, fmt.Errorf("snapshot metadata: %w", err)
	}
	s.logger.Info("loop snapshot created", "edge", champ.Edge, "files", len(info.Files))
	return true, nil
}

// Quarantine implements Port.
func (s *FileStore) Quarantine(label string) (string, error) {
	name := s.now().UTC().Format(timestampFmt) + "-" + s.newID()
	rel := filepath.ToSlash(filepath.Join(RollbackArchiveDir, name))
	dir := s.Path(rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine: %w", err)
	}

	var moved []string
	for _, f := range []string{ChampionSourceFile, ChampionEdgeFile} {
		copied, err := fsutil.CopyIfExists(s.Path(f), filepath.Join(dir, f))
		if err != nil {
			return "", fmt.Errorf("quarantine %s: %w", f, err)
		}
		if copied {
			moved = append(moved, f)
		}
	}
	for _, f := range append([]string{StatsFileName, LogFile}, trackedSides...) {
		err := os.Rename(s.Path(f), filepath.Join(dir, f))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("quarantine %s: %w", f, err)
		}
		moved = append(moved, f)
	}

	meta := map[string]any{"label": label, "created_at": s.now().UTC(), "files": moved}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, quarantineMeta), meta); err != nil {
		return "", err
	}
	s.logger.Info("state quarantined", "dir", rel, "label", label, "files", len(moved))
	return rel, nil
}

// RestoreSnapshot implements Port. Files absent from the snapshot are
// removed so the state matches the pre-loop state exactly.
func (s *FileStore) RestoreSnapshot() error {
	if !s.HasSnapshot() {
		return ErrNoSnapshot
	}
	dir := s.Path(SnapshotDir)
	var info snapshotInfo
	if err := fsutil.ReadJSON(filepath.Join(dir, snapshotMeta), &info); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	present := make(map[string]bool, len(info.Files))
	for _, f := range info.Files {
		present[f] = true
	}
	if !present[ChampionSourceFile] || !present[ChampionEdgeFile] {
		return fmt.Errorf("restore snapshot: %w", ErrNoChampion)
	}

	for _, f := range snapshotFiles() {
		if present[f] {
			if err := fsutil.CopyFile(filepath.Join(dir, f), s.Path(f)); err != nil {
				return fmt.Errorf("restore %s: %w", f, err)
			}
			continue
		}
		if err := os.Remove(s.Path(f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("restore %s: %w", f, err)
		}
	}
	s.logger.Info("restored loop snapshot", "edge", info.ChampionEdge, "created_at", info.CreatedAt)
	return nil
}

var _ Port = (*FileStore)(nil)
