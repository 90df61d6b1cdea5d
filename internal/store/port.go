package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// ErrNoChampion is returned when the champion source or edge is missing.
// It is fatal at startup: no iteration can run without a baseline.
var ErrNoChampion = errors.New("store: no champion (missing .best_strategy.sol or .best_edge.txt)")

// ErrNoSnapshot is returned when a restore is requested without a snapshot.
var ErrNoSnapshot = errors.New("store: no pre-loop snapshot")

// Side files tracked alongside the champion.
const (
	SideEvolutionState = ".policy_evolution_state.json"
	SideEvolutionLog   = ".policy_evolution_log.jsonl"
)

// trackedSides are the side files captured by snapshots and quarantines.
var trackedSides = []string{SideEvolutionState, SideEvolutionLog}

// Port is the storage boundary of the loop.
type Port interface {
	// LoadChampion returns ErrNoChampion when either file is missing.
	LoadChampion() (ir.Champion, error)
	SaveChampion(c ir.Champion) error

	// LoadStats returns nil, nil when no statistics exist yet.
	LoadStats() (*ir.StatsFile, error)
	SaveStats(sf *ir.StatsFile) error

	AppendLog(e ir.LogEntry) error
	ReadLog() ([]ir.LogEntry, error)

	LoadDefinitions() (*policy.Document, error)
	SaveDefinitions(doc *policy.Document) error
	// BackupDefinitions copies the current definitions (and YAML mirror)
	// aside and returns the backup location.
	BackupDefinitions(label string) (string, error)

	// WriteArtifact stores data for an iteration and returns its path,
	// relative to the state root.
	WriteArtifact(iteration int, name string, data []byte) (string, error)
	ReadArtifact(path string) ([]byte, error)
	// LastArtifactIteration returns the highest iteration that has stored
	// artifacts, or 0. Artifacts survive rollbacks, so this bounds the
	// iteration numbers already in use.
	LastArtifactIteration() (int, error)

	// ReadSide returns nil, nil for a missing side file.
	ReadSide(name string) ([]byte, error)
	WriteSide(name string, data []byte) error
	AppendSide(name string, v any) error

	// Snapshot captures champion, stats, log and tracked side files. Unless
	// replace is set it returns false without overwriting an existing
	// snapshot.
	Snapshot(replace bool) (bool, error)
	HasSnapshot() bool
	// Quarantine moves stats, log and tracked side files (and copies the
	// champion) into a new rollback archive entry, returning its location.
	Quarantine(label string) (string, error)
	// RestoreSnapshot replaces champion, stats, log and side files with
	// the snapshot contents.
	RestoreSnapshot() error
}

// ArtifactName returns the relative artifact directory for an iteration.
func ArtifactName(iteration int, name string) string {
	return artifactDir(iteration) + "/" + name
}

func artifactDir(iteration int) string {
	return artifactsRoot + "/" + iterDir(iteration)
}

const artifactsRoot = "artifacts"

// parseIterDir returns the iteration encoded in an iter_NNNN name.
func parseIterDir(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "iter_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
