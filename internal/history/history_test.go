package history

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

func fixedNow() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newStore(t *testing.T, maxHistory int) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "champion_history"), maxHistory, WithNow(fixedNow()))
}

func champ(edge float64) ir.Champion {
	return ir.NewChampion(fmt.Sprintf("contract Gen%d {}\n", int(edge)), edge)
}

func TestArchiveWritesEntryAndChain(t *testing.T) {
	s := newStore(t, 10)

	seq1, err := s.Archive(ArchiveRequest{Champion: champ(100), Iteration: 3, Mechanism: "fee", Delta: ir.Float(1.5)})
	require.NoError(t, err)
	seq2, err := s.Archive(ArchiveRequest{Champion: champ(101.5), Iteration: 7, Mechanism: "spread", Delta: ir.Float(0.5)})
	require.NoError(t, err)
	assert.Equal(t, 1, seq1)
	assert.Equal(t, 2, seq2)

	src, err := os.ReadFile(filepath.Join(s.Dir(), "champion_001", "strategy.sol"))
	require.NoError(t, err)
	assert.Equal(t, "contract Gen100 {}\n", string(src))

	rec, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "Gen101", rec.Name)
	assert.Equal(t, ReasonPromotion, rec.Reason)
	assert.Equal(t, "spread", rec.Mechanism)
	require.NotNil(t, rec.PreviousSequence)
	assert.Equal(t, 1, *rec.PreviousSequence)
	assert.Equal(t, "Gen100", rec.PreviousName)
	assert.Equal(t, 100.0, *rec.PreviousEdge)
	assert.Equal(t, ir.SourceHash(rec.Source), rec.SourceHash)

	first, err := s.Get(1)
	require.NoError(t, err)
	assert.Nil(t, first.PreviousSequence)

	m, err := s.Manifest()
	require.NoError(t, err)
	assert.Equal(t, 3, m.NextSequence)
	require.NotNil(t, m.BestEver)
	assert.Equal(t, 2, *m.BestEver)
}

func TestEmptyArchive(t *testing.T) {
	s := newStore(t, 5)

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Recent(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneKeepsBestEver(t *testing.T) {
	s := newStore(t, 3)
	for _, edge := range []float64{10, 5, 6, 7, 8} {
		_, err := s.Archive(ArchiveRequest{Champion: champ(edge)})
		require.NoError(t, err)
	}

	m, err := s.Manifest()
	require.NoError(t, err)
	var seqs []int
	for _, e := range m.Entries {
		seqs = append(seqs, e.Sequence)
	}
	assert.Equal(t, []int{1, 4, 5}, seqs)
	assert.Equal(t, 1, *m.BestEver)
	assert.Equal(t, 6, m.NextSequence)

	_, err = os.Stat(filepath.Join(s.Dir(), "champion_002"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Dir(), "champion_001"))
	assert.NoError(t, err)
}

func TestRetentionProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, k := range []int{1, 2, 5} {
		s := newStore(t, k)
		best := -1.0
		bestSeq := 0
		for i := 0; i < 25; i++ {
			edge := float64(rng.IntN(100))
			seq, err := s.Archive(ArchiveRequest{Champion: champ(edge)})
			require.NoError(t, err)
			if edge > best {
				best, bestSeq = edge, seq
			}

			m, err := s.Manifest()
			require.NoError(t, err)
			assert.LessOrEqual(t, len(m.Entries), k)
			require.NotNil(t, m.BestEver)
			assert.Equal(t, bestSeq, *m.BestEver)
			assert.GreaterOrEqual(t, m.index(bestSeq), 0, "best_ever pruned at k=%d", k)
		}
	}
}

func TestRecentAndList(t *testing.T) {
	s := newStore(t, 10)
	for _, edge := range []float64{1, 2, 3} {
		_, err := s.Archive(ArchiveRequest{Champion: champ(edge)})
		require.NoError(t, err)
	}

	rec, err := s.Recent(1)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Sequence)

	rec, err = s.Recent(3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Sequence)

	_, err = s.Recent(4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Recent(0)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{entries[0].Sequence, entries[1].Sequence, entries[2].Sequence})
	assert.True(t, entries[0].PromotedAt.After(entries[2].PromotedAt))
}

func TestRevertArchivesCurrentFirst(t *testing.T) {
	s := newStore(t, 10)
	_, err := s.Archive(ArchiveRequest{Champion: champ(50)})
	require.NoError(t, err)

	current := champ(40)
	target, err := s.Revert(1, current)
	require.NoError(t, err)
	assert.Equal(t, 50.0, target.Edge)
	assert.Equal(t, "contract Gen50 {}\n", target.Champion().Source)

	latest, err := s.Recent(1)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Sequence)
	assert.Equal(t, ReasonRevert, latest.Reason)
	assert.Equal(t, current.Source, latest.Source)
	require.NotNil(t, latest.Delta)
	assert.Equal(t, 10.0, *latest.Delta)

	// The revert is itself reversible.
	back, err := s.Revert(2, target.Champion())
	require.NoError(t, err)
	assert.Equal(t, current.Source, back.Source)

	_, err = s.Revert(99, current)
	assert.ErrorIs(t, err, ErrNotFound)
}
