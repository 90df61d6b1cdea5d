package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsFromCurrent(t *testing.T) {
	current := loadFixture(t)
	payload := []byte(`{
		"mechanisms": {
			"fee_schedule": {"modification_directions": "tiered fees, volatility scaling"},
			"spread_model": {},
			"inventory": {}
		}
	}`)

	doc, notes, err := Normalize(payload, current)
	require.NoError(t, err)
	assert.Empty(t, notes)

	fee := doc.Get("fee_schedule")
	require.NotNil(t, fee)
	assert.Equal(t, "flat fee with volatility bump", fee.CurrentImplementation)
	assert.Equal(t, []string{"tiered fees", "volatility scaling"}, fee.ModificationDirections)
	assert.Equal(t, []string{"spread_model"}, fee.AllowedOverlapWith)
	assert.Equal(t, current.Get("fee_schedule").Anchors, fee.Anchors)
	assert.Equal(t, current.ChampionEdge, doc.ChampionEdge)
	assert.Equal(t, current.SchemaVersion, doc.SchemaVersion)
}

func TestNormalizeRepairsOverlap(t *testing.T) {
	current := loadFixture(t)
	payload := []byte(`{
		"mechanisms": {
			"fee_schedule": {"allowed_overlap_with": ["fee_schedule", "spread_model", "spread_model"]},
			"spread_model": {}
		}
	}`)

	doc, notes, err := Normalize(payload, current)
	require.NoError(t, err)
	assert.Equal(t, []string{"spread_model"}, doc.Get("fee_schedule").AllowedOverlapWith)
	assert.Len(t, notes, 2)
	assert.Contains(t, notes[0], "self-referential")
	assert.Contains(t, notes[1], "duplicate")
}

func TestNormalizeCoercesAnchorTypes(t *testing.T) {
	current := loadFixture(t)
	payload := []byte(`{
		"mechanisms": {
			"fee_schedule": {"anchors": {"start": "function computeFee", "occurrence": "2", "regex": "false", "before": -3}},
			"brand_new": {"anchors": [{"end": "}"}, {"start": "function newThing", "after": 1.0}]}
		}
	}`)

	doc, notes, err := Normalize(payload, current)
	require.NoError(t, err)

	fee := doc.Get("fee_schedule")
	require.Len(t, fee.Anchors, 1)
	assert.Equal(t, 2, fee.Anchors[0].Occurrence)
	assert.False(t, fee.Anchors[0].Regex)
	assert.Equal(t, 0, fee.Anchors[0].Before)

	fresh := doc.Get("brand_new")
	require.NotNil(t, fresh)
	require.Len(t, fresh.Anchors, 1)
	assert.Equal(t, "function newThing", fresh.Anchors[0].Start)
	assert.Equal(t, 1, fresh.Anchors[0].After)
	assert.Contains(t, notes, "brand_new: anchor 0 has no start, dropped")
}

func TestNormalizeBareMechanismMap(t *testing.T) {
	current := loadFixture(t)
	payload := []byte(`{"fee_schedule": {}, "spread_model": {}, "inventory": {}}`)

	doc, notes, err := Normalize(payload, current)
	require.NoError(t, err)
	assert.Equal(t, []string{"fee_schedule", "spread_model", "inventory"}, doc.Names())
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0], "no mechanisms key")
}

func TestNormalizeErrors(t *testing.T) {
	current := loadFixture(t)

	_, _, err := Normalize([]byte(`[1, 2]`), current)
	require.Error(t, err)
	errs, ok := AsSchemaErrors(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeSyntax, errs[0].Code)

	_, _, err = Normalize([]byte(`{"mechanisms": {"a": "not an object"}}`), current)
	require.Error(t, err)
	errs, ok = AsSchemaErrors(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNoMechanisms, errs[0].Code)
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a, err := Parse([]byte(`{"schema_version": 2, "champion_file": "x.sol", "mechanisms": {"m": {"parameters": {"a": 1, "b": 2}}}}`))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"mechanisms": {"m": {"parameters": {"b": 2, "a": 1}}}, "champion_file": "x.sol", "schema_version": 2}`))
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.Get("m").Parameters["b"] = 3
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}
