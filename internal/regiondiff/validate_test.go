package regiondiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

const original = `pragma solidity ^0.8.0;

contract Strategy {
    uint256 public baseFee = 30;

    function computeFee(uint256 vol) external view returns (uint256) {
        uint256 fee = baseFee;
        if (vol > 100) {
            fee += 5;
        }
        return fee;
    }

    function computeSpread(uint256 depth) external pure returns (uint256) {
        return depth / 1000;
    }

    function rebalance() external {
        // inventory logic
    }
}
`

const definitions = `{
  "schema_version": 2,
  "mechanisms": {
    "fee": {
      "allowed_overlap_with": ["spread"],
      "anchors": [{"start": "function computeFee", "end": "return fee;", "after": 1}]
    },
    "spread": {
      "anchors": [{"start": "function computeSpread", "end": "    }"}]
    },
    "inventory": {
      "code_location": "lines 18-20",
      "anchors": [{"start": "function rebalance", "end": "    }"}]
    }
  }
}`

func testDoc(t *testing.T) *policy.Document {
	t.Helper()
	doc, err := policy.Parse([]byte(definitions))
	require.NoError(t, err)
	return doc
}

func edit(t *testing.T, src string, pairs ...string) string {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	for i := 0; i < len(pairs); i += 2 {
		require.Contains(t, src, pairs[i])
		src = strings.Replace(src, pairs[i], pairs[i+1], 1)
	}
	return src
}

func TestIdenticalCandidateNeverValidInStrictMode(t *testing.T) {
	doc := testDoc(t)
	for _, name := range doc.Names() {
		res := Validate(original, original, name, doc, ModeStrict)
		assert.False(t, res.Valid, name)
		assert.Equal(t, ReasonTargetUnchanged, res.Reason, name)
		assert.Empty(t, res.Hunks)
	}
}

func TestLenientModeDowngradesToWarnings(t *testing.T) {
	doc := testDoc(t)

	res := Validate(original, original, "fee", doc, ModeLenient)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.HasPrefix(res.Warnings[0], ReasonTargetUnchanged))

	cand := edit(t, original, "fee += 5", "fee += 7", "// inventory logic", "inventory = 0;")
	res = Validate(original, cand, "fee", doc, ModeLenient)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Equal(t, []string{"inventory"}, res.Violations)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), ReasonOverlapViolation)
}

func TestTargetOnlyChangeIsValid(t *testing.T) {
	cand := edit(t, original, "fee += 5", "fee += 7")

	res := Validate(original, cand, "fee", testDoc(t), ModeStrict)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"fee"}, res.Changed)
	assert.Equal(t, []Hunk{{OrigStart: 9, OrigEnd: 9, NewStart: 9, NewEnd: 9}}, res.Hunks)
}

func TestWhitespaceOnlyChangeIsUnchanged(t *testing.T) {
	cand := edit(t, original, "fee += 5;", "fee   +=   5;")

	res := Validate(original, cand, "fee", testDoc(t), ModeStrict)

	assert.False(t, res.Valid)
	assert.Equal(t, ReasonTargetUnchanged, res.Reason)
}

func TestOverlapViolation(t *testing.T) {
	cand := edit(t, original, "fee += 5", "fee += 7", "// inventory logic", "inventory = 0;")

	res := Validate(original, cand, "fee", testDoc(t), ModeStrict)

	assert.False(t, res.Valid)
	assert.Equal(t, ReasonOverlapViolation, res.Reason)
	assert.Equal(t, []string{"inventory"}, res.Violations)
	assert.Equal(t, []string{"fee", "inventory"}, res.Changed)
	assert.Contains(t, res.Detail, "inventory")
}

func TestAllowedOverlap(t *testing.T) {
	doc := testDoc(t)
	cand := edit(t, original, "fee += 5", "fee += 7", "depth / 1000", "depth / 900")

	res := Validate(original, cand, "fee", doc, ModeStrict)
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"fee", "spread"}, res.Changed)
	assert.Empty(t, res.Violations)

	// Overlap is directional: spread does not list fee.
	res = Validate(original, cand, "spread", doc, ModeStrict)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"fee"}, res.Violations)
}

func TestUnknownTarget(t *testing.T) {
	res := Validate(original, original+"\n", "ghost", testDoc(t), ModeLenient)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonUnknownMechanism, res.Reason)
}

func TestCandidateDriftIsExcludedFromOverlap(t *testing.T) {
	cand := edit(t, original, "fee += 5", "fee += 7", "function rebalance()", "function adjustInventory()")

	res := Validate(original, cand, "fee", testDoc(t), ModeStrict)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Violations)
	assert.Contains(t, res.Warnings, "anchor_drift: inventory anchors did not resolve on candidate")
}

func TestTargetDriftComparesWholeDocument(t *testing.T) {
	doc := testDoc(t)
	cand := edit(t, original, "function computeFee(", "function feeFor(")

	res := Validate(original, cand, "fee", doc, ModeStrict)

	assert.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[0], WarnTargetUnresolved))
	assert.Contains(t, res.Warnings[0], "candidate anchor_unresolved")
}

func TestUnscopedChangeWarning(t *testing.T) {
	cand := edit(t, original, "fee += 5", "fee += 7", "baseFee = 30", "baseFee = 31")

	res := Validate(original, cand, "fee", testDoc(t), ModeStrict)

	assert.True(t, res.Valid)
	assert.Equal(t, []string{"unscoped_change: lines 4"}, res.Warnings)
}

func TestValidateWildcard(t *testing.T) {
	res := ValidateWildcard(original, original)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonUnchanged, res.Reason)

	res = ValidateWildcard(original, edit(t, original, "baseFee = 30", "baseFee = 31", "depth / 1000", "depth / 10"))
	assert.True(t, res.Valid)
	assert.Len(t, res.Hunks, 2)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	m, err = ParseMode(" Lenient ")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, m)

	_, err = ParseMode("loose")
	assert.Error(t, err)
}
