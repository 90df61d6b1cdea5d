package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb"))
	assert.Equal(t, []string{"a", ""}, SplitLines("a\n\n"))
}

func TestExtractText(t *testing.T) {
	src := "one\ntwo\nthree\nfour\n"
	assert.Equal(t, "two\nthree", ExtractText(src, []Span{{Start: 2, End: 3}}))
	assert.Equal(t, "one\nfour", ExtractText(src, []Span{{Start: 1, End: 1}, {Start: 4, End: 9}}))
	assert.Equal(t, "", ExtractText(src, nil))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a = b + c;", Normalize("  a  =\tb\n   + c;  \n"))
	assert.Equal(t, Normalize("x = 1;\n"), Normalize("x   =   1;"))
	assert.NotEqual(t, Normalize("x = 1;"), Normalize("x = 2;"))
}

func TestParseLineRanges(t *testing.T) {
	tests := []struct {
		in   string
		want []Span
	}{
		{"lines 40-62", []Span{{40, 62}}},
		{"lines 40-62, 80-91", []Span{{40, 62}, {80, 91}}},
		{"line 12", []Span{{12, 12}}},
		{"lines 20 to 10", []Span{{10, 20}}},
		{"0-3", []Span{{1, 3}}},
		{"L5..L9", []Span{{5, 5}, {9, 9}}},
		{"", nil},
		{"near the top", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLineRanges(tt.in))
		})
	}
}

func TestMerge(t *testing.T) {
	assert.Nil(t, Merge(nil))
	assert.Equal(t, []Span{{1, 5}}, Merge([]Span{{3, 5}, {1, 2}}))
	assert.Equal(t, []Span{{1, 6}}, Merge([]Span{{1, 2}, {4, 6}}))
	assert.Equal(t, []Span{{1, 2}, {5, 6}}, Merge([]Span{{5, 6}, {1, 2}}))
	assert.Equal(t, []Span{{1, 10}}, Merge([]Span{{1, 10}, {2, 3}}))
}
