package regiondiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineHunks(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want []Hunk
	}{
		{"identical", "a\nb\n", "a\nb\n", nil},
		{"replace", "a\nb\nc\n", "a\nB\nc\n", []Hunk{{OrigStart: 2, OrigEnd: 2, NewStart: 2, NewEnd: 2}}},
		{"insert", "a\nb\n", "a\nx\nb\n", []Hunk{{OrigStart: 2, OrigEnd: 1, NewStart: 2, NewEnd: 2}}},
		{"delete", "a\nb\nc\n", "a\nc\n", []Hunk{{OrigStart: 2, OrigEnd: 2, NewStart: 2, NewEnd: 1}}},
		{"two blocks", "a\nb\nc\nd\ne\n", "A\nb\nc\nd\nE\n", []Hunk{
			{OrigStart: 1, OrigEnd: 1, NewStart: 1, NewEnd: 1},
			{OrigStart: 5, OrigEnd: 5, NewStart: 5, NewEnd: 5},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LineHunks(tt.a, tt.b))
		})
	}
}

func TestHunkInsertion(t *testing.T) {
	assert.True(t, Hunk{OrigStart: 3, OrigEnd: 2}.Insertion())
	assert.False(t, Hunk{OrigStart: 3, OrigEnd: 3}.Insertion())
}
