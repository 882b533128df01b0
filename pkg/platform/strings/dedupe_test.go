package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "broker list with padding", input: []string{" k1:9092", "k2:9092 "}, expected: []string{"k1:9092", "k2:9092"}},
		{name: "repeats keep first position", input: []string{"k2:9092", "k1:9092", "k2:9092"}, expected: []string{"k2:9092", "k1:9092"}},
		{name: "blank entries from trailing separators", input: []string{"k1:9092", "", "   "}, expected: []string{"k1:9092"}},
		{name: "only blanks", input: []string{"", " "}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
