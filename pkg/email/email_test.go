package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ana@example.com", Normalize("  Ana@Example.COM "))
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ana@example.com", true},
		{"a.b+c@sub.example.org", true},
		{"", false},
		{"ana", false},
		{"@example.com", false},
		{"ana@example", false},
		{"ana@example.", false},
		{"ana@@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.in))
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ana.silva@example.com", "Ana Silva"},
		{"JOAO_pereira-2@example.com", "Joao Pereira"},
		{"ops+alerts@example.com", "Ops Alerts"},
		{"42@example.com", "User"},
		{"@example.com", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.in))
		})
	}
}
