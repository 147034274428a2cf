package errors

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		message string
		max     int
		want    string
	}{
		{name: "short", message: "jam", max: 10, want: "jam"},
		{name: "exact", message: "jam", max: 3, want: "jam"},
		{name: "ascii cut", message: "paper jam", max: 5, want: "paper"},
		{name: "backs off a split rune", message: "ab€cd", max: 4, want: "ab"},
		{name: "keeps a whole rune", message: "ab€cd", max: 5, want: "ab€"},
		{name: "zero", message: "jam", max: 0, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Truncate(tc.message, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTruncateMultibyteBoundaryAtLimit(t *testing.T) {
	reason := strings.Repeat("a", 499) + "ñ" + "tail"
	got := Truncate(reason, 500)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 499), got)
}
