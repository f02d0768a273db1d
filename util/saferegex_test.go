package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRegexPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr string
	}{
		{"simple pattern", `^bot-\d+$`, ""},
		{"empty pattern", "", "cannot be empty"},
		{"too long", strings.Repeat("a", MaxRegexLength+1), "too long"},
		{"too many alternations", strings.Repeat("a|", 51) + "b", "too many alternations"},
		{"excessive repetition", `a{5000}`, "excessive repetition"},
		{"bounded repetition within limit", `a{100,500}`, ""},
		{"excessive lower bound", `a{1000,}`, "excessive repetition"},
		{"syntactically invalid", `([unclosed`, "invalid regex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegexPattern(tt.pattern)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompilePattern_CaseFolding(t *testing.T) {
	insensitive, err := CompilePattern(`^scraper`, false)
	require.NoError(t, err)
	assert.True(t, insensitive.MatchString("ScraperBot"))

	sensitive, err := CompilePattern(`^scraper`, true)
	require.NoError(t, err)
	assert.False(t, sensitive.MatchString("ScraperBot"))
	assert.True(t, sensitive.MatchString("scraperbot"))
}

func TestCompilePattern_RejectsInvalid(t *testing.T) {
	_, err := CompilePattern(`([`, false)
	assert.Error(t, err)
}
