package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Limits for user-supplied regex patterns in rule conditions
const (
	// MaxRegexLength is the maximum allowed pattern length
	MaxRegexLength = 500
	// maxAlternations is the maximum number of | alternations in a pattern
	maxAlternations = 50
	// maxRepetition is the maximum counted repetition, e.g. {999}
	maxRepetition = 999
)

// repetitionRe matches counted repetitions like {1000} or {10,2000}
var repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)

// ValidateRegexPattern validates a user-supplied regex pattern for safety
// before it is accepted into a rule. Go's RE2 engine cannot backtrack, but
// oversized or pathological patterns still burn CPU on every request, so
// they are rejected at the write boundary.
func ValidateRegexPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxRegexLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), MaxRegexLength)
	}
	if n := strings.Count(pattern, "|"); n > maxAlternations {
		return fmt.Errorf("too many alternations: %d (max %d)", n, maxAlternations)
	}
	for _, match := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		count, err := strconv.Atoi(match[1])
		if err == nil && count > maxRepetition {
			return fmt.Errorf("excessive repetition: %s (max %d)", match[0], maxRepetition)
		}
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

// CompilePattern validates and compiles a pattern. Unless caseSensitive is
// set, the pattern is compiled case-insensitively to match the engine's
// default string folding.
func CompilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if err := ValidateRegexPattern(pattern); err != nil {
		return nil, err
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	return re, nil
}
