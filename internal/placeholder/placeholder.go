// Package placeholder expands run-scoped tokens in step code.
package placeholder

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	TokenTaskID    = "{task_id}"
	TokenVersionID = "{version_id}"
	TokenPeriod    = "{current_year_month}"
)

// Context carries the values bound to the canonical tokens.
type Context struct {
	TaskID    string
	VersionID uint
	Period    string // YYYY-MM
}

var tokenPattern = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Expand replaces exactly the canonical tokens. Any other brace token,
// including look-alikes such as {period}, stays literal.
func Expand(code string, c Context) string {
	r := strings.NewReplacer(
		TokenTaskID, c.TaskID,
		TokenVersionID, strconv.FormatUint(uint64(c.VersionID), 10),
		TokenPeriod, c.Period,
	)
	return r.Replace(code)
}

// Tokens lists the distinct brace tokens in code in order of first appearance.
func Tokens(code string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenPattern.FindAllString(code, -1) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// Unresolved returns the tokens Expand leaves untouched.
func Unresolved(code string) []string {
	var out []string
	for _, tok := range Tokens(code) {
		switch tok {
		case TokenTaskID, TokenVersionID, TokenPeriod:
		default:
			out = append(out, tok)
		}
	}
	return out
}
