// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PlaylistRule maps a meeting-title pattern onto the environment variable
// holding the target playlist identifier. Rules are evaluated in order and
// every matching rule with a non-empty identifier contributes.
type PlaylistRule struct {
	Pattern string `yaml:"pattern"` // case-insensitive regular expression
	Env     string `yaml:"env"`     // e.g. "PLAYLIST_CITY_COMMISSION"

	re *regexp.Regexp
}

// DefaultPlaylistRules is the built-in rule table, used when no rules file
// is configured.
var DefaultPlaylistRules = []PlaylistRule{
	{Pattern: `^City Commission`, Env: "PLAYLIST_CITY_COMMISSION"},
	{Pattern: `^General Policy Committee`, Env: "PLAYLIST_GENERAL_POLICY"},
	{Pattern: `^Planning Board`, Env: "PLAYLIST_PLANNING_BOARD"},
	{Pattern: `Budget`, Env: "PLAYLIST_BUDGET"},
}

// LoadPlaylistRules reads an ordered rule table from a YAML file, falling
// back to DefaultPlaylistRules when path is empty. Every pattern is compiled
// case-insensitively; a bad pattern fails the load.
func LoadPlaylistRules(path string) ([]PlaylistRule, error) {
	rules := DefaultPlaylistRules
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read playlist rules: %w", err)
		}
		var loaded []PlaylistRule
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse playlist rules: %w", err)
		}
		rules = loaded
	}

	compiled := make([]PlaylistRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("playlist rule %q: %w", r.Pattern, err)
		}
		r.re = re
		compiled = append(compiled, r)
	}
	return compiled, nil
}

// Matches reports whether the rule's pattern matches the meeting title.
func (r *PlaylistRule) Matches(title string) bool {
	return r.re != nil && r.re.MatchString(title)
}

// ResolvePlaylists returns the playlist identifiers for a meeting title:
// for each rule in order whose pattern matches and whose environment value
// is non-empty, that value is appended. getenv is injectable for tests;
// pass os.Getenv in production.
func ResolvePlaylists(rules []PlaylistRule, title string, getenv func(string) string) []string {
	var ids []string
	for i := range rules {
		if !rules[i].Matches(title) {
			continue
		}
		if id := getenv(rules[i].Env); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
