package mapping

import (
	"path"
	"strings"
)

// Rule maps a source directory prefix to a destination directory prefix.
// Both sides are clean, slash-separated paths relative to the source tree
// and the project root respectively.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Mapper translates source-relative paths to destination-relative paths
// using an ordered rule table. It is stateless; rules are data.
type Mapper struct {
	rules []Rule
}

// NewMapper creates a Mapper from the given rules. Rule paths are cleaned
// so that "agents/" and "agents" behave identically.
func NewMapper(rules []Rule) *Mapper {
	cleaned := make([]Rule, 0, len(rules))
	for _, r := range rules {
		cleaned = append(cleaned, Rule{
			From: path.Clean(strings.TrimSuffix(r.From, "/")),
			To:   path.Clean(strings.TrimSuffix(r.To, "/")),
		})
	}
	return &Mapper{rules: cleaned}
}

// Map returns the destination-relative path for a source-relative path.
// The longest matching From prefix wins; ties are broken by declaration
// order. Returns ok=false for paths no rule covers.
func (m *Mapper) Map(srcPath string) (string, bool) {
	srcPath = path.Clean(srcPath)

	best := -1
	bestLen := -1
	for i, r := range m.rules {
		if !matchesPrefix(srcPath, r.From) {
			continue
		}
		if len(r.From) > bestLen {
			best = i
			bestLen = len(r.From)
		}
	}
	if best < 0 {
		return "", false
	}

	r := m.rules[best]
	if srcPath == r.From {
		return r.To, true
	}
	return path.Join(r.To, strings.TrimPrefix(srcPath, r.From+"/")), true
}

// IsMapped returns true if any rule covers the given source path.
func (m *Mapper) IsMapped(srcPath string) bool {
	_, ok := m.Map(srcPath)
	return ok
}

// DestRoots returns the distinct destination prefixes in rule order.
// Used to scope orphan scans to directories this tool manages.
func (m *Mapper) DestRoots() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, r := range m.rules {
		if !seen[r.To] {
			seen[r.To] = true
			roots = append(roots, r.To)
		}
	}
	return roots
}

// matchesPrefix reports whether p equals prefix or lives underneath it.
// Matching is segment-aware: "agentsmith/x" does not match "agents".
func matchesPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
