// Package lowvalue implements the cheap pre-LLM title rejector (C10).
package lowvalue

import (
	"sort"
	"strings"

	"github.com/thebtf/memengine/pkg/models"
)

var baseContains = []string{
	"code edits", "code quality", "code review", "compilation ", "component frequency",
	"documentation index", "edit applied", "file edit applied successfully",
	"keyword frequency", "knowledge index", "marked as completed", "memory classification",
	"memory storage classification", "no significant", "noise level classification",
	"standardized ", "successful file edit", "task completion signal", "term frequency",
	"test execution", "tool call observed", "tool execution",
}

var basePrefixes = []string{
	"active ", "added ", "agentic ", "analyzed ", "application ", "applied ", "architectural ",
	"audit of ", "backend ", "broken ", "build ", "centralizing ", "checked ",
	"cleanup ", "connectivity check", "closed ", "codebase ", "committed ", "completed ",
	"comprehensive ", "confirmed ", "created ", "definition ", "delegated ", "deleted ",
	"deployment ", "detected ", "development ", "discovery of ", "discovered ", "documented ",
	"draft ", "established ", "evolution ", "enhancement plan ", "examined ", "explored ",
	"executed ", "extracted ", "fetched ", "finished ", "found ", "frequency ", "frontend ",
	"generated ", "identification ", "identified ", "implemented ", "implementing ",
	"improved ", "index of ", "initiated ", "inspected ", "integrated ", "inventory of ",
	"launched ", "linter ", "linting ", "list of ", "located ", "location ", "mandatory ",
	"manual ", "map of ", "mapping of ", "marked ", "merged ", "migrated ", "modified ",
	"module ", "moved ", "multiple ", "new ", "observed ", "opened ", "overview of ",
	"pending ", "planned ", "planning ", "progress ", "prohibition ", "pulled ", "pushed ",
	"ran ", "read ", "recent ", "refactored ", "refactoring ", "refactor plan", "removed ",
	"renamed ", "resolved ", "retrieved ", "roadmap for ", "roadmap: ", "robust ", "routine ",
	"scanned ", "shared ", "started ", "status ", "stopped ", "strategy for ", "structure ",
	"successful ", "summary of ", "syntax error", "task list ", "task progress",
	"task status", "tracking ", "transition ", "updated ", "verification ", "verified ",
	"wip: ", "workflow ", "wrote ",
}

var baseExact = []string{"task completion"}

// Filter matches a normalized title against exact, prefix, and substring lists.
type Filter struct {
	exact    []string
	prefixes []string
	contains []string
}

// Default builds the Filter from the compile-time default lists plus the env-configured
// extra patterns passed in (caller resolves MEM_FILTER_PATTERNS from config).
func Default(extraPatterns []string) *Filter {
	f := &Filter{
		exact:    append([]string(nil), baseExact...),
		prefixes: append([]string(nil), basePrefixes...),
		contains: append([]string(nil), baseContains...),
	}
	for _, p := range extraPatterns {
		f.addPattern(p)
	}
	f.dedup()
	return f
}

// addPattern classifies one raw pattern token: `^`-prefixed is a prefix match, `=`-prefixed
// is an exact match, anything else is a substring match.
func (f *Filter) addPattern(raw string) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return
	}
	switch token[0] {
	case '^':
		if v := strings.TrimSpace(token[1:]); v != "" {
			f.prefixes = append(f.prefixes, v)
		}
	case '=':
		if v := strings.TrimSpace(token[1:]); v != "" {
			f.exact = append(f.exact, v)
		}
	default:
		f.contains = append(f.contains, token)
	}
}

func (f *Filter) dedup() {
	f.exact = sortDedup(f.exact)
	f.prefixes = sortDedup(f.prefixes)
	f.contains = sortDedup(f.contains)
}

func sortDedup(list []string) []string {
	sort.Strings(list)
	out := list[:0]
	var last string
	first := true
	for _, v := range list {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

// Matches reports whether the normalized title t hits any of the exact, prefix, or
// substring lists, in that priority order.
func (f *Filter) Matches(t string) bool {
	for _, v := range f.exact {
		if t == v {
			return true
		}
	}
	for _, v := range f.prefixes {
		if strings.HasPrefix(t, v) {
			return true
		}
	}
	for _, v := range f.contains {
		if strings.Contains(t, v) {
			return true
		}
	}
	return false
}

// IsLowValue evaluates the hard-coded composite heuristics before falling back to the list
// match, matching the original's rule ordering exactly.
func (f *Filter) IsLowValue(title string) bool {
	t := models.NormalizeTitleForFiltering(title)

	if strings.Contains(t, "rustfmt") && strings.Contains(t, "nightly") {
		return true
	}
	if (strings.Contains(t, "comment") || strings.Contains(t, "docstring")) && strings.Contains(t, "hook") {
		return true
	}
	if strings.HasPrefix(t, "refined ") && !strings.Contains(t, "logic") && !strings.Contains(t, "formula") {
		return true
	}
	if strings.HasPrefix(t, "search ") &&
		(strings.Contains(t, "results") || strings.Contains(t, "failed") || strings.Contains(t, "yielded")) {
		return true
	}
	if strings.HasPrefix(t, "agent ") && containsAny(t,
		"rules", "protocol", "guidelines", "doctrine", "principles",
		"behavioral", "operational", "workflow", "persona") {
		return true
	}

	return f.Matches(t)
}

func containsAny(t string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
