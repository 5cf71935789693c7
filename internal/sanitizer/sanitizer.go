// Package sanitizer strips private blocks and injected-memory blocks from tool-call text
// before it reaches the LLM judge (C1).
package sanitizer

import (
	"regexp"

	"github.com/thebtf/memengine/internal/privacy"
)

// privateTagRegex matches a well-formed <private ...>...</private> block, lazily so nested
// blocks are stripped inside-out across repeated passes rather than in one greedy match.
var privateTagRegex = regexp.MustCompile(`(?is)<private(?:>|\s[^>]*>).*?</private>`)

// privateUnclosedRegex strips from an opening <private> tag to end-of-input when no closing
// tag is present, the truncation-safety pass.
var privateUnclosedRegex = regexp.MustCompile(`(?is)<private(?:>|\s[^>]*>).*$`)

// privateOrphanCloseRegex removes a stray </private> left behind once nested stripping
// reaches fixpoint.
var privateOrphanCloseRegex = regexp.MustCompile(`(?i)</private>`)

// memoryTagRegex matches <memory-*>...</memory-*> blocks, accepting hyphenated, underscored,
// and alphanumeric suffixes (memory-global, memory-per-file-cache, memory-v2).
var memoryTagRegex = regexp.MustCompile(`(?is)<memory-[\w-]+(?:>|\s[^>]*>).*?</memory-[\w-]+>`)

var memoryUnclosedRegex = regexp.MustCompile(`(?is)<memory-[\w-]+(?:>|\s[^>]*>).*$`)

var memoryOrphanCloseRegex = regexp.MustCompile(`(?i)</memory-[\w-]+>`)

// FilterPrivateContent strips every well-formed, nested, and truncated <private> block.
// Go's regexp package is RE2-based: matching is guaranteed linear in input length with no
// backtracking, which satisfies the O(n) / non-backtracking requirement directly rather
// than needing a hand-rolled depth-counted scanner.
func FilterPrivateContent(text string) string {
	result := text
	for {
		next := privateTagRegex.ReplaceAllString(result, "")
		if next == result {
			break
		}
		result = next
	}
	result = privateUnclosedRegex.ReplaceAllString(result, "")
	return privateOrphanCloseRegex.ReplaceAllString(result, "")
}

// FilterInjectedMemory strips every well-formed, nested, and truncated <memory-*> block.
func FilterInjectedMemory(text string) string {
	result := text
	for {
		next := memoryTagRegex.ReplaceAllString(result, "")
		if next == result {
			break
		}
		result = next
	}
	result = memoryUnclosedRegex.ReplaceAllString(result, "")
	return memoryOrphanCloseRegex.ReplaceAllString(result, "")
}

// Sanitize is the fixed composition order: filter_injected_memory, then
// filter_private_content, then secret redaction. The tag filters run first — the private
// filter must run on the post-memory-stripped text so a legitimate <private> block that
// happens to sit inside an injected memory block the judge should never see is not given a
// chance to leak separately — and redaction runs last so it also catches any secret left
// sitting in the open after both tag filters have run (an API key typed outside any tag at
// all is exactly what reaches the judge/store otherwise).
func Sanitize(text string) string {
	return privacy.RedactSecrets(FilterPrivateContent(FilterInjectedMemory(text)))
}
