package sanitizer

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterPrivateSimple(t *testing.T) {
	assert.Equal(t, "Hello  world", FilterPrivateContent("Hello <private>secret</private> world"))
}

func TestFilterPrivateMultiline(t *testing.T) {
	assert.Equal(t, "Start\n\nEnd", FilterPrivateContent("Start\n<private>\nSecret data\n</private>\nEnd"))
}

func TestFilterPrivateCaseInsensitive(t *testing.T) {
	assert.Equal(t, "Hello  world", FilterPrivateContent("Hello <PRIVATE>secret</PRIVATE> world"))
}

func TestFilterPrivateMultipleTags(t *testing.T) {
	assert.Equal(t, "A  B  C", FilterPrivateContent("A <private>x</private> B <private>y</private> C"))
}

func TestFilterPrivateNoTags(t *testing.T) {
	assert.Equal(t, "No private content here", FilterPrivateContent("No private content here"))
}

func TestFilterPrivateEmptyTag(t *testing.T) {
	assert.Equal(t, "Hello  world", FilterPrivateContent("Hello <private></private> world"))
}

func TestFilterPrivateNestedContent(t *testing.T) {
	assert.Equal(t, "Data  end", FilterPrivateContent("Data <private>API_KEY=sk-12345\nPASSWORD=hunter2</private> end"))
}

func TestFilterPrivateUnclosedTag(t *testing.T) {
	assert.Equal(t, "before ", FilterPrivateContent("before <private>leaked secret content"))
}

func TestFilterMemoryGlobal(t *testing.T) {
	input := "Normal text\n<memory-global>\n- [gotcha] Some memory\n- [decision] Another\n</memory-global>\nMore text"
	assert.Equal(t, "Normal text\n\nMore text", FilterInjectedMemory(input))
}

func TestFilterMemoryMultipleTags(t *testing.T) {
	input := "A <memory-global>x</memory-global> B <memory-project>y</memory-project> C"
	assert.Equal(t, "A  B  C", FilterInjectedMemory(input))
}

func TestFilterMemoryCaseInsensitive(t *testing.T) {
	assert.Equal(t, "Hello  world", FilterInjectedMemory("Hello <MEMORY-GLOBAL>data</MEMORY-GLOBAL> world"))
}

func TestFilterMemoryNoTags(t *testing.T) {
	assert.Equal(t, "No memory tags here", FilterInjectedMemory("No memory tags here"))
}

func TestFilterMemoryPreservesPrivateTags(t *testing.T) {
	input := "A <private>secret</private> B <memory-global>mem</memory-global> C"
	assert.Equal(t, "A <private>secret</private> B  C", FilterInjectedMemory(input))
}

func TestFilterMemoryUnclosedTagStripped(t *testing.T) {
	assert.Equal(t, "before ", FilterInjectedMemory("before <memory-global>leaked secret content"))
}

func TestFilterMemoryTagWithAttributesStripped(t *testing.T) {
	input := `before <memory-global class="injected">secret</memory-global> after`
	assert.Equal(t, "before  after", FilterInjectedMemory(input))
}

func TestFilterMemoryTagWithDataAttributeStripped(t *testing.T) {
	input := `<memory-project data-source="plugin">observations</memory-project> tail`
	assert.Equal(t, " tail", FilterInjectedMemory(input))
}

func TestFilterMemoryHyphenatedSuffixMatched(t *testing.T) {
	input := "<memory-global-v2>secret data</memory-global-v2> after"
	assert.Equal(t, " after", FilterInjectedMemory(input))
}

func TestFilterMemoryMultiHyphenSuffixMatched(t *testing.T) {
	input := "<memory-per-file-cache>data</memory-per-file-cache>"
	assert.Equal(t, "", FilterInjectedMemory(input))
}

func TestFilterMemoryNestedTagsPartialStrip(t *testing.T) {
	input := "<memory-global><memory-project>inner secret</memory-project></memory-global>"
	assert.Equal(t, "", FilterInjectedMemory(input))
}

func TestFilterMemoryNestedDifferentTypes(t *testing.T) {
	input := "head <memory-global>outer <memory-session>inner</memory-session> tail</memory-global> end"
	assert.Equal(t, "head  tail end", FilterInjectedMemory(input))
}

func TestFilterMemoryMismatchedTagsMatch(t *testing.T) {
	assert.Equal(t, "", FilterInjectedMemory("<memory-foo>content</memory-bar>"))
}

func TestFilterMemoryNumericSuffixMatched(t *testing.T) {
	assert.Equal(t, " rest", FilterInjectedMemory("<memory-v2>secret</memory-v2> rest"))
}

func TestFilterMemoryWhitespaceInTagStripped(t *testing.T) {
	assert.Equal(t, " after", FilterInjectedMemory("<memory-global >content</memory-global> after"))
}

func TestFilterMemoryNewlineInTagStripped(t *testing.T) {
	assert.Equal(t, " after", FilterInjectedMemory("<memory-global\n>content</memory-global> after"))
}

func TestFilterMemoryCodeDiscussionFalsePositive(t *testing.T) {
	// Known, documented false positive (spec.md §4.1): prose discussing the tag syntax is
	// stripped along with real injected blocks. Over-stripping is preferred to data leak.
	input := "The IDE uses <memory-global>...</memory-global> tags for injection."
	assert.Equal(t, "The IDE uses  tags for injection.", FilterInjectedMemory(input))
}

func TestFilterMemoryMarkdownCodeBlockFalsePositive(t *testing.T) {
	input := "Example:\n```\n<memory-global>example data</memory-global>\n```\nEnd"
	assert.Equal(t, "Example:\n```\n\n```\nEnd", FilterInjectedMemory(input))
}

func TestFilterMemoryLazyMatchDoesNotCrossBlocks(t *testing.T) {
	input := "<memory-global>a</memory-global> KEEP THIS <memory-project>b</memory-project>"
	assert.Equal(t, " KEEP THIS ", FilterInjectedMemory(input))
}

func TestFilterMemoryEmptyTag(t *testing.T) {
	assert.Equal(t, "before  after", FilterInjectedMemory("before <memory-global></memory-global> after"))
}

func TestFilterMemoryMixedCaseSuffix(t *testing.T) {
	assert.Equal(t, " rest", FilterInjectedMemory("<Memory-Global>content</Memory-Global> rest"))
}

func TestFilterMemoryUnderscoreSuffixMatched(t *testing.T) {
	assert.Equal(t, " rest", FilterInjectedMemory("<memory-per_project>data</memory-per_project> rest"))
}

func TestFilterMemoryMultipleUnclosedTagsStripped(t *testing.T) {
	input := "<memory-global>leak1 <memory-project>leak2 <memory-session>leak3"
	assert.Equal(t, "", FilterInjectedMemory(input))
}

func TestFilterMemoryOrphanedCloseTag(t *testing.T) {
	assert.Equal(t, "before  after", FilterInjectedMemory("before </memory-global> after"))
}

func TestSanitizeCompositionNestedMemoryStrip(t *testing.T) {
	// §8.4 seed scenario 3.
	input := "<memory-global><memory-project>secret</memory-project></memory-global> KEEP"
	assert.Equal(t, " KEEP", Sanitize(input))

	input2 := "<memory-global>a</memory-global> KEEP <memory-project>b</memory-project>"
	assert.Equal(t, " KEEP ", Sanitize(input2))
}

func TestSanitizeUnclosedTagTruncationSafety(t *testing.T) {
	// §8.4 seed scenario 4.
	assert.Equal(t, "before ", Sanitize("before <private>leaked"))
	assert.Equal(t, "before ", Sanitize("before <memory-global>leaked"))
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"<private>x</private>",
		"<memory-global><memory-project>x</memory-project></memory-global>",
		"plain text",
		"before <private>unterminated",
		"</private> orphan close",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		assert.Equal(t, once, twice, "sanitize should be idempotent for %q", in)
	}
}

func TestSanitizeLeavesNoTagSubstrings(t *testing.T) {
	openTag := regexp.MustCompile(`(?i)<(private|memory-[\w-]+)[^>]*>`)
	closeTag := regexp.MustCompile(`(?i)</(private|memory-[\w-]+)>`)

	inputs := []string{
		"<private>x</private> and <memory-global>y</memory-global>",
		"<memory-global><memory-project>x</memory-project></memory-global>",
		"</private> </memory-foo>",
		"<private class=\"x\">leaked",
	}
	for _, in := range inputs {
		out := Sanitize(in)
		assert.False(t, openTag.MatchString(out), "leaked open tag in %q -> %q", in, out)
		assert.False(t, closeTag.MatchString(out), "leaked close tag in %q -> %q", in, out)
	}
}

func TestSanitizeLinearInInputLength(t *testing.T) {
	// ReDoS guard (§8.1): time(2n) should not blow up relative to time(n). Go's RE2-based
	// regexp engine makes this true unconditionally, but the test still asserts the bound.
	n := strings.Repeat("x", 500_000)
	twoN := strings.Repeat("x", 1_000_000)

	inputN := fmt.Sprintf("<memory-global>%s</memory-global>", n)
	input2N := fmt.Sprintf("<memory-global>%s</memory-global>", twoN)

	start := time.Now()
	FilterInjectedMemory(inputN)
	tN := time.Since(start)

	start = time.Now()
	FilterInjectedMemory(input2N)
	t2N := time.Since(start)

	assert.Less(t, t2N, 3*tN+10*time.Millisecond, "doubling input size should not triple+ runtime")
	assert.Less(t, t2N, 2*time.Second)
}
