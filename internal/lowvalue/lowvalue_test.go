package lowvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLowValueExactMatch(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Task Completion"))
	assert.True(t, f.IsLowValue("  task completion  "))
}

func TestIsLowValuePrefixMatch(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Implemented the new caching layer"))
	assert.True(t, f.IsLowValue("Refactored the observation store"))
}

func TestIsLowValueContainsMatch(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("A quick note on code quality standards"))
	assert.True(t, f.IsLowValue("Noise Level Classification updated"))
}

func TestIsLowValueRealObservationsSurvive(t *testing.T) {
	f := Default(nil)
	assert.False(t, f.IsLowValue("Race condition in the worker claim loop under high concurrency"))
	assert.False(t, f.IsLowValue("Users cannot reset passwords when their email has uppercase letters"))
}

func TestIsLowValueRustfmtNightlyHeuristic(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Enabled rustfmt nightly formatting options"))
	assert.False(t, f.IsLowValue("Enabled rustfmt stable formatting options"))
}

func TestIsLowValueCommentHookHeuristic(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Added a pre-commit hook that strips comments"))
	assert.True(t, f.IsLowValue("Docstring generation hook wired into the build"))
	assert.False(t, f.IsLowValue("Added a pre-commit hook that runs tests"))
}

func TestIsLowValueRefinedHeuristic(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Refined the wording of the error message"))
	assert.False(t, f.IsLowValue("Refined the retry backoff logic"))
	assert.False(t, f.IsLowValue("Refined the scoring formula"))
}

func TestIsLowValueSearchHeuristic(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Search for usages yielded nothing useful"))
	assert.True(t, f.IsLowValue("Search for the config key failed"))
	assert.False(t, f.IsLowValue("Search index now supports fuzzy matching"))
}

func TestIsLowValueAgentHeuristic(t *testing.T) {
	f := Default(nil)
	assert.True(t, f.IsLowValue("Agent behavioral guidelines updated for this session"))
	assert.True(t, f.IsLowValue("Agent workflow protocol clarified"))
	assert.False(t, f.IsLowValue("Agent crashed when parsing malformed JSON"))
}

func TestFilterEnvPatternPrefix(t *testing.T) {
	f := Default([]string{"^my custom prefix"})
	assert.True(t, f.IsLowValue("My Custom Prefix thing happened"))
	assert.False(t, f.IsLowValue("unrelated custom prefix thing"))
}

func TestFilterEnvPatternExact(t *testing.T) {
	f := Default([]string{"=exact phrase only"})
	assert.True(t, f.IsLowValue("Exact Phrase Only"))
	assert.False(t, f.IsLowValue("an exact phrase only within more text"))
}

func TestFilterEnvPatternContains(t *testing.T) {
	f := Default([]string{"widget telemetry"})
	assert.True(t, f.IsLowValue("Recorded widget telemetry for this run"))
}

func TestFilterPatternsAreDeduped(t *testing.T) {
	f := Default([]string{"task completion", "task completion"})
	count := 0
	for _, v := range f.exact {
		if v == "task completion" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFilterNormalizesBeforeMatching(t *testing.T) {
	f := Default(nil)
	// Cyrillic confusable 'а' in "tаsk" should still normalize to ASCII before matching.
	assert.True(t, f.IsLowValue("Tаsk Completion"))
}
