package judge

import (
	"fmt"
	"strings"

	"github.com/thebtf/memengine/pkg/models"
)

const maxOutputLen = 2000

type typeDescription struct {
	Type        models.ObservationType
	Description string
}

var typeDescriptions = []typeDescription{
	{models.ObsTypeGotcha, "Something that broke, surprised you, or behaved unexpectedly."},
	{models.ObsTypeBugfix, "A bug was found and fixed, with a clear root cause."},
	{models.ObsTypeDecision, "An architectural or design decision was made, with a clear rationale."},
	{models.ObsTypeFeature, "(critical only) A significant new capability was completed."},
	{models.ObsTypeRefactor, "Code structure was changed without altering external behavior."},
	{models.ObsTypeChange, "A general code change that is not a bugfix or a feature."},
	{models.ObsTypeDiscovery, "Learning how existing code or an external API works."},
	{models.ObsTypePreference, "User explicitly requested a specific way of doing things."},
}

// buildCompressionPrompt assembles the judge prompt: tool context, the closed type
// enumeration with descriptions, candidate observations for dedup context, the noise-level
// guide, and the JSON schema the model must emit.
func buildCompressionPrompt(tool, title, output string, candidates []models.Candidate) string {
	var types strings.Builder
	for i, td := range typeDescriptions {
		fmt.Fprintf(&types, "%d. %s: %s\n", i+1, strings.ToUpper(string(td.Type)), td.Description)
	}

	var existingContext string
	if len(candidates) == 0 {
		existingContext = "\n\nThere are no existing observations. You MUST use action: \"create\"."
	} else {
		var entries strings.Builder
		for i, c := range candidates {
			preview := c.NarrativePreview
			if len(preview) > 200 {
				preview = preview[:200]
			}
			fmt.Fprintf(&entries, "[%d] id=\"%s\" title=\"%s\" | %s\n", i+1, c.ID, c.Title, preview)
		}
		existingContext = fmt.Sprintf(`

EXISTING OBSERVATIONS (potentially related):
%s
DECISION (MANDATORY — choose exactly one):
- If this is genuinely NEW knowledge not covered by any existing observation -> action: "create"
- If this REFINES or ADDS TO an existing observation above -> action: "update", target_id: "<id of the observation to update>"
- If this adds ZERO new information beyond what already exists -> action: "skip"`, entries.String())
	}

	schema := buildJSONSchemaDescription(len(candidates) > 0)

	return fmt.Sprintf(`You are a STRICT memory filter. Your job is to decide if this tool output contains a LESSON WORTH REMEMBERING across sessions.

Tool: %s
Output Title: %s
Output Content: %s

ONLY SAVE observations that match ONE of these categories:

%s
EVERYTHING ELSE IS NEGLIGIBLE. Specifically, ALWAYS mark as negligible:
- Reading/writing files (routine work, not a lesson)
- Code structure descriptions ("module X exports Y") - that's what code is for
- Build/test output (pass or fail)
- Status updates, progress reports, task lists
- Metadata about the system itself ("database has N records")

THE DEFAULT IS NEGLIGIBLE. When in doubt, discard. Only save what would genuinely help a future agent avoid a mistake or understand a non-obvious decision.
%s
NOISE LEVEL GUIDE (5 levels):
- "critical": Production outage, data loss, security vulnerability, core architectural decision that affects the entire system.
- "high": Important bugfix with root cause analysis, significant gotcha that saves hours of debugging, architectural decision with clear tradeoffs.
- "medium": Useful operational gotcha, minor bugfix, routine feature completion with a non-obvious implementation detail.
- "low": Marginally useful context. Configuration tweak, minor optimization, environment-specific workaround.
- "negligible": Routine work, generic knowledge available in docs, file edits, build output, status updates, duplicates. DISCARD.

%s`, tool, title, truncate(output, maxOutputLen), types.String(), existingContext, schema)
}

// buildSummaryPrompt assembles the session-completion prompt from the session's saved
// observation titles and raw events, asking for the structured SessionSummary fields.
func buildSummaryPrompt(observationTitles, rawEventLines []string) string {
	obsSection := "(none recorded)"
	if len(observationTitles) > 0 {
		obsSection = "- " + strings.Join(observationTitles, "\n- ")
	}
	eventSection := "(none recorded)"
	if len(rawEventLines) > 0 {
		eventSection = "- " + strings.Join(rawEventLines, "\n- ")
	}

	return fmt.Sprintf(`Summarize this completed coding session for a future reader who was not present.

OBSERVATIONS SAVED DURING THE SESSION:
%s

RAW ACTIVITY LOG:
%s

Return JSON:
- request: what the user originally asked for, one sentence
- investigated: what was explored or read to understand the problem
- learned: the key lessons or discoveries, if any
- completed: what was actually finished
- next_steps: what remains, or "" if nothing remains
- notes: anything else worth recording, or ""
- files_read: file paths read during the session
- files_edited: file paths changed during the session`, obsSection, eventSection)
}

func buildJSONSchemaDescription(hasCandidates bool) string {
	allTypes := joinTypes()
	allNoise := "critical, high, medium, low, negligible"
	allConcepts := "how_it_works, why_it_exists, what_changed, problem_solution, gotcha, pattern, trade_off"

	if !hasCandidates {
		return fmt.Sprintf(`Return JSON:
- action: "create"
- noise_level: one of [%s]
- noise_reason: why this is/isn't worth remembering (max 100 chars)
- type: one of [%s]
- title: the lesson learned (max 80 chars, must be a complete statement of fact)
- subtitle: project/context this applies to
- narrative: the full lesson - what happened, why, and what to do differently
- facts: specific actionable facts (file paths, commands, error messages)
- concepts: from [%s]
- files_read: file paths involved
- files_modified: file paths changed
- keywords: search terms`, allNoise, allTypes, allConcepts)
	}
	return fmt.Sprintf(`Return JSON:
- action: one of "create", "update", "skip"
- target_id: id of existing observation to update (required if action is "update")
- skip_reason: why this should be skipped (required if action is "skip")
- noise_level: one of [%s]
- noise_reason: why this is/isn't worth remembering (max 100 chars)
- type: one of [%s]
- title: the lesson learned (max 80 chars, must be a complete statement of fact)
- subtitle: project/context this applies to
- narrative: the full lesson - what happened, why, and what to do differently
- facts: specific actionable facts (file paths, commands, error messages)
- concepts: from [%s]
- files_read: file paths involved
- files_modified: file paths changed
- keywords: search terms`, allNoise, allTypes, allConcepts)
}

func joinTypes() string {
	parts := make([]string, len(models.AllObservationTypes))
	for i, t := range models.AllObservationTypes {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneBoundary(s, cut) {
		cut--
	}
	return s[:cut]
}

func isRuneBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || (s[i]&0xC0) != 0x80
}
