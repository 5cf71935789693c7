package judge

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/memengine/pkg/models"
)

// responseJSON is the wire shape the judge's prompt asks the model to emit.
type responseJSON struct {
	Action          string   `json:"action"`
	TargetID        string   `json:"target_id"`
	SkipReason      string   `json:"skip_reason"`
	NoiseLevel      string   `json:"noise_level"`
	NoiseReason     string   `json:"noise_reason"`
	ObservationType string   `json:"type"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle"`
	Narrative       string   `json:"narrative"`
	Facts           []string `json:"facts"`
	Concepts        []string `json:"concepts"`
	FilesRead       []string `json:"files_read"`
	FilesModified   []string `json:"files_modified"`
	Keywords        []string `json:"keywords"`
}

// stripMarkdownFence removes a ```json ... ``` or ``` ... ``` wrapper if present.
func stripMarkdownFence(content string) string {
	content = strings.TrimSpace(content)
	for _, prefix := range []string{"```json", "```"} {
		if rest, ok := strings.CutPrefix(content, prefix); ok {
			if end := strings.LastIndex(rest, "```"); end >= 0 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}
	return content
}

// parseResponse turns the raw judge response into a CompressionResult, applying the
// hallucination guard, noise-level defaulting, and skip-before-noise-check ordering §4.4
// requires.
func parseResponse(raw, sessionID string, candidates []models.Candidate) (*models.CompressionResult, error) {
	stripped := stripMarkdownFence(raw)

	var resp responseJSON
	if err := json.Unmarshal([]byte(stripped), &resp); err != nil {
		preview := raw
		if len(preview) > 300 {
			preview = preview[:300]
		}
		return nil, &JSONParseError{Context: "observation response (content: " + preview + ")", Err: err}
	}

	action := strings.ToLower(strings.TrimSpace(resp.Action))

	if action == "skip" {
		reason := resp.SkipReason
		if reason == "" {
			reason = resp.NoiseReason
		}
		if reason == "" {
			reason = "LLM decided to skip"
		}
		log.Info().Str("reason", reason).Msg("judge action: skip")
		return &models.CompressionResult{Action: models.ActionSkip, SkipReason: reason}, nil
	}

	noiseLevel, defaulted := models.ParseNoiseLevel(resp.NoiseLevel)
	if defaulted {
		log.Warn().Str("invalid_level", resp.NoiseLevel).Msg("judge returned unknown noise level, defaulting")
	}
	if noiseLevel == models.NoiseNegligible {
		reason := resp.NoiseReason
		if reason == "" {
			reason = "negligible noise level"
		}
		return &models.CompressionResult{Action: models.ActionSkip, SkipReason: reason}, nil
	}

	var concepts models.JSONStringArray
	for _, c := range resp.Concepts {
		if parsed, ok := models.ParseConcept(c); ok {
			concepts = append(concepts, string(parsed))
		}
	}

	obsType, err := models.ParseObservationType(resp.ObservationType)
	if err != nil {
		return nil, &MissingFieldError{Msg: "invalid observation type '" + resp.ObservationType + "': " + err.Error()}
	}

	obs := models.NewObservation(sessionID, "", obsType, resp.Title)
	obs.Subtitle.String, obs.Subtitle.Valid = resp.Subtitle, resp.Subtitle != ""
	obs.Narrative.String, obs.Narrative.Valid = resp.Narrative, resp.Narrative != ""
	obs.Facts = models.JSONStringArray(resp.Facts)
	obs.Concepts = concepts
	obs.FilesRead = models.JSONStringArray(resp.FilesRead)
	obs.FilesModified = models.JSONStringArray(resp.FilesModified)
	obs.Keywords = models.JSONStringArray(resp.Keywords)
	obs.NoiseLevel = noiseLevel
	obs.NoiseReason = resp.NoiseReason

	if action == "update" {
		if resp.TargetID != "" && candidateIDs(candidates)[resp.TargetID] {
			return &models.CompressionResult{Action: models.ActionUpdate, TargetID: resp.TargetID, Observation: obs}, nil
		}
		log.Warn().Str("target_id", resp.TargetID).Msg("judge returned update with target_id not in candidate set, treating as create")
	} else if action != "create" {
		log.Warn().Str("action", action).Msg("judge returned unrecognized action, treating as create")
	}

	return &models.CompressionResult{Action: models.ActionCreate, Observation: obs}, nil
}

// summaryJSON is the wire shape the session-completion prompt asks the model to emit.
type summaryJSON struct {
	Request      string   `json:"request"`
	Investigated string   `json:"investigated"`
	Learned      string   `json:"learned"`
	Completed    string   `json:"completed"`
	NextSteps    string   `json:"next_steps"`
	Notes        string   `json:"notes"`
	FilesRead    []string `json:"files_read"`
	FilesEdited  []string `json:"files_edited"`
}

// parseSummaryResponse turns the raw session-completion reply into a SessionSummary.
func parseSummaryResponse(raw, sessionID string) (*models.SessionSummary, error) {
	stripped := stripMarkdownFence(raw)

	var resp summaryJSON
	if err := json.Unmarshal([]byte(stripped), &resp); err != nil {
		preview := raw
		if len(preview) > 300 {
			preview = preview[:300]
		}
		return nil, &JSONParseError{Context: "session summary response (content: " + preview + ")", Err: err}
	}

	return &models.SessionSummary{
		SessionID:    sessionID,
		Request:      resp.Request,
		Investigated: resp.Investigated,
		Learned:      resp.Learned,
		Completed:    resp.Completed,
		NextSteps:    resp.NextSteps,
		Notes:        resp.Notes,
		FilesRead:    models.JSONStringArray(resp.FilesRead),
		FilesEdited:  models.JSONStringArray(resp.FilesEdited),
	}, nil
}

func candidateIDs(candidates []models.Candidate) map[string]bool {
	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ID] = true
	}
	return ids
}
