// Package models contains the domain types persisted and exchanged by the memory engine.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
	"golang.org/x/text/unicode/norm"
)

// ObservationType is the tagged variant describing what kind of tool-call outcome an
// observation captures.
type ObservationType string

const (
	ObsTypeBugfix     ObservationType = "bugfix"
	ObsTypeFeature    ObservationType = "feature"
	ObsTypeRefactor   ObservationType = "refactor"
	ObsTypeChange     ObservationType = "change"
	ObsTypeDiscovery  ObservationType = "discovery"
	ObsTypeDecision   ObservationType = "decision"
	ObsTypeGotcha     ObservationType = "gotcha"
	ObsTypePreference ObservationType = "preference"
)

// AllObservationTypes is the closed enumeration used to validate judge output.
var AllObservationTypes = []ObservationType{
	ObsTypeBugfix, ObsTypeFeature, ObsTypeRefactor, ObsTypeChange,
	ObsTypeDiscovery, ObsTypeDecision, ObsTypeGotcha, ObsTypePreference,
}

// ParseObservationType validates a string against the closed enumeration. An unknown value
// is a non-transient parse error per the judge's contract.
func ParseObservationType(s string) (ObservationType, error) {
	t := ObservationType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllObservationTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown observation_type %q", s)
}

// NoiseLevel is an ordered importance tag assigned by the judge. The ordering
// Critical < High < Medium < Low < Negligible is relied on by several comparison sites.
type NoiseLevel string

const (
	NoiseCritical   NoiseLevel = "critical"
	NoiseHigh       NoiseLevel = "high"
	NoiseMedium     NoiseLevel = "medium"
	NoiseLow        NoiseLevel = "low"
	NoiseNegligible NoiseLevel = "negligible"

	// DefaultNoiseLevel is used when the judge omits or mis-emits the field.
	DefaultNoiseLevel = NoiseMedium
)

var noiseRank = map[NoiseLevel]int{
	NoiseCritical:   0,
	NoiseHigh:       1,
	NoiseMedium:     2,
	NoiseLow:        3,
	NoiseNegligible: 4,
}

// Less reports whether n is strictly more important (lower rank) than other.
func (n NoiseLevel) Less(other NoiseLevel) bool {
	return noiseRank[n] < noiseRank[other]
}

// ParseNoiseLevel validates a string against the closed enumeration, defaulting to
// DefaultNoiseLevel on an unrecognized value. The caller is responsible for emitting the
// warning the contract requires.
func ParseNoiseLevel(s string) (level NoiseLevel, wasDefaulted bool) {
	n := NoiseLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := noiseRank[n]; ok {
		return n, false
	}
	return DefaultNoiseLevel, true
}

// Concept is a member of the small closed enumeration of observation concept tags.
type Concept string

const (
	ConceptHowItWorks      Concept = "how_it_works"
	ConceptWhyItExists     Concept = "why_it_exists"
	ConceptWhatChanged     Concept = "what_changed"
	ConceptProblemSolution Concept = "problem_solution"
	ConceptGotcha          Concept = "gotcha"
	ConceptPattern         Concept = "pattern"
	ConceptTradeOff        Concept = "trade_off"
)

var allConcepts = map[Concept]struct{}{
	ConceptHowItWorks: {}, ConceptWhyItExists: {}, ConceptWhatChanged: {},
	ConceptProblemSolution: {}, ConceptGotcha: {}, ConceptPattern: {}, ConceptTradeOff: {},
}

// ParseConcept validates a single concept string. Unknown concepts are silently dropped by
// the caller (filter_map semantics), matching the judge's tolerant parsing contract.
func ParseConcept(s string) (Concept, bool) {
	c := Concept(strings.ToLower(strings.TrimSpace(s)))
	_, ok := allConcepts[c]
	return c, ok
}

// PromptNumber is a newtype over the prompt ordinal within a session. Wrapping it prevents
// accidental transposition with DiscoveryTokens or other plain integers at call sites.
type PromptNumber uint32

// DiscoveryTokens is a newtype over a token count. Semantically distinct from PromptNumber.
type DiscoveryTokens uint32

// JSONStringArray is a set-like ordered string sequence persisted as a JSON column. Scan and
// Value let it round-trip through both the Postgres and SQLite backends without a dedicated
// array column type.
type JSONStringArray []string

func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	return json.Marshal([]string(j))
}

// UnionDedup returns dedup(existing ∪ incoming) with existing-first ordering preserved, the
// merge rule for every set-like field in §4.5.
func UnionDedup(existing, incoming JSONStringArray) JSONStringArray {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make(JSONStringArray, 0, len(existing)+len(incoming))
	for _, v := range existing {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range incoming {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// UnionMtimes merges two file-mtime snapshots, incoming's value winning per path since it
// was captured more recently, the same last-write-wins rule CheckStaleness relies on.
func UnionMtimes(existing, incoming JSONInt64Map) JSONInt64Map {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(JSONInt64Map, len(existing)+len(incoming))
	for path, mtime := range existing {
		out[path] = mtime
	}
	for path, mtime := range incoming {
		out[path] = mtime
	}
	return out
}

// Observation is the core unit of recall.
type Observation struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	SessionID       string          `gorm:"column:session_id;index" json:"session_id"`
	Project         sql.NullString  `gorm:"column:project;index" json:"-"`
	Type            ObservationType `gorm:"column:observation_type" json:"observation_type"`
	Title           string          `gorm:"column:title" json:"title"`
	TitleNormalized string          `gorm:"column:title_normalized;uniqueIndex" json:"-"`
	Subtitle        sql.NullString  `gorm:"column:subtitle" json:"-"`
	Narrative       sql.NullString  `gorm:"column:narrative" json:"-"`
	Facts           JSONStringArray `gorm:"column:facts;type:jsonb" json:"facts"`
	Keywords        JSONStringArray `gorm:"column:keywords;type:jsonb" json:"keywords"`
	FilesRead       JSONStringArray `gorm:"column:files_read;type:jsonb" json:"files_read"`
	FilesModified   JSONStringArray `gorm:"column:files_modified;type:jsonb" json:"files_modified"`
	Concepts        JSONStringArray `gorm:"column:concepts;type:jsonb" json:"concepts"`
	PromptNumber    sql.NullInt64   `gorm:"column:prompt_number" json:"-"`
	DiscoveryTokens sql.NullInt64   `gorm:"column:discovery_tokens" json:"-"`
	NoiseLevel      NoiseLevel      `gorm:"column:noise_level" json:"noise_level"`
	NoiseReason     string          `gorm:"column:noise_reason" json:"noise_reason,omitempty"`
	ImportanceScore float64         `gorm:"column:importance_score;default:1.0" json:"importance_score"`
	LastRetrievedAt sql.NullInt64   `gorm:"column:last_retrieved_at_epoch" json:"-"`
	ArchivedAt      sql.NullInt64   `gorm:"column:archived_at_epoch" json:"-"`
	ArchivedReason  sql.NullString  `gorm:"column:archived_reason" json:"-"`
	SupersededBy    sql.NullInt64   `gorm:"column:superseded_by" json:"-"`
	// FileMtimes supplements the core model with a snapshot of referenced file modification
	// times, used to compute a read-time staleness flag (SPEC_FULL.md supplemented feature 1).
	FileMtimes     JSONInt64Map `gorm:"column:file_mtimes;type:jsonb" json:"-"`
	CreatedAtEpoch int64        `gorm:"column:created_at_epoch;index" json:"-"`
}

func (Observation) TableName() string { return "observations" }

// NewObservation builds an Observation with its defaulted fields set (importance 1.0,
// noise level Medium, created_at now) and the normalized title computed.
func NewObservation(sessionID string, project string, obsType ObservationType, title string) *Observation {
	now := time.Now()
	obs := &Observation{
		SessionID:       sessionID,
		Type:            obsType,
		Title:           title,
		TitleNormalized: NormalizeForUniqueness(title),
		NoiseLevel:      DefaultNoiseLevel,
		ImportanceScore: 1.0,
		CreatedAtEpoch:  now.UnixMilli(),
	}
	if project != "" {
		obs.Project = sql.NullString{String: project, Valid: true}
	}
	return obs
}

// NormalizeForUniqueness computes title_normalized = lowercase(trim(title)). Intentionally
// distinct from the richer deconfusing normalization used by the low-value filter (§4.10) —
// two visually-confusable-but-distinct titles remain distinct rows here.
func NormalizeForUniqueness(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// CreatedAt returns the created timestamp as a time.Time.
func (o *Observation) CreatedAt() time.Time {
	return time.UnixMilli(o.CreatedAtEpoch)
}

// CheckStaleness reports whether any tracked file's current mtime differs from the
// mtime recorded when the observation was created. Supplemented feature: the core never
// deletes or rewrites an observation because of this, it is a read-time advisory only.
func (o *Observation) CheckStaleness(currentMtimes map[string]int64) bool {
	if len(o.FileMtimes) == 0 {
		return false
	}
	for path, recorded := range o.FileMtimes {
		if cur, ok := currentMtimes[path]; ok && cur != recorded {
			return true
		}
	}
	return false
}

// IsStale restats every tracked file itself and reports whether any has changed since the
// observation was captured. Fast by design: stat only, no content diff or verification.
func (o *Observation) IsStale() bool {
	if len(o.FileMtimes) == 0 {
		return false
	}
	current := make(map[string]int64, len(o.FileMtimes))
	for path := range o.FileMtimes {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		current[path] = info.ModTime().UnixMilli()
	}
	return o.CheckStaleness(current)
}

// JSONInt64Map is a JSON-column map type, used for FileMtimes.
type JSONInt64Map map[string]int64

func (m *JSONInt64Map) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONInt64Map: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

func (m JSONInt64Map) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(map[string]int64(m))
}

// ObservationJSON is the wire shape of Observation, flattening sql.Null* fields the way
// the store's internal representation does not need to expose.
type ObservationJSON struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	Project         string          `json:"project,omitempty"`
	Type            ObservationType `json:"observation_type"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Facts           []string        `json:"facts"`
	Keywords        []string        `json:"keywords"`
	FilesRead       []string        `json:"files_read"`
	FilesModified   []string        `json:"files_modified"`
	Concepts        []string        `json:"concepts"`
	PromptNumber    *uint32         `json:"prompt_number,omitempty"`
	DiscoveryTokens *uint32         `json:"discovery_tokens,omitempty"`
	NoiseLevel      NoiseLevel      `json:"noise_level"`
	NoiseReason     string          `json:"noise_reason,omitempty"`
	ImportanceScore float64         `json:"importance_score"`
	CreatedAt       time.Time       `json:"created_at"`
	Stale           bool            `json:"stale,omitempty"`
}

// MarshalJSON flattens the GORM-facing Observation into its wire representation.
func (o Observation) MarshalJSON() ([]byte, error) {
	dto := ObservationJSON{
		ID:              o.ID,
		SessionID:       o.SessionID,
		Type:            o.Type,
		Title:           o.Title,
		Facts:           []string(o.Facts),
		Keywords:        []string(o.Keywords),
		FilesRead:       []string(o.FilesRead),
		FilesModified:   []string(o.FilesModified),
		Concepts:        []string(o.Concepts),
		NoiseLevel:      o.NoiseLevel,
		NoiseReason:     o.NoiseReason,
		ImportanceScore: o.ImportanceScore,
		CreatedAt:       o.CreatedAt(),
		Stale:           o.IsStale(),
	}
	if o.Project.Valid {
		dto.Project = o.Project.String
	}
	if o.Subtitle.Valid {
		dto.Subtitle = o.Subtitle.String
	}
	if o.Narrative.Valid {
		dto.Narrative = o.Narrative.String
	}
	if o.PromptNumber.Valid {
		v := uint32(o.PromptNumber.Int64)
		dto.PromptNumber = &v
	}
	if o.DiscoveryTokens.Valid {
		v := uint32(o.DiscoveryTokens.Int64)
		dto.DiscoveryTokens = &v
	}
	return json.Marshal(dto)
}

// ObservationInput is the worker-assembled request handed to the LLM judge: the sanitized
// tool output plus enough identity to correlate it back to its originating message.
type ObservationInput struct {
	Tool      string
	SessionID string
	CallID    string
	Output    ToolOutput
}

// ToolOutput carries the sanitized, title-bearing view of a tool call's result.
type ToolOutput struct {
	Title     string
	Output    string
	InputJSON string
}

// Candidate is an existing observation offered to the judge as dedup context.
type Candidate struct {
	ID               string
	Title            string
	NarrativePreview string
}

// CompressionAction is the three-outcome decision the judge makes for one input.
type CompressionAction string

const (
	ActionCreate CompressionAction = "create"
	ActionUpdate CompressionAction = "update"
	ActionSkip   CompressionAction = "skip"
)

// CompressionResult is a tagged sum type: exactly one of Create/Update/Skip is populated,
// selected by Action. Implemented as a struct with a discriminant rather than an interface
// with three concrete cases because the judge package needs to construct and inspect it in
// a single, directly-serializable shape; callers must switch on Action, not on field
// presence, and must never use exceptions/panics to signal Skip.
type CompressionResult struct {
	Action     CompressionAction
	Observation *Observation // set when Action == ActionCreate or ActionUpdate
	TargetID    string       // set when Action == ActionUpdate
	SkipReason  string       // set when Action == ActionSkip
}

// Confusable-to-Latin homoglyph table used by title normalization (§4.9/§4.10), ported
// verbatim from the original's deconfuse map.
var confusableToLatin = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x', 'і': 'i',
}

// NormalizeTitleForFiltering applies the §4.9 pipeline: NFKD, confusable mapping,
// zero-width/variation-selector stripping, lowercasing. This is distinct from, and richer
// than, NormalizeForUniqueness and is used only by the low-value filter.
func NormalizeTitleForFiltering(title string) string {
	decomposed := norm.NFKD.String(title)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if mapped, ok := confusableToLatin[r]; ok {
			b.WriteRune(mapped)
			continue
		}
		if isZeroWidthOrVariationSelector(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func isZeroWidthOrVariationSelector(r rune) bool {
	if unicode.IsControl(r) {
		return true
	}
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF':
		return true
	}
	return r >= '\uFE00' && r <= '\uFE0F'
}
