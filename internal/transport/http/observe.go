package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/internal/lowvalue"
	"github.com/thebtf/memengine/internal/sanitizer"
	"github.com/thebtf/memengine/pkg/models"
)

// toolCallRequest is the wire shape of a ToolCall body for /observe and /observe/batch.
type toolCallRequest struct {
	SessionID    string  `json:"session_id"`
	ToolName     string  `json:"tool_name"`
	ToolInput    string  `json:"tool_input"`
	ToolResponse string  `json:"tool_response"`
	Project      *string `json:"project,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "http.observe", err))
		return
	}
	id, err := s.enqueue(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "queued": true})
}

func (s *Server) handleObserveBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, errs.New(errs.Validation, "http.observe_batch", err))
		return
	}
	if len(reqs) > s.deps.MaxBatch {
		writeError(w, errs.New(errs.Validation, "http.observe_batch", errors.New("batch too large")))
		return
	}

	queued := 0
	for _, req := range reqs {
		if _, err := s.enqueue(r, req); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("observe/batch: one entry failed to enqueue")
			continue
		}
		queued++
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "total": len(reqs)})
}

func (s *Server) enqueue(r *http.Request, req toolCallRequest) (int64, error) {
	if req.SessionID == "" || req.ToolName == "" {
		return 0, errs.New(errs.Validation, "http.enqueue", errors.New("session_id and tool_name are required"))
	}
	var input, response *string
	if req.ToolInput != "" {
		input = &req.ToolInput
	}
	if req.ToolResponse != "" {
		response = &req.ToolResponse
	}
	id, err := s.deps.Queue.Enqueue(r.Context(), req.SessionID, req.ToolName, input, response, req.Project)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// saveMemoryRequest is the direct-save path's body: bypasses the queue and judge entirely,
// going straight through the sanitizer, low-value filter, and dedup-by-title check.
type saveMemoryRequest struct {
	Text    string `json:"text"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`
}

func (s *Server) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	var req saveMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "http.save_memory", err))
		return
	}
	text := sanitizer.Sanitize(req.Text)
	if text == "" {
		writeError(w, errs.New(errs.Validation, "http.save_memory", errors.New("text is required")))
		return
	}

	title := sanitizer.Sanitize(req.Title)
	if title == "" {
		title = text
	}
	filter := lowvalue.Default(nil)
	if filter.IsLowValue(title) {
		writeError(w, errs.New(errs.Filtered, "http.save_memory", errors.New("low-value title")))
		return
	}

	obs := models.NewObservation("", req.Project, models.ObsTypeDiscovery, title)
	obs.Narrative = sql.NullString{String: text, Valid: true}

	created, err := s.deps.ObsStore.SaveObservation(obs)
	if err != nil {
		writeError(w, errs.New(errs.PermanentIO, "http.save_memory", err))
		return
	}
	if !created {
		existing, err := s.deps.ObsStore.GetObservationByTitle(models.NormalizeForUniqueness(title))
		if err != nil {
			writeError(w, errs.New(errs.PermanentIO, "http.save_memory", err))
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}

	if s.deps.Embedder != nil && s.deps.Vector != nil {
		if vec, err := s.deps.Embedder.Embed(title + " " + text); err == nil {
			if err := s.deps.Vector.StoreEmbedding(r.Context(), obs.ID, vec); err != nil {
				s.deps.Logger.Warn().Err(err).Int64("observation_id", obs.ID).Msg("save_memory: failed to store embedding")
			}
		} else {
			s.deps.Logger.Warn().Err(err).Msg("save_memory: embedding failed")
		}
	}

	writeJSON(w, http.StatusCreated, obs)
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.Validation, "http.get_observation", err))
		return
	}
	obs, err := s.deps.ObsStore.GetObservationByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeError(w, errs.New(errs.PermanentIO, "http.get_observation", err))
		return
	}
	if obs == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

type observationsBatchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleGetObservationsBatch(w http.ResponseWriter, r *http.Request) {
	var req observationsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.Validation, "http.observations_batch", err))
		return
	}
	if len(req.IDs) > s.deps.MaxBatch {
		writeError(w, errs.New(errs.Validation, "http.observations_batch", errors.New("batch too large")))
		return
	}

	ids := make([]int64, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, errs.New(errs.Validation, "http.observations_batch", err))
			return
		}
		ids = append(ids, id)
	}

	obs, err := s.deps.ObsStore.GetObservationsByIDs(ids)
	if err != nil {
		writeError(w, errs.New(errs.PermanentIO, "http.observations_batch", err))
		return
	}
	if obs == nil {
		obs = []*models.Observation{}
	}
	writeJSON(w, http.StatusOK, obs)
}
