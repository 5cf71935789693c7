package jsonrpc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/thebtf/memengine/internal/lowvalue"
	"github.com/thebtf/memengine/internal/sanitizer"
	"github.com/thebtf/memengine/internal/search"
	"github.com/thebtf/memengine/pkg/models"
)

// toolSpec is the tool schema entry returned by tools/list.
type toolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

const defaultToolLimit = 20

func buildTools(deps Deps) (map[string]toolHandler, []toolSpec) {
	handlers := map[string]toolHandler{
		"search":                 searchTool(deps),
		"timeline":               timelineTool(deps),
		"get_observations":       getObservationsTool(deps),
		"memory_get":             memoryGetTool(deps),
		"memory_recent":          memoryRecentTool(deps),
		"memory_hybrid_search":   tieredSearchTool(deps),
		"memory_semantic_search": tieredSearchTool(deps),
		"save_memory":            saveMemoryTool(deps),
		"knowledge_search":       knowledgeSearchTool(deps),
		"knowledge_save":         knowledgeSaveTool(deps),
		"knowledge_get":          knowledgeGetTool(deps),
		"knowledge_list":         knowledgeListTool(deps),
		"knowledge_delete":       knowledgeDeleteTool(deps),
		"summary_get_children":   summaryGetChildrenTool(deps),
		"summary_get_raw_events": summaryGetRawEventsTool(deps),
	}

	specs := []toolSpec{
		stringSchema("search", "Search observations with optional project/type/date filters.",
			"query", "limit", "project", "type", "from", "to"),
		stringSchema("timeline", "Fetch observations ordered by creation time, newest first.",
			"from", "to", "limit"),
		stringSchema("get_observations", "Fetch observations by id.", "ids"),
		stringSchema("memory_get", "Fetch one observation by id.", "id"),
		stringSchema("memory_recent", "Fetch the most recent observations.", "project", "limit"),
		stringSchema("memory_hybrid_search", "Hybrid text+vector search.", "query", "limit"),
		stringSchema("memory_semantic_search", "Semantic search with text-only fallback.", "query", "limit"),
		stringSchema("save_memory", "Save a memory directly, bypassing the ingestion judge.", "text", "title", "project"),
		stringSchema("knowledge_search", "Search the global knowledge base.", "query", "limit"),
		stringSchema("knowledge_save", "Save or reinforce a global knowledge entry.", "title", "content"),
		stringSchema("knowledge_get", "Fetch a global knowledge entry by id.", "id"),
		stringSchema("knowledge_list", "List global knowledge entries.", "limit", "offset"),
		stringSchema("knowledge_delete", "Delete a global knowledge entry by id.", "id"),
		stringSchema("summary_get_children", "Drill into a rolled-up summary's children.", "parent_id"),
		stringSchema("summary_get_raw_events", "Drill into a 5-minute summary's raw events.", "summary_id"),
	}

	return handlers, specs
}

func stringSchema(name, description string, fields ...string) toolSpec {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return toolSpec{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{"type": "object", "properties": props},
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func searchTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Query   string `json:"query"`
			Limit   int    `json:"limit"`
			Project string `json:"project"`
			Type    string `json:"type"`
			From    int64  `json:"from"`
			To      int64  `json:"to"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		results, err := deps.Search.SearchWithFilters(ctx, search.Params{
			Query: req.Query, Project: req.Project, Type: models.ObservationType(req.Type),
			From: req.From, To: req.To, Limit: req.Limit,
		})
		if err != nil {
			return "", err
		}
		return toJSON(results)
	}
}

func tieredSearchTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		results, err := deps.Search.Search(ctx, req.Query, req.Limit)
		if err != nil {
			return "", err
		}
		return toJSON(results)
	}
}

func timelineTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			From  int64 `json:"from"`
			To    int64 `json:"to"`
			Limit int   `json:"limit"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		page, err := deps.Search.GetTimeline(ctx, req.From, req.To, req.Limit, 0)
		if err != nil {
			return "", err
		}
		return toJSON(page.Items)
	}
}

func getObservationsTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		ids := make([]int64, 0, len(req.IDs))
		for _, raw := range req.IDs {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return "", fmt.Errorf("invalid id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		obs, err := deps.ObsStore.GetObservationsByIDs(ids)
		if err != nil {
			return "", err
		}
		return toJSON(obs)
	}
}

func memoryGetTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		obs, err := deps.ObsStore.GetObservationByID(req.ID)
		if err != nil {
			return "", err
		}
		if obs == nil {
			return "", fmt.Errorf("observation %d not found", req.ID)
		}
		return toJSON(obs)
	}
}

func memoryRecentTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Project string `json:"project"`
			Limit   int    `json:"limit"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		obs, _, err := deps.ObsStore.GetRecentObservations(req.Project, req.Limit, 0)
		if err != nil {
			return "", err
		}
		return toJSON(obs)
	}
}

// saveMemoryTool mirrors the HTTP /save_memory direct-save path: sanitize, low-value filter,
// dedup-by-title, embed if available.
func saveMemoryTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Text    string `json:"text"`
			Title   string `json:"title"`
			Project string `json:"project"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		text := sanitizer.Sanitize(req.Text)
		if text == "" {
			return "", fmt.Errorf("text is required")
		}
		title := sanitizer.Sanitize(req.Title)
		if title == "" {
			title = text
		}
		if lowvalue.Default(nil).IsLowValue(title) {
			return "", fmt.Errorf("filtered: low-value title")
		}

		obs := models.NewObservation("", req.Project, models.ObsTypeDiscovery, title)
		obs.Narrative = sql.NullString{String: text, Valid: true}

		created, err := deps.ObsStore.SaveObservation(obs)
		if err != nil {
			return "", err
		}
		if !created {
			existing, err := deps.ObsStore.GetObservationByTitle(models.NormalizeForUniqueness(title))
			if err != nil {
				return "", err
			}
			return toJSON(existing)
		}
		if deps.Embedder != nil && deps.Vector != nil {
			if vec, err := deps.Embedder.Embed(title + " " + text); err == nil {
				_ = deps.Vector.StoreEmbedding(ctx, obs.ID, vec)
			}
		}
		return toJSON(obs)
	}
}

func knowledgeSearchTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		entries, err := deps.KnowledgeStore.SearchKnowledge(ctx, req.Query, req.Limit)
		if err != nil {
			return "", err
		}
		return toJSON(entries)
	}
}

func knowledgeSaveTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		if req.Title == "" {
			return "", fmt.Errorf("title is required")
		}
		entry, err := deps.KnowledgeStore.SaveKnowledge(ctx, req.Title, req.Content)
		if err != nil {
			return "", err
		}
		return toJSON(entry)
	}
}

func knowledgeGetTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		entry, err := deps.KnowledgeStore.GetKnowledge(ctx, req.ID)
		if err != nil {
			return "", err
		}
		return toJSON(entry)
	}
}

func knowledgeListTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		req.Limit = defaultToolLimit
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		entries, total, err := deps.KnowledgeStore.ListKnowledge(ctx, req.Limit, req.Offset)
		if err != nil {
			return "", err
		}
		return toJSON(map[string]any{"entries": entries, "total": total})
	}
}

func knowledgeDeleteTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		if err := deps.KnowledgeStore.DeleteKnowledge(ctx, req.ID); err != nil {
			return "", err
		}
		return toJSON(map[string]any{"deleted": req.ID})
	}
}

func summaryGetChildrenTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			ParentID int64 `json:"parent_id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		children, err := deps.SummaryStore.GetChildren(ctx, req.ParentID)
		if err != nil {
			return "", err
		}
		return toJSON(children)
	}
}

func summaryGetRawEventsTool(deps Deps) toolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			SummaryID int64 `json:"summary_id"`
		}
		if err := decodeArgs(args, &req); err != nil {
			return "", err
		}
		events, err := deps.SummaryStore.GetRawEventsBySummary(ctx, req.SummaryID)
		if err != nil {
			return "", err
		}
		return toJSON(events)
	}
}
