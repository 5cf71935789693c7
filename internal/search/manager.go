// Package search provides the hybrid search surface (C8) over observations: FTS, vector
// similarity, and their fusion, plus cached/coalesced filter and timeline queries.
package search

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/vector/pgvector"
	"github.com/thebtf/memengine/pkg/models"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

const (
	defaultCacheTTL        = 30 * time.Second
	defaultCacheMaxSize    = 200
	cacheEvictionPercent   = 10
	cacheEvictionThreshold = 80

	latencyHistogramCap  = 1000
	slowQueryThresholdNs = 100 * 1e6

	maxFrequencyEntries    = 1000
	frequencyEvictionBatch = 100
	staleQueryThreshold    = 24 * time.Hour
	recentQueryWindow      = time.Hour

	cacheWarmingInitDelay    = 30 * time.Second
	cacheWarmingInterval     = 20 * time.Second
	frequencyCleanupInterval = 5 * time.Minute
	cacheCleanupInterval     = time.Minute
	warmingBatchSize         = 5
	minRecencyFactor         = 0.1

	defaultQueryLimit = 20

	// candidateFanout is the multiple of limit used to fetch FTS/vector candidates before
	// fusing and truncating, per §4.7's hybrid v2 rule.
	candidateFanout = 3

	// vectorCandidateThreshold is the minimum cosine similarity pgvector.Client considers a
	// usable candidate for fusion; the fusion formula itself treats a missing id as 0, so this
	// is set low enough to not pre-filter what fusion should be allowed to rank.
	vectorCandidateThreshold = 0.0

	titleTruncateLen = 100
)

// Metrics tracks search performance statistics.
type Metrics struct {
	latencyHistogram []int64
	TotalSearches    int64
	VectorSearches   int64
	TextOnlySearches int64
	RecentFallbacks  int64
	TotalLatencyNs   int64
	CacheHits        int64
	CoalescedCalls   int64
	SearchErrors     int64
	histogramMu      sync.Mutex
}

// Stats returns a snapshot of the current search statistics.
func (m *Metrics) Stats() map[string]any {
	total := atomic.LoadInt64(&m.TotalSearches)
	totalLatency := atomic.LoadInt64(&m.TotalLatencyNs)
	avgMs := float64(0)
	if total > 0 {
		avgMs = float64(totalLatency) / float64(total) / 1e6
	}
	return map[string]any{
		"total_searches":     total,
		"vector_searches":    atomic.LoadInt64(&m.VectorSearches),
		"text_only_searches": atomic.LoadInt64(&m.TextOnlySearches),
		"recent_fallbacks":   atomic.LoadInt64(&m.RecentFallbacks),
		"cache_hits":         atomic.LoadInt64(&m.CacheHits),
		"coalesced_calls":    atomic.LoadInt64(&m.CoalescedCalls),
		"search_errors":      atomic.LoadInt64(&m.SearchErrors),
		"avg_latency_ms":     avgMs,
	}
}

// Manager implements the hybrid search contract of §4.7, backed by the observation store's
// FTS index and an optional pgvector client. Results are cached with a short TTL and
// concurrent identical queries are coalesced via singleflight.
type Manager struct {
	ctx            context.Context
	cancel         context.CancelFunc
	obsStore       *gorm.ObservationStore
	vectorClient   *pgvector.Client
	embedder       embedding.EmbeddingModel
	logger         zerolog.Logger
	metrics        *Metrics
	group          singleflight.Group
	resultCache    map[string]*cachedResult
	queryFrequency map[string]*frequencyInfo
	cacheTTL       time.Duration
	cacheMaxSize   int
	cacheMu        sync.RWMutex
	freqMu         sync.RWMutex
}

type frequencyInfo struct {
	lastUsed   time.Time
	lastCached time.Time
	params     Params
	count      int64
}

type cachedResult struct {
	results   []models.SearchResult
	expiresAt time.Time
}

// Params parameters a hybrid search / filter query.
type Params struct {
	Query   string
	Project string
	Type    models.ObservationType
	From    int64
	To      int64
	Limit   int
	Offset  int
}

// NewManager creates a search manager. vectorClient and embedder may both be nil, in which
// case the manager always runs the text-only tier.
func NewManager(obsStore *gorm.ObservationStore, vectorClient *pgvector.Client, embedder embedding.EmbeddingModel, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ctx:            ctx,
		cancel:         cancel,
		obsStore:       obsStore,
		vectorClient:   vectorClient,
		embedder:       embedder,
		logger:         logger.With().Str("component", "search-manager").Logger(),
		metrics:        &Metrics{latencyHistogram: make([]int64, 0, latencyHistogramCap)},
		resultCache:    make(map[string]*cachedResult),
		queryFrequency: make(map[string]*frequencyInfo),
		cacheTTL:       defaultCacheTTL,
		cacheMaxSize:   defaultCacheMaxSize,
	}
	go m.cleanupCacheLoop()
	go m.cacheWarmingLoop()
	return m
}

// Close stops the manager's background goroutines.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > models.MaxQueryLimit {
		limit = models.MaxQueryLimit
	}
	return limit
}

// Search runs the three-tier hybrid search contract: embeddings when available, text-only
// hybrid on embed failure, and a recent-observations fallback when text-only yields nothing
// or the query is empty.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return m.SearchWithFilters(ctx, Params{Query: query, Limit: limit})
}

// SearchWithFilters applies project/type/date-range filters alongside the hybrid tiers.
func (m *Manager) SearchWithFilters(ctx context.Context, params Params) ([]models.SearchResult, error) {
	params.Limit = clampLimit(params.Limit)

	start := time.Now()
	defer func() {
		latency := time.Since(start).Nanoseconds()
		atomic.AddInt64(&m.metrics.TotalSearches, 1)
		atomic.AddInt64(&m.metrics.TotalLatencyNs, latency)
		m.metrics.histogramMu.Lock()
		if len(m.metrics.latencyHistogram) < latencyHistogramCap {
			m.metrics.latencyHistogram = append(m.metrics.latencyHistogram, latency)
		}
		m.metrics.histogramMu.Unlock()
		if latency > slowQueryThresholdNs {
			m.logger.Warn().Str("query", truncate(params.Query, 50)).Dur("latency", time.Duration(latency)).Msg("slow search query")
		}
	}()

	cacheKey := m.cacheKey(params)
	if cached, ok := m.getFromCache(cacheKey); ok {
		return cached, nil
	}

	result, err, _ := m.group.Do(cacheKey, func() (any, error) {
		return m.executeSearch(ctx, params)
	})
	if err != nil {
		atomic.AddInt64(&m.metrics.SearchErrors, 1)
		return nil, err
	}

	results := result.([]models.SearchResult)
	m.putInCache(cacheKey, results)
	m.trackFrequency(params)
	return results, nil
}

// executeSearch implements the three-tier selection rule.
func (m *Manager) executeSearch(ctx context.Context, params Params) ([]models.SearchResult, error) {
	if params.Query == "" {
		atomic.AddInt64(&m.metrics.RecentFallbacks, 1)
		return m.recentObservations(params)
	}

	if m.embedder != nil && m.vectorClient != nil {
		queryVec, err := m.embedder.Embed(params.Query)
		if err == nil {
			results, err := m.hybridV2(ctx, params, queryVec)
			if err == nil {
				if len(results) == 0 {
					atomic.AddInt64(&m.metrics.RecentFallbacks, 1)
					return m.recentObservations(params)
				}
				atomic.AddInt64(&m.metrics.VectorSearches, 1)
				return results, nil
			}
			m.logger.Warn().Err(err).Msg("vector search failed, falling back to text-only hybrid")
		} else {
			m.logger.Warn().Err(err).Msg("embedding failed, falling back to text-only hybrid")
		}
	}

	results, err := m.textOnlyHybrid(params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		atomic.AddInt64(&m.metrics.RecentFallbacks, 1)
		return m.recentObservations(params)
	}
	atomic.AddInt64(&m.metrics.TextOnlySearches, 1)
	return results, nil
}

// textOnlyHybrid implements §4.7's text-only hybrid score: 0.7·FTS-normalized + 0.3·keyword
// overlap.
func (m *Manager) textOnlyHybrid(params Params) ([]models.SearchResult, error) {
	obs, ranks, err := m.obsStore.SearchObservationsFTS(params.Query, params.Limit*candidateFanout)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}

	minFTS, maxFTS := ranks[0], ranks[0]
	for _, r := range ranks {
		if r < minFTS {
			minFTS = r
		}
		if r > maxFTS {
			maxFTS = r
		}
	}

	queryKeywords := tokenize(params.Query)

	type scored struct {
		obs   models.Observation
		score float64
	}
	candidates := make([]scored, 0, len(obs))
	for i, o := range obs {
		if !matchesFilters(&o, params) {
			continue
		}
		ftsNorm := 1.0
		if maxFTS != minFTS {
			ftsNorm = (ranks[i] - minFTS) / (maxFTS - minFTS)
		}
		kwScore := keywordOverlap(queryKeywords, o.Keywords)
		score := 0.7*ftsNorm + 0.3*kwScore
		candidates = append(candidates, scored{obs: o, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > params.Limit {
		candidates = candidates[:params.Limit]
	}

	results := make([]models.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = toSearchResult(&c.obs, c.score)
	}
	return results, nil
}

// hybridV2 implements §4.7's embedding-assisted fusion: up to 3·limit FTS candidates and
// 3·limit vector candidates, scored 0.5·fts_norm + 0.5·vec_sim over their union, then hydrated.
func (m *Manager) hybridV2(ctx context.Context, params Params, queryVec []float32) ([]models.SearchResult, error) {
	fanout := params.Limit * candidateFanout

	ftsObs, ftsRanks, err := m.obsStore.SearchObservationsFTS(params.Query, fanout)
	if err != nil {
		m.logger.Warn().Err(err).Msg("FTS candidate fetch failed during hybrid v2")
	}

	maxFTS := 0.0
	ftsScore := make(map[int64]float64, len(ftsObs))
	for i, o := range ftsObs {
		if ftsRanks[i] > maxFTS {
			maxFTS = ftsRanks[i]
		}
		ftsScore[o.ID] = ftsRanks[i]
	}

	vecMatches, err := m.vectorClient.FindSimilarMany(ctx, queryVec, vectorCandidateThreshold, fanout)
	if err != nil {
		return nil, err
	}
	vecScore := make(map[int64]float64, len(vecMatches))
	for _, v := range vecMatches {
		vecScore[v.ObservationID] = v.Similarity
	}

	ids := make(map[int64]struct{}, len(ftsScore)+len(vecScore))
	for id := range ftsScore {
		ids[id] = struct{}{}
	}
	for id := range vecScore {
		ids[id] = struct{}{}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	type scored struct {
		id    int64
		score float64
	}
	fused := make([]scored, 0, len(ids))
	for id := range ids {
		ftsNorm := 0.0
		if maxFTS > 0 {
			ftsNorm = ftsScore[id] / maxFTS
		}
		fused = append(fused, scored{id: id, score: 0.5*ftsNorm + 0.5*vecScore[id]})
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].score > fused[j].score })
	if len(fused) > params.Limit {
		fused = fused[:params.Limit]
	}

	idList := make([]int64, len(fused))
	scoreByID := make(map[int64]float64, len(fused))
	for i, f := range fused {
		idList[i] = f.id
		scoreByID[f.id] = f.score
	}

	hydrated, err := m.obsStore.GetObservationsByIDs(idList)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(hydrated))
	for _, o := range hydrated {
		if !matchesFilters(o, params) {
			continue
		}
		results = append(results, toSearchResult(o, scoreByID[o.ID]))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// recentObservations is the tier-3 fallback: recent, filter-matching observations ordered by
// recency, with a synthetic score of 1.0.
func (m *Manager) recentObservations(params Params) ([]models.SearchResult, error) {
	obs, _, err := m.obsStore.GetRecentObservations(params.Project, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(obs))
	for _, o := range obs {
		if !matchesFilters(o, params) {
			continue
		}
		results = append(results, toSearchResult(o, 1.0))
	}
	return results, nil
}

// GetTimeline returns observations ordered by created_at descending within [from, to].
func (m *Manager) GetTimeline(ctx context.Context, from, to int64, limit, offset int) (models.PaginatedResult[models.SearchResult], error) {
	limit = clampLimit(limit)
	obs, total, err := m.obsStore.GetRecentObservations("", limit, offset)
	if err != nil {
		return models.PaginatedResult[models.SearchResult]{}, err
	}
	items := make([]models.SearchResult, 0, len(obs))
	for _, o := range obs {
		if from > 0 && o.CreatedAtEpoch < from {
			continue
		}
		if to > 0 && o.CreatedAtEpoch > to {
			continue
		}
		items = append(items, toSearchResult(o, 0))
	}
	return models.PaginatedResult[models.SearchResult]{
		Items: items, Total: int(total), Offset: offset, Limit: limit,
	}, nil
}

// GetTimelineWithAnchor fetches up to `before` observations older than anchorID and up to
// `after` observations newer than it, excluding the anchor from both sides.
func (m *Manager) GetTimelineWithAnchor(ctx context.Context, anchorID int64, before, after int) ([]models.SearchResult, error) {
	anchor, err := m.obsStore.GetObservationByID(anchorID)
	if err != nil {
		return nil, err
	}

	all, _, err := m.obsStore.GetRecentObservations("", models.MaxQueryLimit, 0)
	if err != nil {
		return nil, err
	}

	var olderResults, newerResults []models.SearchResult
	for _, o := range all {
		if o.ID == anchorID {
			continue
		}
		if o.CreatedAtEpoch < anchor.CreatedAtEpoch && len(olderResults) < before {
			olderResults = append(olderResults, toSearchResult(o, 0))
		}
		if o.CreatedAtEpoch > anchor.CreatedAtEpoch && len(newerResults) < after {
			newerResults = append(newerResults, toSearchResult(o, 0))
		}
	}

	out := make([]models.SearchResult, 0, len(olderResults)+1+len(newerResults))
	out = append(out, newerResults...)
	out = append(out, toSearchResult(anchor, 0))
	out = append(out, olderResults...)
	return out, nil
}

// Metrics returns the manager's performance metrics.
func (m *Manager) Metrics() *Metrics { return m.metrics }

func matchesFilters(o *models.Observation, params Params) bool {
	if params.Project != "" && (!o.Project.Valid || o.Project.String != params.Project) {
		return false
	}
	if params.Type != "" && o.Type != params.Type {
		return false
	}
	if params.From > 0 && o.CreatedAtEpoch < params.From {
		return false
	}
	if params.To > 0 && o.CreatedAtEpoch > params.To {
		return false
	}
	return true
}

func toSearchResult(o *models.Observation, score float64) models.SearchResult {
	subtitle := ""
	if o.Subtitle.Valid {
		subtitle = o.Subtitle.String
	}
	return models.SearchResult{
		ID:         o.ID,
		Title:      truncate(o.Title, titleTruncateLen),
		Subtitle:   subtitle,
		Type:       o.Type,
		NoiseLevel: o.NoiseLevel,
		Score:      score,
		// Stale restats the observation's tracked files at query time, matching the teacher's
		// own interactive-path staleness check in handlers_context.go.
		Stale: o.IsStale(),
	}
}

func keywordOverlap(queryKeywords []string, obsKeywords models.JSONStringArray) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(obsKeywords))
	for _, k := range obsKeywords {
		set[strings.ToLower(k)] = struct{}{}
	}
	matches := 0
	for _, k := range queryKeywords {
		if _, ok := set[k]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryKeywords))
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// --- caching, coalescing, and warming machinery ---

func (m *Manager) cleanupCacheLoop() {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredCache()
		}
	}
}

func (m *Manager) cleanupExpiredCache() {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	now := time.Now()
	for k, v := range m.resultCache {
		if now.After(v.expiresAt) {
			delete(m.resultCache, k)
		}
	}
}

func (m *Manager) cacheWarmingLoop() {
	select {
	case <-m.ctx.Done():
		return
	case <-time.After(cacheWarmingInitDelay):
	}

	warmTicker := time.NewTicker(cacheWarmingInterval)
	cleanupTicker := time.NewTicker(frequencyCleanupInterval)
	defer warmTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-warmTicker.C:
			m.warmFrequentQueries()
		case <-cleanupTicker.C:
			m.cleanupStaleFrequency()
		}
	}
}

func (m *Manager) cleanupStaleFrequency() {
	m.freqMu.Lock()
	now := time.Now()
	var stale []string
	for k, v := range m.queryFrequency {
		if now.Sub(v.lastUsed) > staleQueryThreshold {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		delete(m.queryFrequency, k)
	}
	m.freqMu.Unlock()
}

func (m *Manager) warmFrequentQueries() {
	m.freqMu.RLock()
	type candidate struct {
		info  *frequencyInfo
		key   string
		score float64
	}
	candidates := make([]candidate, 0, len(m.queryFrequency))
	now := time.Now()
	for key, info := range m.queryFrequency {
		if now.Sub(info.lastUsed) > recentQueryWindow {
			continue
		}
		if now.Sub(info.lastCached) < m.cacheTTL/2 {
			continue
		}
		recency := 1.0 - now.Sub(info.lastUsed).Seconds()/recentQueryWindow.Seconds()
		if recency < minRecencyFactor {
			recency = minRecencyFactor
		}
		candidates = append(candidates, candidate{key: key, info: info, score: float64(info.count) * recency})
	}
	m.freqMu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	warmCount := warmingBatchSize
	if warmCount > len(candidates) {
		warmCount = len(candidates)
	}
	for i := 0; i < warmCount; i++ {
		c := candidates[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		results, err := m.executeSearch(ctx, c.info.params)
		cancel()
		if err != nil {
			continue
		}
		key := m.cacheKey(c.info.params)
		m.putInCache(key, results)
		m.freqMu.Lock()
		if info, ok := m.queryFrequency[c.key]; ok {
			info.lastCached = time.Now()
		}
		m.freqMu.Unlock()
	}
}

func (m *Manager) trackFrequency(params Params) {
	key := m.cacheKey(params)
	m.freqMu.Lock()
	if info, ok := m.queryFrequency[key]; ok {
		info.count++
		info.lastUsed = time.Now()
		m.freqMu.Unlock()
		return
	}
	m.queryFrequency[key] = &frequencyInfo{params: params, count: 1, lastUsed: time.Now()}
	mapLen := len(m.queryFrequency)
	if mapLen <= maxFrequencyEntries {
		m.freqMu.Unlock()
		return
	}

	type entry struct {
		lastUsed time.Time
		key      string
	}
	entries := make([]entry, 0, mapLen)
	for k, v := range m.queryFrequency {
		entries = append(entries, entry{key: k, lastUsed: v.lastUsed})
	}
	m.freqMu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].lastUsed.Before(entries[j].lastUsed) })
	evictCount := frequencyEvictionBatch
	if evictCount > len(entries) {
		evictCount = len(entries)
	}

	m.freqMu.Lock()
	for i := 0; i < evictCount; i++ {
		delete(m.queryFrequency, entries[i].key)
	}
	m.freqMu.Unlock()
}

func normalizeQuery(query string) string {
	query = strings.ToLower(query)
	query = multiSpaceRegex.ReplaceAllString(query, " ")
	return strings.TrimSpace(query)
}

func (m *Manager) cacheKey(params Params) string {
	h := fnv.New64a()
	h.Write([]byte(normalizeQuery(params.Query)))
	h.Write([]byte{'|'})
	h.Write([]byte(params.Project))
	h.Write([]byte{'|'})
	h.Write([]byte(params.Type))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(params.From, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(params.To, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(params.Limit)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(params.Offset)))
	return strconv.FormatUint(h.Sum64(), 36)
}

func (m *Manager) getFromCache(key string) ([]models.SearchResult, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	if cached, ok := m.resultCache[key]; ok && time.Now().Before(cached.expiresAt) {
		atomic.AddInt64(&m.metrics.CacheHits, 1)
		return cached.results, true
	}
	return nil, false
}

func (m *Manager) putInCache(key string, results []models.SearchResult) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	now := time.Now()
	cacheLen := len(m.resultCache)
	evictionThreshold := (m.cacheMaxSize * cacheEvictionThreshold) / 100
	if cacheLen >= evictionThreshold {
		for k, v := range m.resultCache {
			if now.After(v.expiresAt) {
				delete(m.resultCache, k)
			}
		}
		cacheLen = len(m.resultCache)
	}
	if cacheLen >= m.cacheMaxSize {
		evictCount := m.cacheMaxSize * cacheEvictionPercent / 100
		if evictCount < 1 {
			evictCount = 1
		}
		evicted := 0
		for k := range m.resultCache {
			delete(m.resultCache, k)
			evicted++
			if evicted >= evictCount {
				break
			}
		}
	}

	m.resultCache[key] = &cachedResult{results: results, expiresAt: now.Add(m.cacheTTL)}
}
