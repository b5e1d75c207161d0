package catalog

import (
	"context"
	"sort"
	"strings"
	"time"
)

// SearchMode selects how Retriever.Search ranks candidates, per spec
// section 4.3's find_tools modes.
type SearchMode string

const (
	// ModeFast is full-text only: no embedding calls, lowest latency.
	ModeFast SearchMode = "fast"
	// ModeSemantic ranks every tool that has an embedding by cosine
	// similarity against a query embedding, falling back to ModeFast when
	// no embedding generator is configured.
	ModeSemantic SearchMode = "semantic"
	// ModeHybrid blends the full-text rank and the semantic rank.
	ModeHybrid SearchMode = "hybrid"
)

// ToolSource is the narrow view the retriever needs of a live upstream's
// current tool set. internal/upstream's Cataloger satisfies this
// structurally; catalog never imports upstream, avoiding the import cycle
// noted for this package's design.
type ToolSource interface {
	Key() string
	CachedTools() []CatalogedTool
}

// Retriever wraps a Store with the sync-from-live-upstreams and
// multi-mode search operations described in spec sections 4.2 and 4.3.
type Retriever struct {
	store       *Store
	embeddings  EmbeddingGenerator
	vectorIndex VectorIndex
}

// NewRetriever builds a Retriever over store. embeddings may be
// NoopEmbeddingGenerator{} to run full-text-only.
func NewRetriever(store *Store, embeddings EmbeddingGenerator) *Retriever {
	if embeddings == nil {
		embeddings = NoopEmbeddingGenerator{}
	}
	return &Retriever{store: store, embeddings: embeddings}
}

// SetVectorIndex swaps in an out-of-process nearest-neighbor backend
// (e.g. PgVectorIndex) for semantic and hybrid search. A nil index
// reverts to the sqlite in-process cosine scan.
func (r *Retriever) SetVectorIndex(idx VectorIndex) {
	r.vectorIndex = idx
}

// Store returns the underlying Store, for callers that need direct access.
func (r *Retriever) Store() *Store { return r.store }

// SyncFromCataloger reindexes every upstream in sources, detecting
// added/removed/modified tools per upstream relative to what the store
// already has on disk, per spec section 3's change-detection contract.
func (r *Retriever) SyncFromCataloger(ctx context.Context, sources []ToolSource) (map[string]ToolChanges, error) {
	results := make(map[string]ToolChanges, len(sources))
	seenUpstreams := make(map[string]bool, len(sources))
	for _, src := range sources {
		seenUpstreams[src.Key()] = true
		changes, err := r.SyncUpstreamFromCataloger(ctx, src)
		if err != nil {
			return results, err
		}
		results[src.Key()] = changes
	}
	return results, nil
}

// SyncUpstreamFromCataloger reindexes one upstream's current tool list,
// removing any previously-indexed tools that are no longer present.
func (r *Retriever) SyncUpstreamFromCataloger(ctx context.Context, src ToolSource) (ToolChanges, error) {
	now := time.Now()
	before, err := r.snapshotUpstream(ctx, src.Key())
	if err != nil {
		return ToolChanges{}, err
	}

	current := src.CachedTools()
	afterHashes := make(map[string]string, len(current))
	for _, t := range current {
		h, err := SchemaHash(t.InputSchema)
		if err != nil {
			return ToolChanges{}, err
		}
		afterHashes[t.ToolName] = h
	}
	after := ToolSnapshot{Hashes: afterHashes, Timestamp: now}

	changes := DetectChanges(src.Key(), before, after)

	if len(current) > 0 {
		if err := r.store.IndexTools(ctx, current); err != nil {
			return ToolChanges{}, err
		}
	}
	if len(changes.Removed) > 0 {
		for _, name := range changes.Removed {
			if _, err := r.store.db.ExecContext(ctx,
				`DELETE FROM tools WHERE upstream_key = ? AND tool_name = ?`, src.Key(), name); err != nil {
				continue
			}
			_, _ = r.store.db.ExecContext(ctx,
				`DELETE FROM tools_fts WHERE upstream_key = ? AND tool_name = ?`, src.Key(), name)
		}
	}
	return changes, nil
}

func (r *Retriever) snapshotUpstream(ctx context.Context, upstreamKey string) (ToolSnapshot, error) {
	existing, err := r.store.GetToolsForUpstream(ctx, upstreamKey)
	if err != nil {
		return ToolSnapshot{}, err
	}
	hashes := make(map[string]string, len(existing))
	for _, t := range existing {
		hashes[t.ToolName] = t.SchemaHash
	}
	return ToolSnapshot{Hashes: hashes, Timestamp: time.Now()}, nil
}

// RankedTool is one Search result with its final blended score.
type RankedTool struct {
	Tool  IndexedTool
	Score float64
}

// Search returns up to limit tools matching query under mode.
func (r *Retriever) Search(ctx context.Context, query string, mode SearchMode, limit int) ([]RankedTool, error) {
	switch mode {
	case ModeSemantic:
		return r.searchSemantic(ctx, query, limit)
	case ModeHybrid:
		return r.searchHybrid(ctx, query, limit)
	default:
		return r.searchFast(ctx, query, limit)
	}
}

func (r *Retriever) searchFast(ctx context.Context, query string, limit int) ([]RankedTool, error) {
	hits, err := r.store.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return toRanked(hits), nil
}

func (r *Retriever) searchSemantic(ctx context.Context, query string, limit int) ([]RankedTool, error) {
	if r.embeddings.Dimensions() == 0 {
		return r.searchFast(ctx, query, limit)
	}
	vecs, err := r.embeddings.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return r.searchFast(ctx, query, limit)
	}

	if r.vectorIndex != nil {
		return r.searchVectorIndex(ctx, vecs[0], limit)
	}

	hits, err := r.store.SearchSemantic(ctx, vecs[0], limit)
	if err != nil {
		return nil, err
	}
	return toRanked(hits), nil
}

// searchVectorIndex ranks by the configured out-of-process VectorIndex,
// then hydrates each hit's full IndexedTool from the Store so callers see
// the same RankedTool shape regardless of which backend answered.
func (r *Retriever) searchVectorIndex(ctx context.Context, queryVec []float32, limit int) ([]RankedTool, error) {
	hits, err := r.vectorIndex.Search(ctx, queryVec, limit)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedTool, 0, len(hits))
	for _, h := range hits {
		tool, found, err := r.store.GetTool(ctx, h.UpstreamKey, h.ToolName)
		if err != nil || !found {
			continue
		}
		// Cosine distance is 0 for identical vectors; invert so higher is
		// better, matching the sqlite-backed cosine-similarity score scale.
		ranked = append(ranked, RankedTool{Tool: tool, Score: 1 - h.Distance})
	}
	return ranked, nil
}

// searchHybrid blends the fast (full-text) rank and the semantic rank by
// reciprocal-rank fusion: tools that rank well in both lists rise above
// tools that rank well in only one, without needing comparable raw scores.
func (r *Retriever) searchHybrid(ctx context.Context, query string, limit int) ([]RankedTool, error) {
	candidatePool := limit * 4
	if candidatePool < 20 {
		candidatePool = 20
	}
	fastHits, err := r.store.Search(ctx, query, candidatePool)
	if err != nil {
		return nil, err
	}
	if r.embeddings.Dimensions() == 0 {
		return toRanked(capResults(fastHits, limit)), nil
	}
	vecs, err := r.embeddings.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return toRanked(capResults(fastHits, limit)), nil
	}

	var semanticHits []RankedTool
	if r.vectorIndex != nil {
		semanticHits, err = r.searchVectorIndex(ctx, vecs[0], candidatePool)
	} else {
		var scanHits []ScanResult
		scanHits, err = r.store.SearchSemantic(ctx, vecs[0], candidatePool)
		semanticHits = toRanked(scanHits)
	}
	if err != nil {
		return toRanked(capResults(fastHits, limit)), nil
	}

	const rrfK = 60.0
	fused := make(map[string]float64)
	toolByKey := make(map[string]IndexedTool)
	for rank, hit := range fastHits {
		key := hit.Tool.QualifiedName()
		fused[key] += 1.0 / (rrfK + float64(rank+1))
		toolByKey[key] = hit.Tool
	}
	for rank, hit := range semanticHits {
		key := hit.Tool.QualifiedName()
		fused[key] += 1.0 / (rrfK + float64(rank+1))
		toolByKey[key] = hit.Tool
	}

	ranked := make([]RankedTool, 0, len(fused))
	for key, score := range fused {
		ranked = append(ranked, RankedTool{Tool: toolByKey[key], Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Tool.QualifiedName() < ranked[j].Tool.QualifiedName()
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func capResults(hits []ScanResult, limit int) []ScanResult {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

func toRanked(hits []ScanResult) []RankedTool {
	out := make([]RankedTool, len(hits))
	for i, h := range hits {
		out[i] = RankedTool{Tool: h.Tool, Score: h.Score}
	}
	return out
}

// AmbiguousName records one bare name that matched tools from more than
// one upstream, along with the qualified names it could mean, per spec
// section 4.3/4.6's {tool:none, ambiguous:true, alternatives} contract.
type AmbiguousName struct {
	Name         string
	Alternatives []string
}

// ResolvedTools is the result of resolving a batch of names: each name
// resolves to exactly one found tool, is silently dropped if not found,
// or lands in Ambiguous if it matched more than one upstream's tool.
type ResolvedTools struct {
	Tools     []IndexedTool
	Ambiguous []AmbiguousName
}

// GetTool fetches one tool by qualified or bare name. A qualified name
// (upstream:tool) always resolves to that exact upstream's tool. A bare
// name resolves only when it matches exactly one upstream's tool;
// ambiguous bare names are reported via the ambiguous return, not
// silently resolved to one of the matches.
func (r *Retriever) GetTool(ctx context.Context, qualifiedOrBare string) (tool IndexedTool, found bool, ambiguous bool, alternatives []string, err error) {
	if upstreamKey, bare, ok := SplitQualifiedName(qualifiedOrBare); ok {
		t, found, err := r.store.GetTool(ctx, upstreamKey, bare)
		return t, found, false, nil, err
	}
	all, err := r.store.GetAllTools(ctx)
	if err != nil {
		return IndexedTool{}, false, false, nil, err
	}
	var matches []IndexedTool
	for _, t := range all {
		if strings.EqualFold(t.ToolName, qualifiedOrBare) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return IndexedTool{}, false, false, nil, nil
	case 1:
		return matches[0], true, false, nil, nil
	default:
		alts := make([]string, len(matches))
		for i, m := range matches {
			alts[i] = m.QualifiedName()
		}
		sort.Strings(alts)
		return IndexedTool{}, false, true, alts, nil
	}
}

// GetTools resolves every name in names, collecting ambiguous bare names
// separately instead of silently picking one upstream's tool for them.
func (r *Retriever) GetTools(ctx context.Context, names []string) (ResolvedTools, error) {
	var out ResolvedTools
	for _, name := range names {
		t, found, ambiguous, alts, err := r.GetTool(ctx, name)
		if err != nil {
			return ResolvedTools{}, err
		}
		if ambiguous {
			out.Ambiguous = append(out.Ambiguous, AmbiguousName{Name: name, Alternatives: alts})
			continue
		}
		if found {
			out.Tools = append(out.Tools, t)
		}
	}
	return out, nil
}

// CountMatches returns the total number of tools matching query in the
// full-text index, ignoring any limit find_tools applies to its result
// page. Used to populate find_tools' totalMatches field.
func (r *Retriever) CountMatches(ctx context.Context, query string) (int, error) {
	return r.store.SearchCount(ctx, query)
}

// RecordExecution records a single-tool execution's co-occurrence with
// whatever else was executed in the same selection window; callers pass
// the full window, including name.
func (r *Retriever) RecordExecution(ctx context.Context, qualifiedNames []string) error {
	return r.store.RecordCooccurrences(ctx, qualifiedNames)
}

// SuggestBundles returns related tools operators may also want to select,
// given the tools already in the current selection.
func (r *Retriever) SuggestBundles(ctx context.Context, selected []string, minCount, limit int) ([]string, error) {
	return r.store.GetSuggestedBundles(ctx, selected, minCount, limit)
}

// ClearSelectionCache resets per-selection retrieval state: confirmation
// tokens live in the policy engine, not here, so this clears only
// co-occurrence counters accumulated from executions.
func (r *Retriever) ClearSelectionCache(ctx context.Context) (int, error) {
	return r.store.ClearCooccurrences(ctx)
}

// ConflictingNames returns, for every bare tool name shared by more than
// one upstream, the sorted list of qualified names that bare name could
// resolve to. Used by list_namespaces and the monitor's upstreams command
// to surface the same ambiguity getTool/getTools detect per call.
func (r *Retriever) ConflictingNames(ctx context.Context) (map[string][]string, error) {
	all, err := r.store.GetAllTools(ctx)
	if err != nil {
		return nil, err
	}
	byBare := make(map[string][]string)
	for _, t := range all {
		byBare[t.ToolName] = append(byBare[t.ToolName], t.QualifiedName())
	}
	conflicts := make(map[string][]string)
	for bare, qualified := range byBare {
		if len(qualified) < 2 {
			continue
		}
		sort.Strings(qualified)
		conflicts[bare] = qualified
	}
	return conflicts, nil
}
