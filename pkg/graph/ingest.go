package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/casetrail/backend/pkg/ai"
	"github.com/casetrail/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Orchestrator drives the extraction pipeline for one turn: chunking,
// model extraction with retries, the atomic graph merge, and the analysis
// reply. It holds no per-case state itself; serialization of turns is the
// Coordinator's job.
//
// An Orchestrator should be created using NewOrchestrator.
type Orchestrator struct {
	store  *Store
	client ai.CaseAIClient

	maxTries         int
	chunkTokens      int
	tokenEncoding    string
	parallelExtracts int

	counterOnce sync.Once
	counter     tokenCounter
	counterErr  error
}

// NewOrchestratorParams contains configuration for creating a new
// Orchestrator. Zero values fall back to defaults: 3 tries per extraction
// call, 2000-token chunks in o200k_base, 4 parallel chunk extractions.
type NewOrchestratorParams struct {
	Store  *Store
	Client ai.CaseAIClient

	MaxTries         int
	ChunkTokens      int
	TokenEncoding    string
	ParallelExtracts int
}

// NewOrchestrator creates a new Orchestrator over the given store and
// AI client.
func NewOrchestrator(params NewOrchestratorParams) *Orchestrator {
	if params.MaxTries <= 0 {
		params.MaxTries = 3
	}
	if params.ChunkTokens <= 0 {
		params.ChunkTokens = 2000
	}
	if params.TokenEncoding == "" {
		params.TokenEncoding = "o200k_base"
	}
	if params.ParallelExtracts <= 0 {
		params.ParallelExtracts = 4
	}

	return &Orchestrator{
		store:  params.Store,
		client: params.Client,

		maxTries:         params.MaxTries,
		chunkTokens:      params.ChunkTokens,
		tokenEncoding:    params.TokenEncoding,
		parallelExtracts: params.ParallelExtracts,
	}
}

// IngestResult is the outcome of one successfully processed turn.
type IngestResult struct {
	CaseID       string `json:"case_id"`
	Turn         int    `json:"turn"`
	Assistant    string `json:"assistant"`
	GraphUpdated bool   `json:"graph_updated"`
	Diff         *Diff  `json:"diff"`
}

// Ingest processes one turn of narrative text for a case: extract, merge,
// reply. history carries the prior chat messages of the case, newest last,
// and may be nil for non-conversational ingestion (document uploads). On any
// error the case graph is left exactly as it was.
//
// Returned errors: *ValidationError for unusable input,
// *ExtractionUnavailableError when the model or its token encoding is
// unreachable after all retries.
func (o *Orchestrator) Ingest(ctx context.Context, caseID string, text string, history []ai.ChatMessage) (*IngestResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Reason: "message text is empty"}
	}

	hints := o.store.EntityLabels(caseID)

	count, err := o.tokenCounter()
	if err != nil {
		// the encoding tables are fetched remotely on first use; treat a
		// load failure like an unreachable model
		return nil, &ExtractionUnavailableError{Err: fmt.Errorf("loading token encoding: %w", err)}
	}
	chunks := splitIntoChunks(text, count, o.chunkTokens)

	entities, relationships, err := o.extractChunks(ctx, chunks, hints)
	if err != nil {
		return nil, &ExtractionUnavailableError{Err: err}
	}

	diff, err := o.store.MergeTurn(caseID, entities, relationships)
	if err != nil {
		return nil, err
	}
	for _, w := range diff.Warnings {
		logger.Warn("[Ingest] Skipped malformed candidate", "case_id", caseID, "reason", w)
	}
	logger.Debug("[Ingest] Turn merged",
		"case_id", caseID,
		"turn", o.store.Turn(caseID),
		"added_entities", len(diff.AddedEntities),
		"added_relationships", len(diff.AddedRelationships),
		"dropped_relationships", diff.DroppedRelationships,
	)

	return &IngestResult{
		CaseID:       caseID,
		Turn:         o.store.Turn(caseID),
		Assistant:    o.composeReply(ctx, caseID, text, history, diff),
		GraphUpdated: !diff.Empty(),
		Diff:         diff,
	}, nil
}

// tokenCounter returns the counter for the configured encoding, loading the
// encoding tables once on first use.
func (o *Orchestrator) tokenCounter() (tokenCounter, error) {
	o.counterOnce.Do(func() {
		if o.counter == nil {
			o.counter, o.counterErr = newTokenCounter(o.tokenEncoding)
		}
	})
	return o.counter, o.counterErr
}

// extractChunks runs extraction over every chunk and concatenates the
// candidates in chunk order, so one long document still merges as a single
// turn. Chunks extract in parallel, bounded by parallelExtracts.
func (o *Orchestrator) extractChunks(
	ctx context.Context,
	chunks []string,
	hints []string,
) ([]CandidateEntity, []CandidateRelationship, error) {
	type chunkResult struct {
		entities      []CandidateEntity
		relationships []CandidateRelationship
	}
	results := make([]chunkResult, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.parallelExtracts)
	for i, chunk := range chunks {
		group.Go(func() error {
			ents, rels, err := extractFromText(groupCtx, o.client, chunk, hints, o.maxTries)
			if err != nil {
				return err
			}
			results[i] = chunkResult{entities: ents, relationships: rels}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		entities      []CandidateEntity
		relationships []CandidateRelationship
	)
	for _, r := range results {
		entities = append(entities, r.entities...)
		relationships = append(relationships, r.relationships...)
	}
	return entities, relationships, nil
}

// composeReply asks the analysis model for an investigator-facing answer
// grounded in the merged graph. Conversational turns carry the prior chat
// messages so the model can resolve references like "him" or "that place";
// without history a single-turn completion is enough. A failing analysis
// call never fails the turn; the reply degrades to the deterministic diff
// summary.
func (o *Orchestrator) composeReply(ctx context.Context, caseID string, text string, history []ai.ChatMessage, diff *Diff) string {
	snapshot := o.store.Snapshot(caseID)
	graphJSON, err := json.Marshal(snapshot)
	if err != nil {
		logger.Warn("[Ingest] Could not encode graph context", "case_id", caseID, "err", err)
		return diff.Summary()
	}

	prompt := fmt.Sprintf(ai.AnalysisUserPrompt, text, string(graphJSON))

	var reply string
	if len(history) > 0 {
		messages := make([]ai.ChatMessage, 0, len(history)+1)
		messages = append(messages, history...)
		messages = append(messages, ai.ChatMessage{Role: "user", Message: prompt})
		reply, err = o.client.GenerateChat(ctx, messages, ai.WithSystemPrompts(ai.AnalysisPrompt))
	} else {
		reply, err = o.client.GenerateCompletion(ctx, prompt, ai.WithSystemPrompts(ai.AnalysisPrompt))
	}
	if err != nil {
		logger.Warn("[Ingest] Analysis call failed, falling back to diff summary", "case_id", caseID, "err", err)
		return diff.Summary()
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return diff.Summary()
	}
	return reply
}
