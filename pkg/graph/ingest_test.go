package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/casetrail/backend/pkg/ai"
)

// mockAIClient serves canned extraction responses in order and a fixed
// analysis reply.
type mockAIClient struct {
	lock sync.Mutex

	extractResponses []extractResponse
	extractErr       error
	extractCalls     int
	lastSystem       []string

	analysisReply string
	analysisErr   error
	chatCalls     int
	chatMessages  []ai.ChatMessage
}

func (m *mockAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if m.analysisErr != nil {
		return "", m.analysisErr
	}
	return m.analysisReply, nil
}

func (m *mockAIClient) GenerateCompletionWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...ai.GenerateOption) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.extractCalls++
	options := ai.GenerateOptions{}
	for _, o := range opts {
		o(&options)
	}
	m.lastSystem = options.SystemPrompts

	if m.extractErr != nil {
		return m.extractErr
	}
	resp := extractResponse{}
	if len(m.extractResponses) > 0 {
		resp = m.extractResponses[0]
		m.extractResponses = m.extractResponses[1:]
	}
	*(out.(*extractResponse)) = resp
	return nil
}

func (m *mockAIClient) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	m.lock.Lock()
	m.chatCalls++
	m.chatMessages = messages
	m.lock.Unlock()

	if m.analysisErr != nil {
		return "", m.analysisErr
	}
	return m.analysisReply, nil
}

func (m *mockAIClient) ResetMetrics()               {}
func (m *mockAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func wordCounter(s string) int {
	return len(strings.Fields(s))
}

func newTestOrchestrator(store *Store, client ai.CaseAIClient, chunkTokens int) *Orchestrator {
	o := NewOrchestrator(NewOrchestratorParams{
		Store:       store,
		Client:      client,
		ChunkTokens: chunkTokens,
	})
	o.counter = wordCounter
	return o
}

func TestIngestAcrossTurns(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisReply: "John Doe appears connected to the warehouse.",
		extractResponses: []extractResponse{
			{
				Entities: []CandidateEntity{
					{SurfaceText: "John Doe", Type: "Person"},
					{SurfaceText: "Warehouse", Type: "Location"},
				},
				Relationships: []CandidateRelationship{
					{SourceSurface: "John Doe", TargetSurface: "Warehouse", Label: "was seen near"},
				},
			},
			{
				Entities: []CandidateEntity{
					{SurfaceText: "Mary", Type: "Person"},
					{SurfaceText: "John", Type: "Person"},
					{SurfaceText: "Warehouse", Type: "Location"},
				},
				Relationships: []CandidateRelationship{
					{SourceSurface: "Mary", TargetSurface: "John", Label: "called"},
					{SourceSurface: "Mary", TargetSurface: "Warehouse", Label: "owns"},
				},
			},
		},
	}
	orch := newTestOrchestrator(store, client, 1000)

	first, err := orch.Ingest(context.Background(), "case-1", "John Doe was seen near the warehouse last night.", nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if !first.GraphUpdated {
		t.Error("first turn should update the graph")
	}
	if first.Assistant != client.analysisReply {
		t.Errorf("assistant = %q, want analysis reply", first.Assistant)
	}

	second, err := orch.Ingest(context.Background(), "case-1", "Mary called John yesterday; she owns the warehouse.", nil)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if !second.GraphUpdated {
		t.Error("second turn should update the graph")
	}
	// "John" must merge into the existing John Doe, not create a new node
	if len(second.Diff.AddedEntities) != 1 {
		t.Errorf("second turn added %d entities, want 1 (Mary)", len(second.Diff.AddedEntities))
	}

	snap := store.Snapshot("case-1")
	if len(snap.Nodes) != 3 {
		t.Fatalf("graph has %d nodes, want 3", len(snap.Nodes))
	}
	if len(snap.Edges) != 3 {
		t.Errorf("graph has %d edges, want 3", len(snap.Edges))
	}
	if snap.Turn != 2 {
		t.Errorf("turn = %d, want 2", snap.Turn)
	}

	// second extraction ran with the known entities as hints
	system := strings.Join(client.lastSystem, "\n")
	if !strings.Contains(system, "John Doe") || !strings.Contains(system, "Warehouse") {
		t.Error("second extraction prompt should list known entities as hints")
	}
}

func TestIngestRejectsEmptyMessage(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{}
	orch := newTestOrchestrator(store, client, 1000)

	_, err := orch.Ingest(context.Background(), "case-1", "   \n\t ", nil)
	if !IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if client.extractCalls != 0 {
		t.Errorf("extraction called %d times for empty input, want 0", client.extractCalls)
	}
	if store.Turn("case-1") != 0 {
		t.Error("turn must not advance on rejected input")
	}
}

func TestIngestExtractionFailureLeavesGraphUntouched(t *testing.T) {
	store := NewStore()
	mustMerge(t, store, "case-1",
		[]CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}, nil)
	before := store.Export("case-1")

	client := &mockAIClient{extractErr: errors.New("model overloaded")}
	orch := NewOrchestrator(NewOrchestratorParams{
		Store:    store,
		Client:   client,
		MaxTries: 2,
	})
	orch.counter = wordCounter

	_, err := orch.Ingest(context.Background(), "case-1", "Another lead came in.", nil)
	if !IsExtractionUnavailable(err) {
		t.Fatalf("expected ExtractionUnavailableError, got %v", err)
	}
	if client.extractCalls != 2 {
		t.Errorf("extraction tried %d times, want 2", client.extractCalls)
	}

	after := store.Export("case-1")
	if before.Turn != after.Turn || len(before.Entities) != len(after.Entities) {
		t.Error("graph changed despite failed extraction")
	}
}

func TestIngestAnalysisFailureFallsBackToSummary(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisErr: errors.New("model offline"),
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
		},
	}
	orch := newTestOrchestrator(store, client, 1000)

	res, err := orch.Ingest(context.Background(), "case-1", "John Doe showed up again.", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.GraphUpdated {
		t.Error("turn should still update the graph")
	}
	if !strings.Contains(res.Assistant, "1 new entity (John Doe)") {
		t.Errorf("assistant = %q, want deterministic diff summary", res.Assistant)
	}
}

func TestIngestWithHistoryUsesChatAnalysis(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisReply: "She means Mary, who owns the warehouse.",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "Mary", Type: "Person"}}},
		},
	}
	orch := newTestOrchestrator(store, client, 1000)

	history := []ai.ChatMessage{
		{Role: "user", Message: "Mary owns the warehouse."},
		{Role: "assistant", Message: "Noted: Mary owns the warehouse."},
	}
	res, err := orch.Ingest(context.Background(), "case-1", "Who is she again?", history)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Assistant != client.analysisReply {
		t.Errorf("assistant = %q, want chat reply", res.Assistant)
	}

	if client.chatCalls != 1 {
		t.Fatalf("chat calls = %d, want 1", client.chatCalls)
	}
	// prior messages first, current turn last
	if len(client.chatMessages) != 3 {
		t.Fatalf("chat carried %d messages, want 3", len(client.chatMessages))
	}
	if client.chatMessages[0].Message != history[0].Message || client.chatMessages[1].Role != "assistant" {
		t.Error("chat should replay the prior messages in order")
	}
	if !strings.Contains(client.chatMessages[2].Message, "Who is she again?") {
		t.Errorf("final chat message = %q, want it to carry the current turn", client.chatMessages[2].Message)
	}
}

func TestIngestWithoutHistoryUsesSingleTurnAnalysis(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisReply: "noted",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
		},
	}
	orch := newTestOrchestrator(store, client, 1000)

	if _, err := orch.Ingest(context.Background(), "case-1", "John Doe resurfaced.", nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if client.chatCalls != 0 {
		t.Errorf("chat calls = %d, want 0 for a turn without history", client.chatCalls)
	}
}

func TestIngestTokenEncodingFailureIsRetryable(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{}
	orch := NewOrchestrator(NewOrchestratorParams{
		Store:         store,
		Client:        client,
		TokenEncoding: "no-such-encoding",
	})

	_, err := orch.Ingest(context.Background(), "case-1", "Another lead came in.", nil)
	if !IsExtractionUnavailable(err) {
		t.Fatalf("expected ExtractionUnavailableError, got %v", err)
	}
	if client.extractCalls != 0 {
		t.Errorf("extraction called %d times, want 0 when the encoding cannot load", client.extractCalls)
	}
	if store.Turn("case-1") != 0 {
		t.Error("turn must not advance when the encoding cannot load")
	}
}

func TestIngestNothingExtractable(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisReply:    "Nothing actionable in that message.",
		extractResponses: []extractResponse{{}},
	}
	orch := newTestOrchestrator(store, client, 1000)

	res, err := orch.Ingest(context.Background(), "case-1", "Thanks, noted.", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.GraphUpdated {
		t.Error("empty extraction must not report a graph update")
	}
	if res.Assistant != client.analysisReply {
		t.Errorf("assistant = %q, want analysis reply", res.Assistant)
	}
}

func TestIngestChunksLongInputIntoSingleTurn(t *testing.T) {
	store := NewStore()
	client := &mockAIClient{
		analysisReply: "ok",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
			{Entities: []CandidateEntity{{SurfaceText: "Warehouse 7", Type: "Location"}}},
			{Entities: []CandidateEntity{{SurfaceText: "Mary", Type: "Person"}}},
		},
	}
	orch := newChunkingOrchestrator(store, client)

	text := "John Doe met a contact at the docks late in the evening. " +
		"Warehouse 7 was mentioned twice during the call with dispatch. " +
		"Mary arranged the transfer and left before midnight arrived."
	res, err := orch.Ingest(context.Background(), "case-1", text, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if client.extractCalls < 2 {
		t.Errorf("extraction calls = %d, want chunked input to produce several", client.extractCalls)
	}
	if store.Turn("case-1") != 1 {
		t.Errorf("turn = %d, want a single merged turn", store.Turn("case-1"))
	}
	if len(res.Diff.AddedEntities) != 3 {
		t.Errorf("added entities = %d, want 3 across all chunks", len(res.Diff.AddedEntities))
	}
}

// newChunkingOrchestrator builds an orchestrator whose chunk budget
// forces sentence-level chunking with the word counter.
func newChunkingOrchestrator(store *Store, client ai.CaseAIClient) *Orchestrator {
	o := NewOrchestrator(NewOrchestratorParams{
		Store:            store,
		Client:           client,
		ChunkTokens:      10,
		ParallelExtracts: 1,
	})
	o.counter = wordCounter
	return o
}
