package openai

import (
	"sync"

	"github.com/casetrail/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// CaseOpenAIClient implements ai.CaseAIClient against an OpenAI-compatible
// chat completion endpoint.
//
// A CaseOpenAIClient should be created using NewCaseOpenAIClient.
type CaseOpenAIClient struct {
	extractionModel string
	analysisModel   string

	chatURL string
	chatKey string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewCaseOpenAIClientParams defines the configuration for creating a new
// CaseOpenAIClient.
//
// ExtractionModel is used for schema-constrained extraction calls,
// AnalysisModel for free-text analysis and chat. ChatURL may be empty to
// use the default OpenAI endpoint.
type NewCaseOpenAIClientParams struct {
	ExtractionModel string
	AnalysisModel   string

	ChatURL string
	ChatKey string
}

// NewCaseOpenAIClient creates and returns a new CaseOpenAIClient configured
// with the provided parameters.
//
// Example:
//
//	client := openai.NewCaseOpenAIClient(openai.NewCaseOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		AnalysisModel:   "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewCaseOpenAIClient(params NewCaseOpenAIClientParams) *CaseOpenAIClient {
	return &CaseOpenAIClient{
		extractionModel: params.ExtractionModel,
		analysisModel:   params.AnalysisModel,

		chatURL: params.ChatURL,
		chatKey: params.ChatKey,

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient: newOpenaiClient(params.ChatURL, params.ChatKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}

func (c *CaseOpenAIClient) modifyMetrics(delta ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += delta.InputTokens
	c.metrics.OutputTokens += delta.OutputTokens
	c.metrics.TotalTokens += delta.TotalTokens
	c.metrics.DurationMs += delta.DurationMs
}

// ResetMetrics clears the accumulated usage metrics.
func (c *CaseOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the accumulated usage metrics.
func (c *CaseOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}
