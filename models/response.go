package models

import "encoding/json"

// Result statuses.
const (
	StatusSuccess = "success" // every rule produced a value
	StatusPartial = "partial" // at least one rule produced a value
	StatusFailed  = "failed"  // terminal failure, no usable fields
)

// ScrapeResponse is the terminal result for one submitted request. The
// scheduler guarantees exactly one of these per task, success or failure.
type ScrapeResponse struct {
	// Status is "success", "partial" or "failed".
	Status string `json:"status"`

	// Fields maps rule field names to extracted values. A rule whose
	// selector matched nothing is present with a null value.
	Fields map[string]any `json:"fields,omitempty"`

	// FieldErrors carries per-field diagnostics for null fields in a
	// partial result.
	FieldErrors map[string]string `json:"field_errors,omitempty"`

	// Attempts is the number of navigation attempts made (1 on first-try
	// success, max_retries+1 on exhaustion).
	Attempts int `json:"attempts"`

	// Content is readability-extracted main content as Markdown.
	// Present only when the request set include_content.
	Content string `json:"content,omitempty"`

	// Meta holds page-level metadata from the rendered page.
	Meta PageMeta `json:"meta"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the result was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Status is "failed".
	Error *ErrorDetail `json:"error,omitempty"`
}

// PageMeta holds page-level information captured during navigation.
type PageMeta struct {
	Title      string `json:"title,omitempty"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// NavigationMs is the time spent navigating and waiting for readiness,
	// summed across attempts.
	NavigationMs int64 `json:"navigation_ms"`

	// ExtractionMs is the time spent running the extraction pipeline.
	ExtractionMs int64 `json:"extraction_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string     `json:"status"` // "healthy" or "degraded"
	Uptime  string     `json:"uptime"`
	Pool    PoolStats  `json:"pool"`
	Queue   QueueStats `json:"queue"`
	Version string     `json:"version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	Capacity int `json:"capacity"`
	Live     int `json:"live"`
	Busy     int `json:"busy"`
	Idle     int `json:"idle"`
}

// QueueStats reports the state of the scheduler intake queue.
type QueueStats struct {
	Capacity int `json:"capacity"`
	Depth    int `json:"depth"`
}

// SummarizeRequest is the payload for POST /api/v1/summarize.
// It wraps a scrape with an LLM summarization pass (BYOK).
type SummarizeRequest struct {
	// URL is the target page to scrape and summarize. Required.
	URL string `json:"url" binding:"required"`

	// LLMAPIKey is the caller's own LLM API key. Required.
	LLMAPIKey string `json:"llm_api_key" binding:"required"`

	// LLMModel is the model to use. Default: "gpt-4o-mini".
	LLMModel string `json:"llm_model,omitempty"`

	// LLMBaseURL is the base URL of an OpenAI-compatible API.
	// Default: "https://api.openai.com/v1".
	LLMBaseURL string `json:"llm_base_url,omitempty"`

	// Options tunes the underlying scrape. Rules are not used here; the
	// whole readability-extracted page content is summarized.
	Options ScrapeOptions `json:"options"`
}

// Defaults applies default values to unset fields.
func (r *SummarizeRequest) Defaults() {
	if r.LLMModel == "" {
		r.LLMModel = "gpt-4o-mini"
	}
	if r.LLMBaseURL == "" {
		r.LLMBaseURL = "https://api.openai.com/v1"
	}
}

// SummarizeResponse is the response for POST /api/v1/summarize.
type SummarizeResponse struct {
	Success bool `json:"success"`

	// Summary is the structured JSON summary produced by the LLM.
	Summary json.RawMessage `json:"summary,omitempty"`

	Meta   PageMeta   `json:"meta"`
	Timing TimingInfo `json:"timing"`

	// LLMUsage reports token consumption from the LLM call.
	LLMUsage *LLMUsage `json:"llm_usage,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// LLMUsage reports token consumption from the LLM call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
