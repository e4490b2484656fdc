package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snaredev/snare/models"
)

func params(baseURL string) SummarizeParams {
	return SummarizeParams{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: baseURL}
}

func TestSummarize_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": `{"title":"Go Patterns","summary":"An overview.","key_points":["channels"],"language":"en"}`,
				}},
			},
			"usage": map[string]int{
				"prompt_tokens":     120,
				"completion_tokens": 40,
				"total_tokens":      160,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	res, err := c.Summarize(context.Background(), "Some article text.", params(srv.URL))
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}

	var summary struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(res.Summary, &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if summary.Title != "Go Patterns" {
		t.Errorf("title = %q, want Go Patterns", summary.Title)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 160 {
		t.Errorf("usage = %+v, want total 160", res.Usage)
	}
}

func TestSummarize_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	_, err := c.Summarize(context.Background(), "text", params(srv.URL))

	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Kind != models.ErrKindLLMAuthFailure {
		t.Fatalf("expected LLM auth failure, got %v", err)
	}
	if se.Message != "Incorrect API key provided" {
		t.Errorf("message = %q, want the provider message", se.Message)
	}
}

func TestSummarize_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	_, err := c.Summarize(context.Background(), "text", params(srv.URL))

	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Kind != models.ErrKindLLMRateLimited {
		t.Fatalf("expected LLM rate limited, got %v", err)
	}
}

func TestSummarize_InvalidJSONFromModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Sure! Here is the summary: ..."}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	_, err := c.Summarize(context.Background(), "text", params(srv.URL))

	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Kind != models.ErrKindLLMFailure {
		t.Fatalf("expected LLM failure for non-JSON output, got %v", err)
	}
}
