// snare-mcp exposes the snare HTTP API as MCP tools over stdio, so agents
// can scrape pages with extraction rules or fetch LLM summaries without
// speaking the REST contract directly.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors the snare API request model.
type scrapeRequest struct {
	URL     string           `json:"url"`
	Rules   []map[string]any `json:"rules"`
	Options map[string]any   `json:"options,omitempty"`
}

// scrapeResponse mirrors the snare API response model.
type scrapeResponse struct {
	Status      string            `json:"status"`
	Fields      map[string]any    `json:"fields"`
	FieldErrors map[string]string `json:"field_errors"`
	Content     string            `json:"content"`
	Meta        *struct {
		Title      string `json:"title"`
		FinalURL   string `json:"final_url"`
		StatusCode int    `json:"status_code"`
	} `json:"meta"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// summarizeResponse mirrors the snare summarize API response model.
type summarizeResponse struct {
	Success bool            `json:"success"`
	Summary json.RawMessage `json:"summary"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("SNARE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SNARE_API_KEY")

	s := server.NewMCPServer(
		"snare",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_page",
		mcp.WithDescription("Scrape a web page with CSS selector extraction rules. Uses a headless browser to render JavaScript-heavy pages and returns the extracted fields as JSON."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("rules",
			mcp.Required(),
			mcp.Description(`JSON array of extraction rules, e.g. [{"name":"title","selector":"h1","type":"text"},{"name":"links","selector":"a","type":"attribute","attribute":"href"}]. Types: text, attribute, list, html.`),
		),
		mcp.WithString("render",
			mcp.Description("Rendering engine: 'browser' (default, full headless Chromium) or 'http' (plain HTTP fetch, faster but no JavaScript)"),
			mcp.Enum("browser", "http"),
		),
		mcp.WithBoolean("include_content",
			mcp.Description("Also return the page's main content as Markdown"),
		),
	)
	s.AddTool(scrapeTool, handleScrapePage(apiURL, apiKey))

	summarizeTool := mcp.NewTool("summarize_page",
		mcp.WithDescription("Scrape a web page and return a structured LLM summary (title, summary, key points). Requires an LLM API key (OpenAI-compatible)."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to summarize"),
		),
		mcp.WithString("llm_api_key",
			mcp.Required(),
			mcp.Description("API key for the LLM service (OpenAI-compatible)"),
		),
		mcp.WithString("llm_model",
			mcp.Description("LLM model to use (default: 'gpt-4o-mini')"),
		),
		mcp.WithString("llm_base_url",
			mcp.Description("Base URL for the LLM API (default: 'https://api.openai.com/v1')"),
		),
	)
	s.AddTool(summarizeTool, handleSummarizePage(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the snare API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleScrapePage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		rulesJSON, err := request.RequireString("rules")
		if err != nil {
			return mcp.NewToolResultError("rules is required"), nil
		}

		var rules []map[string]any
		if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rules must be a JSON array: %v", err)), nil
		}

		options := map[string]any{}
		if render := request.GetString("render", ""); render != "" {
			options["render"] = render
		}
		if request.GetBool("include_content", false) {
			options["include_content"] = true
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/scrape", scrapeRequest{
			URL:     url,
			Rules:   rules,
			Options: options,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var scrapeResp scrapeResponse
		if err := json.Unmarshal(respBody, &scrapeResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if scrapeResp.Status == "failed" {
			errMsg := "scrape failed"
			if scrapeResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", scrapeResp.Error.Kind, scrapeResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		out := map[string]any{
			"status": scrapeResp.Status,
			"fields": scrapeResp.Fields,
		}
		if len(scrapeResp.FieldErrors) > 0 {
			out["field_errors"] = scrapeResp.FieldErrors
		}
		if scrapeResp.Meta != nil {
			out["title"] = scrapeResp.Meta.Title
			out["final_url"] = scrapeResp.Meta.FinalURL
		}
		if scrapeResp.Content != "" {
			out["content"] = scrapeResp.Content
		}

		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(pretty)), nil
	}
}

func handleSummarizePage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		llmKey, err := request.RequireString("llm_api_key")
		if err != nil {
			return mcp.NewToolResultError("llm_api_key is required"), nil
		}

		payload := map[string]any{
			"url":         url,
			"llm_api_key": llmKey,
		}
		if model := request.GetString("llm_model", ""); model != "" {
			payload["llm_model"] = model
		}
		if base := request.GetString("llm_base_url", ""); base != "" {
			payload["llm_base_url"] = base
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/summarize", payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var sumResp summarizeResponse
		if err := json.Unmarshal(respBody, &sumResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !sumResp.Success {
			errMsg := "summarize failed"
			if sumResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", sumResp.Error.Kind, sumResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(string(sumResp.Summary)), nil
	}
}
