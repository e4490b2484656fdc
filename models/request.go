package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Rule transform types.
const (
	RuleTypeText      = "text"
	RuleTypeAttribute = "attribute"
	RuleTypeList      = "list"
	RuleTypeHTML      = "html"
)

// Wait strategies applied between navigation and extraction.
const (
	WaitStrategyAuto     = "auto"     // DOM-stable heuristic
	WaitStrategyDelay    = "delay"    // fixed delay
	WaitStrategySelector = "selector" // wait until the selector matches
	WaitStrategyIdle     = "idle"     // network-idle heuristic
)

// Render modes.
const (
	RenderBrowser = "browser"
	RenderHTTP    = "http"
)

// ScrapeRequest is the payload for POST /api/v1/scrape.
// It is immutable once accepted by the scheduler.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required.
	URL string `json:"url" binding:"required"`

	// Rules is the declarative extraction rule set. Required, at least one.
	Rules []ExtractionRule `json:"rules" binding:"required,min=1"`

	// Options tunes navigation, waiting and retry behavior.
	Options ScrapeOptions `json:"options"`
}

// ExtractionRule maps one named field to a CSS selector and a transform.
type ExtractionRule struct {
	// Name is the output field name. Unique within one request.
	Name string `json:"name"`

	// Selector is a CSS selector locating the element(s).
	Selector string `json:"selector"`

	// Type is the transform: "text" (default), "attribute", "list", "html".
	Type string `json:"type,omitempty"`

	// Attribute names the attribute to read when Type is "attribute".
	Attribute string `json:"attribute,omitempty"`
}

// ScrapeOptions carries per-request tuning knobs.
type ScrapeOptions struct {
	// NavigationTimeout is the page-load deadline in seconds.
	NavigationTimeout int `json:"navigation_timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// WaitTimeout is the wait-condition deadline in seconds.
	WaitTimeout int `json:"wait_timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// MaxRetries bounds retries of transient failures. A task makes at most
	// MaxRetries+1 attempts. Pointer so zero is distinguishable from unset.
	MaxRetries *int `json:"max_retries,omitempty"`

	// WaitFor selects the wait condition between navigation and extraction.
	WaitFor *WaitCondition `json:"wait_for,omitempty"`

	// Viewport sets the browser viewport for this task.
	Viewport *Viewport `json:"viewport,omitempty"`

	// Render picks the fetch path: "browser" (default) or "http".
	Render string `json:"render,omitempty" binding:"omitempty,oneof=browser http"`

	// Stealth enables anti-bot-detection evasions.
	Stealth bool `json:"stealth,omitempty"`

	// IncludeContent adds readability-extracted main content (as Markdown)
	// to the result alongside the rule fields.
	IncludeContent bool `json:"include_content,omitempty"`

	// Headers are extra HTTP headers applied to the navigation.
	Headers map[string]string `json:"headers,omitempty"`

	// MaxAge enables the result cache: serve a cached result no older than
	// this many milliseconds. 0 disables caching.
	MaxAge int `json:"max_age,omitempty"`
}

// WaitCondition describes when a loaded page is considered ready.
type WaitCondition struct {
	Strategy string `json:"strategy"`
	Selector string `json:"selector,omitempty"`
	DelayMs  int    `json:"delay_ms,omitempty"`
}

// Viewport is the browser window size for a task.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.Options.NavigationTimeout == 0 {
		r.Options.NavigationTimeout = 30
	}
	if r.Options.WaitTimeout == 0 {
		r.Options.WaitTimeout = 10
	}
	if r.Options.MaxRetries == nil {
		n := 2
		r.Options.MaxRetries = &n
	}
	if r.Options.Render == "" {
		r.Options.Render = RenderBrowser
	}
	if r.Options.WaitFor == nil {
		r.Options.WaitFor = &WaitCondition{Strategy: WaitStrategyAuto}
	}
	for i := range r.Rules {
		if r.Rules[i].Type == "" {
			r.Rules[i].Type = RuleTypeText
		}
	}
}

// Validate checks the request before it is ever admitted to the queue.
// Every violation is an INVALID_REQUEST: it is a caller error, no session
// is acquired and no retry will fix it.
func (r *ScrapeRequest) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return NewScrapeError(ErrKindInvalidRequest, fmt.Sprintf("malformed url %q", r.URL), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewScrapeError(ErrKindInvalidRequest,
			fmt.Sprintf("unsupported url scheme %q (want http or https)", u.Scheme), nil)
	}
	if u.Host == "" {
		return NewScrapeError(ErrKindInvalidRequest, fmt.Sprintf("url %q has no host", r.URL), nil)
	}

	if len(r.Rules) == 0 {
		return NewScrapeError(ErrKindInvalidRequest, "at least one extraction rule is required", nil)
	}

	seen := make(map[string]struct{}, len(r.Rules))
	for i, rule := range r.Rules {
		if rule.Name == "" {
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("rule %d has no field name", i), nil)
		}
		if _, dup := seen[rule.Name]; dup {
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("duplicate rule field name %q", rule.Name), nil)
		}
		seen[rule.Name] = struct{}{}

		if rule.Selector == "" {
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("rule %q has no selector", rule.Name), nil)
		}
		// Compile up front so a malformed selector is rejected here instead
		// of surfacing mid-extraction as an EXTRACTION_ERROR.
		if _, err := cascadia.Parse(rule.Selector); err != nil {
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("rule %q has a malformed selector %q", rule.Name, rule.Selector), err)
		}

		switch rule.Type {
		case "", RuleTypeText, RuleTypeList, RuleTypeHTML:
		case RuleTypeAttribute:
			if rule.Attribute == "" {
				return NewScrapeError(ErrKindInvalidRequest,
					fmt.Sprintf("rule %q has type %q but no attribute", rule.Name, RuleTypeAttribute), nil)
			}
		default:
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("rule %q has unknown type %q", rule.Name, rule.Type), nil)
		}
	}

	if wf := r.Options.WaitFor; wf != nil {
		switch wf.Strategy {
		case "", WaitStrategyAuto, WaitStrategyIdle:
		case WaitStrategyDelay:
			if wf.DelayMs <= 0 {
				return NewScrapeError(ErrKindInvalidRequest,
					"wait strategy \"delay\" requires a positive delay_ms", nil)
			}
		case WaitStrategySelector:
			if wf.Selector == "" {
				return NewScrapeError(ErrKindInvalidRequest,
					"wait strategy \"selector\" requires a selector", nil)
			}
			if _, err := cascadia.Parse(wf.Selector); err != nil {
				return NewScrapeError(ErrKindInvalidRequest,
					fmt.Sprintf("malformed wait selector %q", wf.Selector), err)
			}
		default:
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("unknown wait strategy %q", wf.Strategy), nil)
		}
	}

	if vp := r.Options.Viewport; vp != nil {
		if vp.Width <= 0 || vp.Height <= 0 {
			return NewScrapeError(ErrKindInvalidRequest,
				fmt.Sprintf("viewport %dx%d is not positive", vp.Width, vp.Height), nil)
		}
	}

	return nil
}

// TargetDomain returns the hostname the rate limiter keys on.
// Call only after Validate.
func (r *ScrapeRequest) TargetDomain() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return strings.ToLower(u.Hostname())
}
