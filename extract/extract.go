// Package extract applies declarative rule sets to rendered HTML.
//
// Each rule is applied independently: a selector that matches nothing
// yields a null value with a per-field diagnostic, never a pipeline error.
// The pipeline as a whole fails only when the page content itself is
// unusable.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/snaredev/snare/models"
)

// Pipeline runs rule sets against rendered HTML snapshots. The embedded
// Markdown converter is goroutine-safe and reused across requests.
type Pipeline struct {
	conv *converter.Converter
}

// NewPipeline creates a Pipeline with a pre-configured Markdown converter
// (base plugin strips script/style noise, commonmark renders standard
// Markdown, table preserves tabular structure).
func NewPipeline() *Pipeline {
	return &Pipeline{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
	}
}

// Result is the output of one pipeline run.
type Result struct {
	// Fields maps every rule name to its value, null when unmatched.
	Fields map[string]any

	// FieldErrors explains each null field.
	FieldErrors map[string]string
}

// Extracted counts the fields that produced a non-null value.
func (r *Result) Extracted() int {
	n := 0
	for _, v := range r.Fields {
		if v != nil {
			n++
		}
	}
	return n
}

// Status derives the result status: "success" when every field extracted,
// "partial" when at least one did. Zero extracted fields is reported as an
// error by Extract instead.
func (r *Result) Status() string {
	if r.Extracted() == len(r.Fields) {
		return models.StatusSuccess
	}
	return models.StatusPartial
}

// Extract runs the rule set over the HTML snapshot. Rules are assumed to
// have passed submission-time validation; a selector that still fails to
// compile here, an unparsable document, or a rule set where no rule matched
// anything at all are EXTRACTION_ERRORs (non-retryable: the page rendered,
// the rules just don't fit it).
func (p *Pipeline) Extract(html string, rules []models.ExtractionRule) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrKindExtractionError,
			"rendered page could not be parsed", err)
	}

	res := &Result{
		Fields:      make(map[string]any, len(rules)),
		FieldErrors: make(map[string]string),
	}

	for _, rule := range rules {
		sel, err := cascadia.Compile(rule.Selector)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrKindExtractionError,
				"malformed selector "+rule.Selector, err)
		}

		value, diag := applyRule(doc, sel, rule)
		res.Fields[rule.Name] = value
		if diag != "" {
			res.FieldErrors[rule.Name] = diag
		}
	}

	if res.Extracted() == 0 {
		return nil, models.NewScrapeError(models.ErrKindExtractionError,
			"no rule matched any element on the page", nil)
	}
	return res, nil
}

// applyRule evaluates one rule. Returns (nil, diagnostic) when the rule
// produced no value.
func applyRule(doc *goquery.Document, sel cascadia.Selector, rule models.ExtractionRule) (any, string) {
	matches := doc.FindMatcher(sel)
	if matches.Length() == 0 {
		return nil, "selector matched no elements"
	}

	switch rule.Type {
	case models.RuleTypeAttribute:
		attr, ok := matches.First().Attr(rule.Attribute)
		if !ok {
			return nil, "matched element has no attribute " + rule.Attribute
		}
		return attr, ""

	case models.RuleTypeList:
		values := make([]string, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
		return values, ""

	case models.RuleTypeHTML:
		h, err := goquery.OuterHtml(matches.First())
		if err != nil {
			return nil, "failed to serialize matched element: " + err.Error()
		}
		return h, ""

	default: // text
		return strings.TrimSpace(matches.First().Text()), ""
	}
}
