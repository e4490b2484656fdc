package extract

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"github.com/snaredev/snare/models"
)

// minContentLength is the minimum readability TextContent length (in
// characters) to be considered a real extraction. Below it we assume the
// algorithm missed the main content and fall back to the full page.
const minContentLength = 50

// MainContent runs the Mozilla Readability algorithm on the rendered HTML
// and converts the main content to Markdown. Used for the include_content
// request option and as the summarization input.
//
// Readability failures are not fatal: the full page HTML is converted
// instead, so callers always get something to work with.
func (p *Pipeline) MainContent(html, sourceURL string) (string, error) {
	content := html

	if u, err := nurl.Parse(sourceURL); err == nil {
		article, err := readability.FromReader(strings.NewReader(html), u)
		switch {
		case err != nil:
			slog.Debug("readability failed, converting full page",
				"url", sourceURL, "error", err)
		case len(strings.TrimSpace(article.TextContent)) < minContentLength:
			slog.Debug("readability content too short, converting full page",
				"url", sourceURL, "length", len(article.TextContent))
		default:
			content = article.Content
		}
	}

	md, err := p.conv.ConvertString(content, converter.WithDomain(domainOf(sourceURL)))
	if err != nil {
		return "", models.NewScrapeError(models.ErrKindExtractionError,
			"markdown conversion failed", err)
	}
	return strings.TrimSpace(md), nil
}

func domainOf(rawURL string) string {
	u, err := nurl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
