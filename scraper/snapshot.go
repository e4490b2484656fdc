package scraper

// Snapshot is the rendered state of one loaded page, captured after the
// wait condition is satisfied. Extraction runs against Snapshot.HTML, never
// against the live page, so a task cannot be broken by the page navigating
// away mid-extraction.
type Snapshot struct {
	// HTML is the rendered document.
	HTML string

	// Title is the page title.
	Title string

	// FinalURL is the URL after redirects.
	FinalURL string

	// StatusCode is the navigation response status, 0 when unavailable.
	StatusCode int
}
