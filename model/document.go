package model

import "time"

// SourceDocument is one crawled page. It only lives for the duration of a crawl pass.
type SourceDocument struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Text         string    `json:"text,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at,omitempty"`
}

// CandidateURL is an entry of the crawl frontier produced by the sitemap walker.
// A zero LastModified means the sitemap gave no usable date; such entries sort last.
type CandidateURL struct {
	URL          string    `json:"url"`
	LastModified time.Time `json:"last_modified"`
}
