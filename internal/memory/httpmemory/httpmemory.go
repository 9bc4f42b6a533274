// Package httpmemory is an example memory_provider implementation
// (spec.md §4.5/§9): it scrapes a single web page fixed at construction
// and offers its cleaned text as supplementary context, scored by a
// simple keyword-overlap heuristic. It demonstrates the external
// collaborator contract; it is not part of the core driver.
package httpmemory

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Provider fetches PageURL and offers its cleaned text as context for any
// task whose words overlap with the page.
type Provider struct {
	PageURL string
	Client  *http.Client
}

// New returns a Provider for pageURL with a bounded-timeout HTTP client.
func New(pageURL string) *Provider {
	return &Provider{
		PageURL: pageURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Relevant implements driver.MemoryProvider.
func (p *Provider) Relevant(taskText string) (string, float64, error) {
	resp, err := p.Client.Get(p.PageURL)
	if err != nil {
		return "", 0, fmt.Errorf("fetching %s: %w", p.PageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("fetching %s: status %d", p.PageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("parsing %s: %w", p.PageURL, err)
	}

	doc.Find("script, style, nav, header, footer, iframe, noscript").Each(func(_ int, s *goquery.Selection) {
		s.Remove()
	})

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return text, relevanceScore(taskText, text), nil
}

// relevanceScore is the fraction of taskText's distinct words that also
// appear in pageText, case-insensitively.
func relevanceScore(taskText, pageText string) float64 {
	words := strings.Fields(strings.ToLower(taskText))
	if len(words) == 0 {
		return 0
	}
	lowerPage := strings.ToLower(pageText)

	seen := map[string]bool{}
	hits := 0
	total := 0
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		total++
		if strings.Contains(lowerPage, w) {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
