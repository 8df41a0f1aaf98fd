// Package fetch turns a URL into text a model can read. A Reader
// downloads the page, the extractor strips script, style, and
// navigation chrome, and the resulting Page renders itself as the
// read_page capability's answer.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valetlabs/valet/internal/httpkit"
)

const (
	readTimeout = 30 * time.Second

	// maxBodyBytes caps the downloaded body at 5 MB; anything past
	// that is not a page worth reading in a conversation.
	maxBodyBytes int64 = 5 << 20

	// DefaultMaxChars bounds rendered page text when the caller does
	// not ask for a limit.
	DefaultMaxChars = 50000
)

// Page is one fetched, stripped web page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Reader fetches and strips pages.
type Reader struct {
	client   *http.Client
	maxBytes int64
}

// NewReader creates a Reader on the shared outbound HTTP defaults.
func NewReader() *Reader {
	return &Reader{
		client:   httpkit.NewClient(httpkit.WithTimeout(readTimeout)),
		maxBytes: maxBodyBytes,
	}
}

// Read downloads rawURL and extracts its readable text. A scheme-less
// URL is assumed https. Error statuses and non-text bodies are errors;
// the dispatch boundary turns them into result strings for the model.
func (r *Reader) Read(ctx context.Context, rawURL string) (*Page, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bad url %q: %w", rawURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, r.maxBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	page := &Page{URL: rawURL}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		page.Title, page.Text = extract(bytes.NewReader(body))
	default:
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("fetch %s: %q is not readable text", rawURL, ct)
		}
		page.Text = strings.TrimSpace(string(body))
	}
	return page, nil
}

// Render formats the page for a conversation: title, source URL, then
// the text trimmed to at most maxChars runes (DefaultMaxChars when
// maxChars <= 0) without splitting a multi-byte character.
func (p *Page) Render(maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text := p.Text
	trimmed := false
	if utf8.RuneCountInString(text) > maxChars {
		text = trimRunes(text, maxChars)
		trimmed = true
	}

	var b strings.Builder
	if p.Title != "" {
		b.WriteString(p.Title)
		b.WriteByte('\n')
	}
	b.WriteString(p.URL)
	b.WriteString("\n\n")
	if text == "" {
		b.WriteString("The page had no readable text.")
	} else {
		b.WriteString(text)
	}
	if trimmed {
		fmt.Fprintf(&b, "\n\n[trimmed to the first %d characters]", maxChars)
	}
	return b.String()
}

// trimRunes cuts s after n runes.
func trimRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
