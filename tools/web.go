// Web tools - search and page fetch
package tools

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gliderlab/crew/pkg/config"
)

const userAgent = "Mozilla/5.0 (compatible; crew/1.0)"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// WebSearchTool queries the DuckDuckGo HTML endpoint
type WebSearchTool struct{}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns a list of result titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

var (
	reSearchResult = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	reSnippet      = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag          = regexp.MustCompile(`<[^>]+>`)
)

func (t *WebSearchTool) Execute(args map[string]interface{}) (interface{}, error) {
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	limit := GetInt(args, "limit")
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequest("GET", "https://html.duckduckgo.com/html/?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, err
	}

	links := reSearchResult.FindAllStringSubmatch(string(body), limit)
	snippets := reSnippet.FindAllStringSubmatch(string(body), limit)

	if len(links) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, m := range links {
		title := stripTags(m[2])
		link := html.UnescapeString(m[1])
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, title, link)
		if i < len(snippets) {
			fmt.Fprintf(&sb, "   %s\n", stripTags(snippets[i][1]))
		}
	}
	return sb.String(), nil
}

// WebFetchTool fetches a page and returns its readable text
type WebFetchTool struct{}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page and return its text content."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page URL (http or https)",
			},
			"maxChars": map[string]interface{}{
				"type":        "integer",
				"description": "Max characters to return",
			},
		},
		"required": []string{"url"},
	}
}

var (
	reScript = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	reBlank  = regexp.MustCompile(`\n{3,}`)
)

func (t *WebFetchTool) Execute(args map[string]interface{}) (interface{}, error) {
	rawURL := GetString(args, "url")
	if rawURL == "" {
		return nil, fmt.Errorf("url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url: %s", rawURL)
	}

	maxChars := GetInt(args, "maxChars")
	if maxChars <= 0 {
		maxChars = config.MaxWebPageChars
	}

	req, err := http.NewRequest("GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}

	text := reScript.ReplaceAllString(string(body), "")
	text = stripTags(text)
	text = reBlank.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	return Truncate(text, maxChars), nil
}

func stripTags(s string) string {
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
