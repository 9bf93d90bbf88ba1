package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

const (
	defaultUserAgent   = "gtm-audit-bot/1.0"
	defaultMaxBodySize = 2 << 20 // 2 MiB
	defaultMaxText     = 20000
	defaultMaxLinks    = 100
)

// ScrapedPage is the structured output of the web scraper task. Downstream
// specialists receive it through their dependency inputs.
type ScrapedPage struct {
	URL             string    `json:"url"`
	StatusCode      int       `json:"status_code"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"meta_description"`
	Headings        []string  `json:"headings,omitempty"`
	Links           []string  `json:"links,omitempty"`
	Text            string    `json:"text"`
	FetchedAt       time.Time `json:"fetched_at"`
}

var _ audit.AgentTask = (*ScraperAgent)(nil)

// ScraperAgent fetches and parses the target website's landing page. It is
// the root of the task dependency graph; every analyst builds on its output.
type ScraperAgent struct {
	client  *http.Client
	limiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScraperAgent creates a scraper with the given per-attempt timeout and
// request rate limit.
func NewScraperAgent(timeout time.Duration, rps float64, burst int, logger *logger.Logger, tracer trace.Tracer) *ScraperAgent {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScraperAgent{
		client:  &http.Client{Timeout: timeout},
		limiter: common.NewRateLimiter(rps, burst),
		logger:  logger.With("component", "scraper_agent"),
		tracer:  tracer,
	}
}

// ID returns the stable task name this adapter serves.
func (a *ScraperAgent) ID() string { return audit.TaskWebScraper }

// Execute fetches the target page and extracts its text content.
func (a *ScraperAgent) Execute(ctx context.Context, input audit.AgentInput) (audit.Result, error) {
	ctx, span := a.tracer.Start(ctx, "scraper.execute",
		trace.WithAttributes(attribute.String("target_url", input.TargetURL)))
	defer span.End()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.TargetURL, nil)
	if err != nil {
		return nil, audit.NewFailure(audit.FailurePermanent, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport errors (DNS, connect, TLS) are worth another attempt.
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("fetching %s: %w", input.TargetURL, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if err := classifyHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBodySize))
	if err != nil {
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("reading body: %w", err))
	}

	page := parsePage(input.TargetURL, resp.StatusCode, body)

	a.logger.Debug(ctx, "page scraped",
		"job_id", input.JobID, "target_url", input.TargetURL,
		"title", page.Title, "text_len", len(page.Text))

	result, err := json.Marshal(page)
	if err != nil {
		return nil, audit.NewFailure(audit.FailureInternal, fmt.Errorf("encoding page: %w", err))
	}
	return result, nil
}

// classifyHTTPStatus maps a remote status code to the failure taxonomy:
// rate limits and 5xx are transient, other 4xx are permanent.
func classifyHTTPStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return audit.NewFailure(audit.FailureTransient, fmt.Errorf("remote returned %d", status))
	default:
		return audit.NewFailure(audit.FailurePermanent, fmt.Errorf("remote returned %d", status))
	}
}

// parsePage extracts the title, meta description, headings, links, and
// visible text from an HTML document. Parsing never fails; malformed HTML
// yields whatever could be recovered.
func parsePage(url string, status int, body []byte) ScrapedPage {
	page := ScrapedPage{
		URL:        url,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		page.Text = truncate(string(body), defaultMaxText)
		return page
	}

	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && page.Title == "" {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				if attrVal(n, "name") == "description" {
					page.MetaDescription = attrVal(n, "content")
				}
			case "h1", "h2", "h3":
				if heading := strings.TrimSpace(nodeText(n)); heading != "" {
					page.Headings = append(page.Headings, heading)
				}
			case "a":
				if href := attrVal(n, "href"); href != "" && len(page.Links) < defaultMaxLinks {
					page.Links = append(page.Links, href)
				}
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				text.WriteString(trimmed)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	page.Text = truncate(strings.TrimSpace(text.String()), defaultMaxText)
	return page
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(nodeText(c))
		}
	}
	return sb.String()
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
