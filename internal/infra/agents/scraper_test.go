package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

const landingPage = `<!DOCTYPE html>
<html>
<head>
	<title>Acme Rockets</title>
	<meta name="description" content="Rockets for coyotes">
	<style>.hero { color: red; }</style>
</head>
<body>
	<h1>Ship faster with Acme</h1>
	<h2>Trusted by 500 desert predators</h2>
	<script>console.log("ignored")</script>
	<p>Acme builds reliable rockets.</p>
	<a href="/pricing">Pricing</a>
	<a href="https://twitter.com/acme">Twitter</a>
</body>
</html>`

func newTestScraper() *ScraperAgent {
	return NewScraperAgent(5*time.Second, 100, 10, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestParsePage(t *testing.T) {
	page := parsePage("https://acme.test", 200, []byte(landingPage))

	assert.Equal(t, "https://acme.test", page.URL)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, "Acme Rockets", page.Title)
	assert.Equal(t, "Rockets for coyotes", page.MetaDescription)
	assert.Equal(t, []string{"Ship faster with Acme", "Trusted by 500 desert predators"}, page.Headings)
	assert.Equal(t, []string{"/pricing", "https://twitter.com/acme"}, page.Links)
	assert.Contains(t, page.Text, "Acme builds reliable rockets.")
	assert.NotContains(t, page.Text, "console.log", "script content is stripped")
	assert.NotContains(t, page.Text, "color: red", "style content is stripped")
	assert.False(t, page.FetchedAt.IsZero())
}

func TestParsePageTruncatesText(t *testing.T) {
	var body string
	for range 3000 {
		body += "more words here "
	}
	page := parsePage("https://acme.test", 200, []byte("<html><body>"+body+"</body></html>"))
	assert.LessOrEqual(t, len(page.Text), defaultMaxText)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short string untouched", in: "héllo", max: 10, want: "héllo"},
		{name: "cut on ascii boundary", in: "hello", max: 3, want: "hel"},
		{name: "cut inside two byte rune", in: "aé", max: 2, want: "a"},
		{name: "cut inside four byte rune", in: "a\U0001F680b", max: 3, want: "a"},
		{name: "cut to zero", in: "é", max: 1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got), "truncation must never split a rune")
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   audit.FailureKind
	}{
		{name: "success passes", status: 200},
		{name: "redirect passes", status: 302},
		{name: "not found is permanent", status: 404, want: audit.FailurePermanent},
		{name: "forbidden is permanent", status: 403, want: audit.FailurePermanent},
		{name: "rate limit is transient", status: 429, want: audit.FailureTransient},
		{name: "server error is transient", status: 500, want: audit.FailureTransient},
		{name: "bad gateway is transient", status: 502, want: audit.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPStatus(tt.status)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, audit.ClassifyError(err))
		})
	}
}

func TestScraperExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, landingPage)
	}))
	defer srv.Close()

	agent := newTestScraper()
	result, err := agent.Execute(context.Background(), audit.AgentInput{
		JobID:     uuid.New(),
		TargetURL: srv.URL,
	})
	require.NoError(t, err)

	var page ScrapedPage
	require.NoError(t, json.Unmarshal(result, &page))
	assert.Equal(t, "Acme Rockets", page.Title)
	assert.Equal(t, srv.URL, page.URL)
}

func TestScraperExecuteClassifiesRemoteFailures(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	agent := newTestScraper()

	status = http.StatusNotFound
	_, err := agent.Execute(context.Background(), audit.AgentInput{TargetURL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, audit.FailurePermanent, audit.ClassifyError(err))

	status = http.StatusServiceUnavailable
	_, err = agent.Execute(context.Background(), audit.AgentInput{TargetURL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, audit.FailureTransient, audit.ClassifyError(err))
}

func TestScraperExecuteTransportErrorIsTransient(t *testing.T) {
	agent := newTestScraper()

	// A closed server yields a connect error.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := agent.Execute(context.Background(), audit.AgentInput{TargetURL: url})
	require.Error(t, err)
	assert.Equal(t, audit.FailureTransient, audit.ClassifyError(err))
}

func TestScraperExecuteHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	agent := newTestScraper()
	go func() {
		_, err := agent.Execute(ctx, audit.AgentInput{TargetURL: srv.URL})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancellation")
	}
}
