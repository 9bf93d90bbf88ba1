package agents

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

func TestEverySpecialistHasAPrompt(t *testing.T) {
	for _, spec := range audit.CatalogForMode(audit.ModeFull) {
		if spec.Synthesis || spec.ID == audit.TaskWebScraper || spec.ID == audit.TaskScreenshot {
			continue
		}
		assert.NotEmpty(t, specialistPrompts[spec.ID], "no prompt for %s", spec.ID)
	}
}

func TestBuildPromptIncludesScrapedContext(t *testing.T) {
	scraped, err := json.Marshal(ScrapedPage{
		Title:           "Acme Rockets",
		MetaDescription: "Rockets for coyotes",
		Headings:        []string{"Ship faster"},
		Text:            "Acme builds reliable rockets.",
	})
	require.NoError(t, err)

	prompt := buildPrompt(audit.TaskMessaging, audit.AgentInput{
		JobID:     uuid.New(),
		TargetURL: "https://acme.test",
		Dependencies: map[string]audit.Result{
			audit.TaskWebScraper:      scraped,
			audit.TaskCompanyResearch: audit.Result(`{"summary":"rocket vendor"}`),
		},
	})

	assert.Contains(t, prompt, "https://acme.test")
	assert.Contains(t, prompt, "Acme Rockets")
	assert.Contains(t, prompt, "Ship faster")
	assert.Contains(t, prompt, "Acme builds reliable rockets.")
	assert.Contains(t, prompt, "rocket vendor", "sibling analysis results feed the prompt")
	assert.Contains(t, prompt, `"summary"`, "the response contract names its keys")
	assert.Contains(t, prompt, `"score"`)
}

func TestBuildPromptWithoutDependencies(t *testing.T) {
	prompt := buildPrompt(audit.TaskSEO, audit.AgentInput{TargetURL: "https://acme.test"})
	assert.Contains(t, prompt, "https://acme.test")
	assert.NotContains(t, prompt, "Page title")
}

func TestNewSpecialistAgentsCoversTheRoster(t *testing.T) {
	roster := NewSpecialistAgents(nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.Len(t, roster, len(specialistPrompts))

	seen := make(map[string]bool)
	for _, agent := range roster {
		seen[agent.ID()] = true
	}
	for id := range specialistPrompts {
		assert.True(t, seen[id], "no agent built for %s", id)
	}
}

func TestRegistryResolvesAgentsByID(t *testing.T) {
	scraper := newTestScraper()
	registry := NewRegistry(scraper)

	got, ok := registry.Get(audit.TaskWebScraper)
	require.True(t, ok)
	assert.Equal(t, scraper, got)

	_, ok = registry.Get("unknown")
	assert.False(t, ok)
}
