package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// specialistPrompts holds the analysis focus of every LLM-backed specialist.
// The shared preamble and scraped-page context are assembled by buildPrompt.
var specialistPrompts = map[string]string{
	audit.TaskCompanyResearch: `Research this company based on its website. Identify: company name, what they sell,
industry, target market, company stage (startup/growth/enterprise), and any notable positioning signals.`,

	audit.TaskCompetitor: `Analyze the competitive landscape implied by this website. Identify: likely direct
competitors, the category the company competes in, differentiation claims made on the site, and gaps versus
typical category leaders.`,

	audit.TaskReviewSentiment: `Assess the social proof and review posture of this website. Identify: testimonials,
case studies, review badges, named customers, and overall sentiment signals. Note what proof is missing.`,

	audit.TaskSEO: `Audit the on-page SEO and search visibility signals of this website. Evaluate: title and meta
description quality, heading structure, keyword focus, content depth, and obvious technical issues visible
from the page content.`,

	audit.TaskMessaging: `Audit the messaging and positioning of this website. Evaluate: clarity of the value
proposition, who the message targets, specificity of claims, use of jargon, and how quickly a visitor
understands what is offered.`,

	audit.TaskVisualDesign: `Audit the visual and design signals of this website based on its structure and content.
Evaluate: information hierarchy, content density, branding consistency signals, and whether the page structure
supports its message.`,

	audit.TaskConversion: `Audit the conversion path of this website. Evaluate: calls to action, their placement and
clarity, friction in the path to signup or contact, lead capture mechanisms, and missing conversion elements.`,

	audit.TaskSocial: `Audit the social and engagement presence signaled by this website. Identify: linked social
channels, community signals, content marketing presence, and engagement hooks. Note absent channels.`,

	audit.TaskICP: `Derive the ideal customer profile this website targets. Identify: firmographics, buyer roles,
pain points addressed, and segments the messaging speaks to. Use the company research context when provided.`,
}

// buildPrompt assembles a specialist prompt: instructions, response contract,
// and the scraped page plus any other dependency context.
func buildPrompt(taskID string, input audit.AgentInput) string {
	var sb strings.Builder

	sb.WriteString(specialistPrompts[taskID])
	sb.WriteString("\n\nRespond with a single JSON object with the keys: ")
	sb.WriteString(`"summary" (string), "findings" (array of {"title", "detail", "severity"}), `)
	sb.WriteString(`"score" (integer 0-100), and "recommendations" (array of strings).`)
	sb.WriteString(fmt.Sprintf("\n\nWebsite under audit: %s\n", input.TargetURL))

	if scraped, ok := input.Dependencies[audit.TaskWebScraper]; ok {
		var page ScrapedPage
		if err := json.Unmarshal(scraped, &page); err == nil {
			sb.WriteString(fmt.Sprintf("\nPage title: %s\nMeta description: %s\n", page.Title, page.MetaDescription))
			if len(page.Headings) > 0 {
				sb.WriteString("Headings: " + strings.Join(page.Headings, " | ") + "\n")
			}
			sb.WriteString("\nPage content:\n" + truncate(page.Text, 12000) + "\n")
		}
	}

	for depID, result := range input.Dependencies {
		if depID == audit.TaskWebScraper {
			continue
		}
		sb.WriteString(fmt.Sprintf("\nContext from %s analysis:\n%s\n", depID, truncate(string(result), 4000)))
	}

	return sb.String()
}

// NewSpecialistAgents creates the full roster of LLM-backed analysts sharing
// one client.
func NewSpecialistAgents(llm *LLMClient, logger *logger.Logger, tracer trace.Tracer) []audit.AgentTask {
	out := make([]audit.AgentTask, 0, len(specialistPrompts))
	for id := range specialistPrompts {
		out = append(out, NewSpecialistAgent(id, promptFor(id), llm, logger, tracer))
	}
	return out
}

func promptFor(taskID string) PromptBuilder {
	return func(input audit.AgentInput) string {
		return buildPrompt(taskID, input)
	}
}
