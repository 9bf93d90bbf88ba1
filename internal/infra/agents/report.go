package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

var _ audit.ReportSynthesizer = (*ReportSynthesizer)(nil)

// ReportSynthesizer produces the final audit report from the specialist
// results via the LLM.
type ReportSynthesizer struct {
	llm *LLMClient

	logger *logger.Logger
	tracer trace.Tracer
}

// NewReportSynthesizer creates the synthesizer.
func NewReportSynthesizer(llm *LLMClient, logger *logger.Logger, tracer trace.Tracer) *ReportSynthesizer {
	return &ReportSynthesizer{
		llm:    llm,
		logger: logger.With("component", "report_synthesizer"),
		tracer: tracer,
	}
}

// Synthesize builds the report from the frozen result snapshot. When results
// are missing, the report names the gaps rather than failing.
func (s *ReportSynthesizer) Synthesize(
	ctx context.Context,
	job *audit.Job,
	results map[string]audit.Result,
	missing []string,
) (audit.Result, error) {
	ctx, span := s.tracer.Start(ctx, "report.synthesize",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.Int("result_count", len(results)),
			attribute.Int("missing_count", len(missing)),
		))
	defer span.End()

	content, err := s.llm.Complete(ctx, s.buildPrompt(job, results, missing))
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(content)) {
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("model returned invalid JSON for report"))
	}

	s.logger.Info(ctx, "report generated", "job_id", job.JobID(), "report_len", len(content))
	return audit.Result(content), nil
}

func (s *ReportSynthesizer) buildPrompt(job *audit.Job, results map[string]audit.Result, missing []string) string {
	var sb strings.Builder

	sb.WriteString(`Synthesize a go-to-market audit report for the company website below from the specialist
analyses provided. Respond with a single JSON object with the keys: "executive_summary" (string),
"overall_score" (integer 0-100), "sections" (array of {"area", "summary", "score", "top_recommendations"}),
and "priority_actions" (array of strings, ordered by impact).`)

	sb.WriteString(fmt.Sprintf("\n\nWebsite: %s\n", job.TargetURL()))
	if job.CompanyName() != "" {
		sb.WriteString(fmt.Sprintf("Company: %s\n", job.CompanyName()))
	}

	if len(missing) > 0 {
		sb.WriteString("\nThe following analyses are unavailable; note the gaps in the executive summary: ")
		sb.WriteString(strings.Join(missing, ", "))
		sb.WriteString("\n")
	}

	for taskID, result := range results {
		sb.WriteString(fmt.Sprintf("\n--- %s analysis ---\n%s\n", taskID, truncate(string(result), 6000)))
	}

	return sb.String()
}
