package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// ScreenshotCapture is the stored output of the screenshot task.
type ScreenshotCapture struct {
	TargetURL     string    `json:"target_url"`
	ScreenshotURL string    `json:"screenshot_url,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	Bytes         int       `json:"bytes"`
	CapturedAt    time.Time `json:"captured_at"`
}

var _ audit.AgentTask = (*ScreenshotAgent)(nil)

// ScreenshotAgent captures a rendering of the target page through an external
// capture service.
type ScreenshotAgent struct {
	client   *http.Client
	endpoint string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScreenshotAgent creates the capture client. endpoint is the capture
// service URL; the target is passed as its "url" query parameter.
func NewScreenshotAgent(endpoint string, timeout time.Duration, logger *logger.Logger, tracer trace.Tracer) *ScreenshotAgent {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ScreenshotAgent{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		logger:   logger.With("component", "screenshot_agent"),
		tracer:   tracer,
	}
}

// ID returns the stable task name this adapter serves.
func (a *ScreenshotAgent) ID() string { return audit.TaskScreenshot }

// Execute requests a capture of the target page.
func (a *ScreenshotAgent) Execute(ctx context.Context, input audit.AgentInput) (audit.Result, error) {
	ctx, span := a.tracer.Start(ctx, "screenshot.execute",
		trace.WithAttributes(attribute.String("target_url", input.TargetURL)))
	defer span.End()

	if a.endpoint == "" {
		return nil, audit.NewFailure(audit.FailurePermanent, errors.New("screenshot service is not configured"))
	}

	captureURL, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, audit.NewFailure(audit.FailurePermanent, fmt.Errorf("invalid capture endpoint: %w", err))
	}
	q := captureURL.Query()
	q.Set("url", input.TargetURL)
	captureURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captureURL.String(), nil)
	if err != nil {
		return nil, audit.NewFailure(audit.FailurePermanent, fmt.Errorf("building request: %w", err))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("calling capture service: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if err := classifyHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBodySize))
	if err != nil {
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("reading capture response: %w", err))
	}

	capture := ScreenshotCapture{
		TargetURL:   input.TargetURL,
		ContentType: resp.Header.Get("Content-Type"),
		Bytes:       len(body),
		CapturedAt:  time.Now().UTC(),
	}

	// Capture services respond either with image bytes or with a JSON body
	// pointing at the stored image.
	var serviceResp struct {
		ScreenshotURL string `json:"screenshot_url"`
		URL           string `json:"url"`
	}
	if json.Unmarshal(body, &serviceResp) == nil {
		if serviceResp.ScreenshotURL != "" {
			capture.ScreenshotURL = serviceResp.ScreenshotURL
		} else if serviceResp.URL != "" {
			capture.ScreenshotURL = serviceResp.URL
		}
	}

	a.logger.Debug(ctx, "screenshot captured",
		"job_id", input.JobID, "target_url", input.TargetURL, "bytes", capture.Bytes)

	result, err := json.Marshal(capture)
	if err != nil {
		return nil, audit.NewFailure(audit.FailureInternal, fmt.Errorf("encoding capture: %w", err))
	}
	return result, nil
}
