// Package audits exposes the audit lifecycle endpoints: starting an audit,
// inspecting its status, streaming progress, cancelling, and fetching the
// final report.
package audits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nickbhavsar22/GTM-audit/internal/api"
	"github.com/nickbhavsar22/GTM-audit/internal/api/errs"
	"github.com/nickbhavsar22/GTM-audit/internal/app/orchestration"
	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
	"github.com/nickbhavsar22/GTM-audit/pkg/web"
)

// Config contains the dependencies needed by the audit handlers.
type Config struct {
	Log     *logger.Logger
	Jobs    *orchestration.JobManager
	Metrics api.APIMetrics
}

// Routes binds all the audit endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/audits", start(cfg))
	app.HandlerFunc(http.MethodGet, version, "/audits/{id}", status(cfg))
	app.HandlerFunc(http.MethodPost, version, "/audits/{id}/cancel", cancel(cfg))
	app.HandlerFunc(http.MethodGet, version, "/audits/{id}/results", results(cfg))
	app.HandlerFunc(http.MethodGet, version, "/audits/{id}/events", events(cfg))
}

// startRequest represents the payload for starting an audit.
type startRequest struct {
	TargetURL   string `json:"target_url" validate:"required,url"`
	CompanyName string `json:"company_name,omitempty"`
	Mode        string `json:"mode,omitempty" validate:"omitempty,oneof=full quick"`
}

// startResponse represents the response for starting an audit.
type startResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	Mode     string    `json:"mode"`
	Deadline time.Time `json:"deadline"`
}

// Encode implements the web.Encoder interface.
func (sr startResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (sr startResponse) HTTPStatus() int { return http.StatusAccepted } // 202

// start handles the request to start an audit.
func start(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Jobs.StartAudit(ctx, req.TargetURL, req.CompanyName, audit.Mode(req.Mode))
		if err != nil {
			if cfg.Metrics != nil {
				cfg.Metrics.IncAuditErrors(ctx, "start_rejected")
			}
			return errs.New(errs.InvalidArgument, err)
		}

		if cfg.Metrics != nil {
			cfg.Metrics.IncAuditsStarted(ctx, job.Mode().String())
		}

		return startResponse{
			JobID:    job.JobID(),
			Status:   job.Status().String(),
			Mode:     job.Mode().String(),
			Deadline: job.Deadline(),
		}
	}
}

// statusResponse wraps the job status view for encoding.
type statusResponse struct {
	orchestration.JobStatusView
}

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr.JobStatusView)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// status handles the request to get an audit's current state.
func status(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		view, err := cfg.Jobs.GetStatus(ctx, jobID)
		if err != nil {
			if errors.Is(err, audit.ErrJobNotFound) {
				return errs.New(errs.NotFound, fmt.Errorf("audit not found: %s", jobID))
			}
			return errs.New(errs.Internal, err)
		}

		return statusResponse{view}
	}
}

// cancelResponse represents the response for cancelling an audit.
type cancelResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Encode implements the web.Encoder interface.
func (cr cancelResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (cr cancelResponse) HTTPStatus() int { return http.StatusAccepted } // 202

// cancel handles the request to cancel an audit.
func cancel(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		if err := cfg.Jobs.Cancel(ctx, jobID); err != nil {
			switch {
			case errors.Is(err, audit.ErrJobNotFound):
				return errs.New(errs.NotFound, fmt.Errorf("audit not found: %s", jobID))
			case errors.Is(err, audit.ErrJobTerminal):
				return errs.New(errs.FailedPrecondition, err)
			default:
				return errs.New(errs.Internal, err)
			}
		}

		return cancelResponse{JobID: jobID, Status: audit.JobStatusCancelled.String()}
	}
}

// resultsResponse wraps the final report for encoding.
type resultsResponse struct {
	*audit.FinalReport
}

// Encode implements the web.Encoder interface.
func (rr resultsResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr.FinalReport)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// results handles the request to fetch the final report of a finished audit.
func results(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		report, err := cfg.Jobs.GetFinalResults(ctx, jobID)
		if err != nil {
			switch {
			case errors.Is(err, audit.ErrJobNotFound):
				return errs.New(errs.NotFound, fmt.Errorf("audit not found: %s", jobID))
			case errors.Is(err, audit.ErrJobNotTerminal):
				return errs.New(errs.FailedPrecondition, err)
			default:
				return errs.New(errs.Internal, err)
			}
		}

		return resultsResponse{report}
	}
}

// events streams an audit's progress as server-sent events. Subscribers get a
// snapshot of the latest event per task followed by live updates; the stream
// ends when the audit reaches a terminal status or the client disconnects.
func events(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, err := parseJobID(r)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		w := web.GetWriter(ctx)
		if w == nil {
			return errs.Newf(errs.Internal, "response writer unavailable")
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			return errs.Newf(errs.Internal, "streaming unsupported")
		}

		ch, err := cfg.Jobs.Subscribe(ctx, jobID)
		if err != nil {
			if errors.Is(err, audit.ErrJobNotFound) {
				return errs.New(errs.NotFound, fmt.Errorf("audit not found: %s", jobID))
			}
			return errs.New(errs.Internal, err)
		}
		if cfg.Metrics != nil {
			cfg.Metrics.IncProgressSubscribers(ctx)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return web.NewNoResponse()
			case event, open := <-ch:
				if !open {
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
					return web.NewNoResponse()
				}
				if err := writeEvent(w, event); err != nil {
					cfg.Log.Debug(ctx, "event stream write failed", "job_id", jobID, "error", err)
					return web.NewNoResponse()
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, event audit.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	jobID, err := uuid.Parse(web.Param(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid audit id: %w", err)
	}
	return jobID, nil
}
