package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/nickbhavsar22/GTM-audit/internal/api"
	"github.com/nickbhavsar22/GTM-audit/pkg/web"
)

// Metrics records request counts and latencies for every handled request.
func Metrics(metrics api.APIMetrics) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()

			resp := next(ctx, r)

			var status = http.StatusOK
			switch v := resp.(type) {
			case interface{ HTTPStatus() int }:
				status = v.HTTPStatus()

			case error:
				status = http.StatusInternalServerError

			default:
				if resp == nil {
					status = http.StatusNoContent
				}
			}

			metrics.IncRequestsTotal(ctx, r.Method, r.URL.Path, status)
			metrics.ObserveRequestDuration(ctx, r.Method, r.URL.Path, time.Since(start))

			return resp
		}
		return h
	}
	return m
}
