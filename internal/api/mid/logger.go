package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
	"github.com/nickbhavsar22/GTM-audit/pkg/web"
)

// Logger writes information about the request to the logs.
func Logger(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			now := time.Now()

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = path + "?" + r.URL.RawQuery
			}

			log.Info(ctx, "request started", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr)

			resp := next(ctx, r)

			var statusCode = http.StatusOK
			switch v := resp.(type) {
			case interface{ HTTPStatus() int }:
				statusCode = v.HTTPStatus()

			case error:
				statusCode = http.StatusInternalServerError

			default:
				if resp == nil {
					statusCode = http.StatusNoContent
				}
			}

			log.Info(ctx, "request completed", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr,
				"statuscode", statusCode, "since", time.Since(now).String())

			return resp
		}

		return h
	}

	return m
}
