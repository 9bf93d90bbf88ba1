package mid

import (
	"context"
	"net/http"

	"github.com/nickbhavsar22/GTM-audit/internal/api/errs"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
	"github.com/nickbhavsar22/GTM-audit/pkg/web"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a uniform way.
// Unexpected errors (status >= 500) are logged.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)

			err, isError := resp.(error)
			if !isError {
				return resp
			}

			var appErr *errs.Error
			switch v := err.(type) {
			case *errs.Error:
				appErr = v

			case errs.FieldErrors:
				appErr = errs.New(errs.InvalidArgument, v)

			default:
				appErr = errs.Newf(errs.Internal, "Internal Server Error")
			}

			log.Error(ctx, "handled error during request",
				"err", err,
				"source_err_file", "mid/errors.go",
				"source_err_func", "Errors")

			if appErr.HTTPStatus() >= http.StatusInternalServerError {
				// Do not leak internal details to the client.
				appErr = errs.Newf(appErr.Code, "Internal Server Error")
			}

			return appErr
		}

		return h
	}

	return m
}
