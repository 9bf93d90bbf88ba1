package routes

import (
	"github.com/nickbhavsar22/GTM-audit/internal/api/mux"
	"github.com/nickbhavsar22/GTM-audit/internal/api/routes/audits"
	"github.com/nickbhavsar22/GTM-audit/internal/api/routes/health"
	"github.com/nickbhavsar22/GTM-audit/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
	})

	audits.Routes(app, audits.Config{
		Log:     cfg.Log,
		Jobs:    cfg.Jobs,
		Metrics: cfg.Metrics,
	})
}
