package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/model"
)

// FormSource looks up loaded form definitions. *definition.Registry
// satisfies it.
type FormSource interface {
	GetForm(formID string) (model.FormDefinition, bool)
	AllForms() []model.FormDefinition
}

// ValidationRecorder counts field errors returned to respondents.
// *observability.Metrics satisfies it.
type ValidationRecorder interface {
	RecordValidationFailures(formID string, count int)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Tokens    *SessionTokens
	Forms     FormSource
	Sessions  *session.Manager
	Evaluator *condition.Evaluator
	Metrics   ValidationRecorder

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
	// Middleware wraps every route, after recovery. Tracing and HTTP
	// metrics are installed here.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(deps.Middleware...)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	if deps.HealthHandler != nil {
		r.Method(http.MethodGet, "/health", deps.HealthHandler)
	}
	if deps.ReadyHandler != nil {
		r.Method(http.MethodGet, "/ready", deps.ReadyHandler)
	}
	if deps.MetricsHandler != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.MetricsHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})

	h := &handlers{deps: deps}

	// Public form routes.
	r.Group(func(r chi.Router) {
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Get("/forms", h.listForms)
		r.Get("/forms/{formId}", h.getForm)
		r.Post("/forms/{formId}/evaluate", h.evaluateForm)
		r.Post("/forms/{formId}/sessions", h.createSession)
	})

	// Session routes require a token bound to the session in the path.
	r.Group(func(r chi.Router) {
		r.Use(deps.Tokens.Authenticate)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Use(h.bindSession)
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Put("/answers/{fieldId}", h.setAnswer)
			r.Post("/next", h.nextPage)
			r.Post("/previous", h.previousPage)
			r.Post("/submit", h.submit)
			r.Post("/restart", h.restart)
		})
	})

	return r
}
