package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/model"
)

const correlationHeader = "X-Correlation-Id"

type correlationIDKey struct{}
type claimsKey struct{}

// CorrelationIDFrom returns the correlation id assigned by RequestID.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// WithClaims stores verified session token claims in ctx.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the session token claims, or nil on public routes.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// Recovery turns a handler panic into a 500 envelope.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				WriteError(w, model.NewInternalError())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsPolicy answers cross-origin requests from the embedding pages.
type corsPolicy struct {
	origins  map[string]bool
	wildcard bool
	headers  http.Header
}

// CORS allows the configured origins to call the session API. Preflight
// requests are answered without reaching the router.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	p := corsPolicy{origins: make(map[string]bool, len(cfg.AllowedOrigins)), headers: http.Header{}}
	for _, o := range cfg.AllowedOrigins {
		p.origins[o] = true
		p.wildcard = p.wildcard || o == "*"
	}
	p.headers.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	p.headers.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	p.headers.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	p.headers.Set("Access-Control-Expose-Headers", correlationHeader)
	p.headers.Set("Vary", "Origin")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && (p.wildcard || p.origins[origin]) {
				for k, v := range p.headers {
					w.Header()[k] = v
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID keeps a well-formed inbound X-Correlation-Id or mints one, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, id)))
	})
}

var securityHeaders = [...][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Cache-Control", "no-store"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// SecurityHeaders marks every response as uncacheable and unframeable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range securityHeaders {
			w.Header().Set(h[0], h[1])
		}
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContext attaches the session identity from the token claims
// together with the correlation and trace ids. Public routes have no claims,
// so only the tracing fields are set there.
func BuildRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		ctx := model.WithRequestContext(r.Context(), &model.RequestContext{
			SubjectID:     claimString(claims, "sub"),
			SessionID:     claimString(claims, claimSessionID),
			FormID:        claimString(claims, claimFormID),
			CorrelationID: CorrelationIDFrom(r.Context()),
			TraceID:       observability.TraceIDFromContext(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandlerTimeout bounds the request context by d. Zero disables it.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging writes one access line per request, tagged with the
// session identity. 4xx responses log at warn and 5xx at error.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log := observability.RequestLogger(r.Context(), logger)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case status >= http.StatusInternalServerError:
				log.Error("request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

func claimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}

// validCorrelationID accepts up to 128 characters of [A-Za-z0-9._-].
func validCorrelationID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return strings.IndexFunc(id, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.')
	}) < 0
}
