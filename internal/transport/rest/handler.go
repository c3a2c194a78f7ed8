// Package rest implements the concrete REST transport adapter described in
// spec.md §6 and SPEC_FULL.md §4.9: it parses the wire envelope (JSON or
// multipart), builds the per-request exectx.Context and auth.AuthContext,
// and calls the Dispatcher. Only this package's shape is mandated by the
// core contract; a different transport (WebSocket, RPC) would implement the
// same envelope/dispatch contract independently.
package rest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/actionkit/actionkit/internal/engine/auth"
	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/dispatcher"
	"github.com/actionkit/actionkit/internal/engine/exectx"
	"github.com/actionkit/actionkit/internal/engine/upload"
	"github.com/actionkit/actionkit/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// envelopeJSON is the wire shape of ExternalResponse (and, for decoding, the
// subset of ExternalRequest fields the JSON path needs).
type envelopeJSON struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type requestEnvelope struct {
	Intent  string         `json:"intent"`
	Service string         `json:"service"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Config configures the REST adapter, mirroring spec.md §6's `rest` block.
type Config struct {
	BaseURL        string
	ServerName     string
	AllowedOrigins []string
	EnableStatus   bool
	EnableStatic   bool
	StaticDir      string
	CORSMethods    []string
	CORSHeaders    []string
	CORSExposed    []string
	CORSCreds      bool
	CORSMaxAge     int
	Diagnostics    bool
}

// Deps bundles every collaborator the adapter needs per request.
type Deps struct {
	Config      Config
	Dispatcher  *dispatcher.Dispatcher
	Registry    *catalog.Registry
	Resources   exectx.Resources
	AuthConfig  *auth.Config
	Uploads     upload.Config
	Limiter     Limiter
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// NewRouter builds the chi-routed http.Handler for the REST adapter, wiring
// middleware in the order the teacher's router composes it: CORS outermost,
// then rate limiting, then diagnostics logging, then the routed handler.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   deps.Config.CORSMethods,
		AllowedHeaders:   deps.Config.CORSHeaders,
		ExposedHeaders:   deps.Config.CORSExposed,
		AllowCredentials: deps.Config.CORSCreds,
		MaxAge:           deps.Config.CORSMaxAge,
	}))
	r.Use(requestIDMiddleware())
	if deps.Limiter != nil {
		r.Use(rateLimitMiddleware(deps.Limiter))
	}
	r.Use(diagnosticsMiddleware(deps.Logger, deps.Config.Diagnostics))

	base := strings.TrimSuffix(deps.Config.BaseURL, "/")
	if base == "" {
		base = ""
	}

	r.Post(base+"/services", servicesHandler(deps))

	if deps.Config.EnableStatus {
		r.Get("/status", statusHandler(deps.Config.ServerName))
	}

	if deps.Config.EnableStatic && deps.Config.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(deps.Config.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	}

	unknownRoute := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelopeJSON{
			Status:  false,
			Message: "Route not found. Use POST " + base + "/services for all operations.",
			Data:    map[string]any{},
		})
	}
	r.NotFound(unknownRoute)
	r.MethodNotAllowed(unknownRoute)

	return r
}

func statusHandler(serverName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelopeJSON{
			Status:  true,
			Message: serverName + " is running",
			Data:    map[string]any{},
		})
	}
}

func servicesHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		contentType := r.Header.Get("Content-Type")

		var (
			req  dispatcher.ExternalRequest
			verr *upload.ValidationError
		)

		if strings.Contains(strings.ToLower(contentType), "multipart/form-data") {
			parser := upload.NewParser(deps.Uploads)
			env, payload, uploadErr := parser.Parse(r, contentTypeLookup(deps.Registry))
			if uploadErr != nil {
				verr = uploadErr
			} else {
				req = dispatcher.ExternalRequest{
					Intent:  env.Intent,
					Service: env.Service,
					Action:  env.Action,
					Payload: map[string]any{"fields": payload.Fields, "files": payload.Files},
				}
			}
		} else {
			body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, envelopeJSON{Status: false, Message: "Invalid or missing JSON body", Data: map[string]any{}})
				return
			}
			var decoded requestEnvelope
			if len(body) == 0 || json.Unmarshal(body, &decoded) != nil {
				writeJSON(w, http.StatusBadRequest, envelopeJSON{Status: false, Message: "Invalid or missing JSON body", Data: map[string]any{}})
				return
			}
			if decoded.Intent == "" || decoded.Service == "" || decoded.Action == "" {
				writeJSON(w, http.StatusBadRequest, envelopeJSON{Status: false, Message: "Invalid request format", Data: map[string]any{}})
				return
			}
			req = dispatcher.ExternalRequest{
				Intent:  decoded.Intent,
				Service: decoded.Service,
				Action:  decoded.Action,
				Payload: decoded.Payload,
			}
		}

		if verr != nil {
			status := http.StatusBadRequest
			if verr.Category == "content_type" {
				status = http.StatusUnsupportedMediaType
			}
			if deps.Metrics != nil {
				deps.Metrics.ObserveUploadRejection(verr.Category)
			}
			writeJSON(w, status, envelopeJSON{
				Status:  false,
				Message: verr.Message,
				Data:    uploadErrorData(verr),
			})
			return
		}

		ectx := exectx.New(deps.Resources)
		if id := requestIDFromContext(r.Context()); id != "" {
			ectx.Set("requestId", id)
		}
		authCtx := extractAuthContext(r, deps.AuthConfig)

		resp := deps.Dispatcher.Handle(r.Context(), ectx, authCtx, req)

		if deps.Metrics != nil && req.Intent == "execute" {
			outcome := "ok"
			if !resp.Status {
				outcome = "error"
			}
			deps.Metrics.ObserveAction(req.Service, req.Action, outcome, false, time.Since(started))
		}

		status := http.StatusOK
		if !resp.Status {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, envelopeJSON{Status: resp.Status, Message: resp.Message, Data: resp.Data})
	}
}

func contentTypeLookup(reg *catalog.Registry) upload.ContentTypeLookup {
	return func(service, action string) (string, bool) {
		found := reg.GetAction(service, action)
		if found.IsErr() {
			return "", false
		}
		act := found.Value()
		if act.IsSpecial == nil {
			return "", false
		}
		return act.IsSpecial.ContentType, true
	}
}

// extractAuthContext builds the transport-supplied auth.AuthContext. A nil
// return means "no auth context provided at all" (pipeline.Engine
// distinguishes this from a present-but-empty context per spec.md §4.4).
func extractAuthContext(r *http.Request, cfg *auth.Config) *auth.AuthContext {
	if cfg == nil {
		return nil
	}
	return &auth.AuthContext{Headers: r.Header, Cookies: r.Cookies()}
}

func uploadErrorData(verr *upload.ValidationError) map[string]any {
	data := map[string]any{"error_category": verr.Category}
	if verr.Limit != nil {
		data["limit"] = verr.Limit
	}
	if verr.Max != nil {
		data["max"] = verr.Max
	}
	if len(verr.Files) > 0 {
		data["files"] = verr.Files
	}
	return data
}

func writeJSON(w http.ResponseWriter, status int, body envelopeJSON) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
