// Package httpapi exposes the contentd HTTP surface: plan CRUD, workflow
// start/cancel, and per-plan SSE progress streams.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/houghtp/terra-automation-platform-sub002/internal/bus"
	"github.com/houghtp/terra-automation-platform-sub002/internal/config"
	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/notify"
	"github.com/houghtp/terra-automation-platform-sub002/internal/orchestrator"
	"github.com/houghtp/terra-automation-platform-sub002/internal/otel"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
	"github.com/houghtp/terra-automation-platform-sub002/internal/research"
	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/internal/store/postgres"
	"github.com/houghtp/terra-automation-platform-sub002/internal/variant"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboards on another origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Settings       config.Settings
	LLM            generate.Client // optional override; built from Settings when nil
}

// App holds the HTTP server, event bus, store, and orchestrator.
type App struct {
	Server       *http.Server
	Bus          *bus.Bus
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Home         string
}

// NewApp creates the HTTP app (server, bus, store, orchestrator) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	s := opts.Settings
	b := bus.New(s.Events.Retention, s.Events.SubscriberBuffer)
	registry := prompt.NewRegistry(opts.Home)

	llm := opts.LLM
	if llm == nil {
		llm, err = generate.NewOpenAIClient(s.LLM.BaseURL, s.LLM.APIKey, s.LLM.Model)
		if err != nil {
			_ = st.Close()
			b.Close()
			return nil, err
		}
	}

	var collector research.Collector
	if len(s.Research.Sources) > 0 {
		collector = research.NewWebCollector(s.Research.Sources, llm, registry)
	}

	notifiers := notify.NewRegistry()
	if u := s.Notify.SlackWebhookURL; u != "" {
		notifiers.Register(notify.SlackWebhook{WebhookURL: u, Username: "contentd"})
	} else if u := os.Getenv("SLACK_WEBHOOK_URL"); u != "" {
		notifiers.Register(notify.SlackWebhook{WebhookURL: u, Username: "contentd"})
	}

	orch := orchestrator.New(st, b, orchestrator.Options{
		Research:  collector,
		LLM:       llm,
		Registry:  registry,
		Notifiers: notifiers,
		Settings:  s,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			plans, _ := st.ListPlans(r.Context(), "", 0)
			counts := map[string]int64{}
			for _, p := range plans {
				counts[p.Status]++
			}
			_, _ = fmt.Fprintf(w, "# TYPE contentd_plans_total gauge\n")
			for _, status := range []string{
				models.StatusPlanned, models.StatusResearching, models.StatusGenerating,
				models.StatusRefining, models.StatusDraftReady, models.StatusFailed, models.StatusCancelled,
			} {
				_, _ = fmt.Fprintf(w, "contentd_plans_total{status=%q} %d\n", status, counts[status])
			}
		})
	}

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Config{Home: opts.Home})
	})

	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"channels": variant.KnownChannels()})
	})

	// --- Plans ---
	mux.HandleFunc("/plans", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleListPlans(w, r, st)
		case http.MethodPost:
			handleCreatePlan(w, r, st)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// --- Plan-scoped endpoints ---
	mux.HandleFunc("/plans/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/plans/")
		parts := strings.Split(rest, "/")
		if len(parts) < 1 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		planID := parts[0]

		// /plans/{id}
		if len(parts) == 1 || parts[1] == "" {
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			handleGetPlan(w, r, st, planID)
			return
		}

		switch parts[1] {
		case "start":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			handleStart(w, r, orch, planID)
		case "cancel":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			handleCancel(w, r, st, orch, planID)
		case "events":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			eventStreamHandler(b, planID)(w, r)
		case "variants":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			vs, err := st.ListVariants(r.Context(), planID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, toAPIVariants(vs))
		default:
			writeJSONError(w, http.StatusNotFound, "not found")
		}
	})

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "contentd")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE streams stay open indefinitely
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		b.Close()
		_ = st.Close()
	})

	return &App{Server: srv, Bus: b, Store: st, Orchestrator: orch, Home: opts.Home}, nil
}

func handleCreatePlan(w http.ResponseWriter, r *http.Request, st store.Store) {
	var body struct {
		TenantID       string   `json:"tenant_id"`
		Title          string   `json:"title"`
		Description    *string  `json:"description"`
		TargetAudience *string  `json:"target_audience"`
		Tone           *string  `json:"tone"`
		SEOKeywords    []string `json:"seo_keywords"`
		SkipResearch   bool     `json:"skip_research"`
		TargetChannels []string `json:"target_channels"`
		MinSEOScore    int      `json:"min_seo_score"`
		MaxIterations  int      `json:"max_iterations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "title required")
		return
	}
	if body.MinSEOScore < 0 || body.MinSEOScore > 100 {
		writeJSONError(w, http.StatusBadRequest, "min_seo_score must be 0-100")
		return
	}
	for _, ch := range body.TargetChannels {
		if _, ok := variant.SpecFor(ch); !ok {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown channel: %s", ch))
			return
		}
	}

	p, err := st.CreatePlan(r.Context(), store.NewPlan{
		TenantID:       body.TenantID,
		Title:          strings.TrimSpace(body.Title),
		Description:    body.Description,
		TargetAudience: body.TargetAudience,
		Tone:           body.Tone,
		SEOKeywords:    body.SEOKeywords,
		SkipResearch:   body.SkipResearch,
		TargetChannels: body.TargetChannels,
		MinSEOScore:    body.MinSEOScore,
		MaxIterations:  body.MaxIterations,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	otel.RecordPlanOp(r.Context(), "create", p.TenantID, p.Status)
	writeJSONStatus(w, http.StatusCreated, toAPIPlan(p))
}

func handleListPlans(w http.ResponseWriter, r *http.Request, st store.Store) {
	tenant := r.URL.Query().Get("tenant")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	plans, err := st.ListPlans(r.Context(), tenant, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Plan, len(plans))
	for i := range plans {
		out[i] = toAPIPlan(&plans[i])
	}
	writeJSON(w, out)
}

func handleGetPlan(w http.ResponseWriter, r *http.Request, st store.Store, planID string) {
	p, err := st.GetPlan(r.Context(), planID)
	if errors.Is(err, store.ErrPlanNotFound) {
		writeJSONError(w, http.StatusNotFound, "plan not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := toAPIPlan(p)
	if recs, err := st.ListIterations(r.Context(), planID); err == nil {
		out.History = toAPIIterations(recs)
	}
	if vs, err := st.ListVariants(r.Context(), planID); err == nil {
		out.Variants = toAPIVariants(vs)
	}
	writeJSON(w, out)
}

func handleStart(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, planID string) {
	err := orch.Start(r.Context(), planID)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusAccepted, map[string]any{"plan_id": planID, "started": true})
	case errors.Is(err, store.ErrPlanNotFound):
		writeJSONError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrNotStartable):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func handleCancel(w http.ResponseWriter, r *http.Request, st store.Store, orch *orchestrator.Orchestrator, planID string) {
	if _, err := st.GetPlan(r.Context(), planID); errors.Is(err, store.ErrPlanNotFound) {
		writeJSONError(w, http.StatusNotFound, "plan not found")
		return
	}
	err := orch.Cancel(planID)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusAccepted, map[string]any{"plan_id": planID, "cancelled": true})
	case errors.Is(err, orchestrator.ErrNotRunning):
		writeJSONError(w, http.StatusConflict, "plan workflow is not running")
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// Shutdown stops the server, waits for running workflows, and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	if werr := a.Orchestrator.Shutdown(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONStatus sends v with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
