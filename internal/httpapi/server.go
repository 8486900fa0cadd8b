package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/taskflow/internal/notify"
	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/internal/store/postgres"
	"github.com/ankittk/taskflow/internal/workflow"
	"github.com/ankittk/taskflow/pkg/models"
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

// corsMiddleware sets CORS headers for dev mode (UI dev server on different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Worker, X-Worker-Role")
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
	Notifier       notify.Dispatcher
}

// App holds the HTTP server, SSE hub, store, and workflow engine.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Engine *workflow.Engine
}

// NewApp creates the HTTP app (server, hub, store, engine) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

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

	notifier := opts.Notifier
	if notifier == nil {
		reg := notify.NewRegistry()
		reg.Register(notify.SlogSink{})
		if u := os.Getenv("SLACK_WEBHOOK_URL"); u != "" {
			reg.Register(notify.SlackWebhook{WebhookURL: u})
		}
		notifier = reg
	}
	eng := &workflow.Engine{Store: st, Notifier: notifier}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts, _ := st.CountTasksByStatus(r.Context())
			_, _ = fmt.Fprintf(w, "# TYPE taskflow_tasks_total gauge\n")
			for _, stage := range models.Stages() {
				_, _ = fmt.Fprintf(w, "taskflow_tasks_total{status=%q} %d\n", stage, counts[stage])
			}
		})
	}

	mux.HandleFunc("/stream", hub.Handler())

	// --- Tasks ---
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(w, r)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			tasks, err := eng.ListTasks(r.Context(), actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, apiTasks(tasks))
			return
		case http.MethodPost:
			var body struct {
				SubmissionRef string `json:"submission_ref"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			task, err := eng.Create(r.Context(), body.SubmissionRef, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "task_update", "task_id": task.TaskID, "status": task.Status})
			writeJSON(w, apiTask(task))
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	// --- Task-scoped endpoints: /tasks/{id}[/audit|deliverables|assign|claim|reassign|approve|reject] ---
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(w, r)
		if !ok {
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
		parts := strings.Split(rest, "/")
		if len(parts) < 1 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		var taskID int64
		if _, err := fmt.Sscanf(parts[0], "%d", &taskID); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid task id")
			return
		}

		// /tasks/{id}
		if len(parts) == 1 || parts[1] == "" {
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			task, err := eng.GetTask(r.Context(), taskID, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, apiTask(task))
			return
		}

		switch parts[1] {
		case "audit":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			entries, err := eng.ListAuditLog(r.Context(), taskID, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, apiAuditEntries(entries))
			return

		case "deliverables":
			switch r.Method {
			case http.MethodGet:
				ds, err := eng.ListDeliverables(r.Context(), taskID, actor)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				writeJSON(w, apiDeliverables(ds))
				return
			case http.MethodPost:
				var body struct {
					Kind       string `json:"kind"`
					ContentRef string `json:"content_ref"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid json")
					return
				}
				task, err := eng.SubmitDeliverable(r.Context(), taskID, body.Kind, body.ContentRef, actor)
				if err != nil {
					writeEngineError(w, err)
					return
				}
				publishTask(hub, task)
				writeJSON(w, apiTask(task))
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "assign":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Role string `json:"role"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			task, err := eng.AssignToRole(r.Context(), taskID, body.Role, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			publishTask(hub, task)
			writeJSON(w, apiTask(task))
			return

		case "claim":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			task, err := eng.Claim(r.Context(), taskID, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			publishTask(hub, task)
			writeJSON(w, apiTask(task))
			return

		case "reassign":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Assignee string `json:"assignee"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			task, err := eng.Reassign(r.Context(), taskID, body.Assignee, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			publishTask(hub, task)
			writeJSON(w, apiTask(task))
			return

		case "approve":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			task, err := eng.Approve(r.Context(), taskID, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			publishTask(hub, task)
			writeJSON(w, apiTask(task))
			return

		case "reject":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Reason string `json:"reason"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			task, err := eng.Reject(r.Context(), taskID, body.Reason, actor)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			publishTask(hub, task)
			writeJSON(w, apiTask(task))
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
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
		handler = otelhttp.NewHandler(handler, "taskflow")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{Server: srv, Hub: hub, Store: st, Engine: eng}, nil
}

func publishTask(hub *SSEHub, task *store.Task) {
	payload := map[string]any{"type": "task_update", "task_id": task.TaskID, "status": task.Status}
	if task.AssignedTo != nil {
		payload["assigned_to"] = *task.AssignedTo
	}
	hub.PublishJSON(payload)
}

// actorFromRequest reads the authenticated operator from the X-Worker and
// X-Worker-Role headers (set by the auth layer in front of this service).
// Writes a 401 and returns ok=false when either is missing or the role is unknown.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (models.Worker, bool) {
	name := strings.TrimSpace(r.Header.Get("X-Worker"))
	role := strings.TrimSpace(r.Header.Get("X-Worker-Role"))
	if name == "" || role == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing X-Worker / X-Worker-Role headers")
		return models.Worker{}, false
	}
	if !models.ValidRole(role) {
		writeJSONError(w, http.StatusUnauthorized, "unknown worker role "+role)
		return models.Worker{}, false
	}
	return models.Worker{Name: name, Role: role}, true
}

// writeEngineError maps the engine error taxonomy onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var it *workflow.InvalidTransitionError
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &it):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": it.Error(), "current_stage": it.Stage})
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
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

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
