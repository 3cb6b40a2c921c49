// Command example runs an in-memory task agent that speaks the same wire
// protocol the client library consumes: a WebSocket endpoint for live chat,
// a REST chat fallback, and CRUD endpoints for the task collection. It is
// meant for trying out the TUI and the library tests against a real server.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/cors"

	"github.com/aravindsiva13/taskwire"
)

type serverConfig struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Seed     bool   `envconfig:"SEED" default:"true"`
}

func main() {
	var cfg serverConfig
	if err := envconfig.Process("TASKWIRE_AGENT", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st := newStore()
	if cfg.Seed {
		seed(st)
	}
	srv := newServer(st, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	srv.routes(r)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)

	color.Cyan("taskwire demo agent")
	fmt.Printf("  ws   ws://localhost%s/ws\n", cfg.Addr)
	fmt.Printf("  rest http://localhost%s/api\n", cfg.Addr)

	log.Info("starting agent server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// requestLogger logs completed REST requests. The WebSocket endpoint logs
// its own connect/disconnect events instead.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func seed(st *store) {
	due := taskwire.DateOf(time.Now()).AddDays(2)
	st.create(taskwire.TaskDraft{Title: "Review pull requests", Priority: taskwire.PriorityHigh, DueDate: &due})
	st.create(taskwire.TaskDraft{Title: "Write release notes", Priority: taskwire.PriorityMedium})
	st.create(taskwire.TaskDraft{Title: "Clean up CI pipeline", Priority: taskwire.PriorityLow})
}
