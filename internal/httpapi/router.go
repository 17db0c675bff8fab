package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lamina/internal/httpapi/handlers"
	"lamina/internal/httpkit"
	"lamina/internal/pkg/logger"
	"lamina/internal/ports"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	SP        ports.StorageProvider
	Log       *logger.Logger
	QueueName string
	Namespace string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// ---- CORS (operator dashboard) ----
	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:8081",
		"http://localhost:5173",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Pool:      d.Pool,
		RDB:       d.RDB,
		SP:        d.SP,
		Log:       d.Log,
		QueueName: d.QueueName,
		Namespace: d.Namespace,
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- MODELS ----
	r.Post("/models", h.PostModel)

	// ---- PRESETS ----
	r.Post("/presets", h.PostPreset)
	r.Get("/presets", h.ListPresets)
	r.Get("/presets/{printerId}", h.GetPreset)
	r.Delete("/presets/{printerId}", h.DeletePreset)

	// ---- JOBS ----
	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Post("/jobs/{jobId}/requeue", h.RequeueJob)
	r.Get("/jobs/{jobId}/artifacts/{class}/url", h.GetJobArtifactURL)
	r.Get("/jobs/{jobId}/artifacts/{class}/content", h.StreamJobArtifact)

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
