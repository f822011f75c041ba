package httpapi

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/auth"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/coordinator"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Coordinator *coordinator.Coordinator
	Auth        auth.Authenticator
	Health      Pinger
	WS          http.Handler // mounted at /ws when set
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

type Server struct {
	coord    *coordinator.Coordinator
	auth     auth.Authenticator
	health   Pinger
	log      *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names in messages
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func SetupRoutes(d Deps) http.Handler {
	s := &Server{
		coord:    d.Coordinator,
		auth:     d.Auth,
		health:   d.Health,
		log:      d.Log,
		metrics:  d.Metrics,
		validate: newValidator(),
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	// Public routes
	r.Get("/healthz", s.healthz)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.WS != nil {
		r.Method(http.MethodGet, "/ws", d.WS)
	}

	r.Route("/api/multiplayer", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/create", s.createSession)
		r.Post("/join", s.joinSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/start", s.startSession)
			r.Post("/submit", s.submitAnswers)
			r.Post("/leave", s.leaveSession)
			r.Post("/end", s.endSession)
			r.Get("/leaderboard", s.leaderboard)
			r.Get("/leaderboard.xlsx", s.exportLeaderboard)
		})
	})
	return r
}
