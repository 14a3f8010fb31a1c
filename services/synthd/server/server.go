package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"synthvault/crypto"
	"synthvault/native/synth"
	"synthvault/observability/metrics"
	telemetry "synthvault/observability/otel"
	"synthvault/services/synthd/oracle"
	"synthvault/storage/journal"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Engine is the subset of the synth engine served over HTTP.
type Engine interface {
	Mint(ctx context.Context, account crypto.Address, collateralIn *big.Int) (*uint256.Int, error)
	Redeem(ctx context.Context, account crypto.Address, syntheticIn *big.Int) (*big.Int, error)
	Liquidate(ctx context.Context, liquidator, borrower crypto.Address, repay *big.Int) (*big.Int, error)
	Position(addr crypto.Address) (*synth.Position, error)
	Ratio(ctx context.Context, addr crypto.Address) (*uint256.Int, error)
	Params() synth.Params
	Paused() bool
	Decimals() synth.DecimalProfile
	SetRatios(ctx context.Context, caller crypto.Address, targetBps, minBps uint64) error
	SetLiquidationBonus(ctx context.Context, caller crypto.Address, bonusBps uint64) error
	Pause(ctx context.Context, caller crypto.Address) error
	Unpause(ctx context.Context, caller crypto.Address) error
}

// EventLog lists journaled engine events, newest first.
type EventLog interface {
	List(ctx context.Context, eventType string, limit int) ([]journal.EventRecord, error)
}

// Ledger exposes aggregate position data.
type Ledger interface {
	Accounts() ([]crypto.Address, error)
	Totals() (collateral, debt *big.Int, err error)
}

// Config captures the dependencies required to construct the server. Only
// Engine is mandatory.
type Config struct {
	Engine     Engine
	Journal    EventLog
	Ledger     Ledger
	Feeds      map[synth.FeedKind]*oracle.ManualFeed
	Authorizer synth.Authorizer
	Auth       AuthConfig
	RateLimit  float64
	Burst      int
	Timeout    time.Duration
	Metrics    *metrics.SynthMetrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine     Engine
	journal    EventLog
	ledger     Ledger
	feeds      map[synth.FeedKind]*oracle.ManualFeed
	authorizer synth.Authorizer
	auth       *Authenticator
	limiter    *RateLimiter
	metrics    *metrics.SynthMetrics
	gatherer   prometheus.Gatherer
	timeout    time.Duration
	logger     *slog.Logger

	router http.Handler
}

var errEngineRequired = errors.New("server: engine required")

// New constructs the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errEngineRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		engine:     cfg.Engine,
		journal:    cfg.Journal,
		ledger:     cfg.Ledger,
		feeds:      cfg.Feeds,
		authorizer: cfg.Authorizer,
		auth:       NewAuthenticator(cfg.Auth, cfg.Logger),
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.Burst, cfg.Metrics),
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/params", s.getParams)
			public.Get("/positions/{address}", s.getPosition)
			public.Get("/events", s.listEvents)
			public.Get("/stats", s.getStats)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(ScopeWrite))
			write.Use(s.limiter.Middleware)
			write.Post("/mint", s.mint)
			write.Post("/redeem", s.redeem)
			write.Post("/liquidate", s.liquidate)
		})
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Use(s.limiter.Middleware)
			admin.Post("/ratios", s.setRatios)
			admin.Post("/bonus", s.setBonus)
			admin.Post("/pause", s.pause)
			admin.Post("/unpause", s.unpause)
			admin.Post("/feeds/{kind}/price", s.publishPrice)
		})
	})
	return r
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// run wraps an engine call in a span and records its outcome.
func (s *Server) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "synth."+op)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	reason := synth.Reason(err)
	s.metrics.Observe(op, reason, time.Since(start))
	span.SetAttributes(attribute.String("synth.reason", reason))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.logger.Info("synth operation rejected",
			slog.String("op", op),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
			slog.String("request_id", requestID(ctx)))
	}
	return err
}

func requestID(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, reason, message string) {
	writeJSON(w, status, errorResponse{Error: message, Reason: reason, RequestID: requestID(r.Context())})
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	reason := synth.Reason(err)
	writeError(w, r, statusFor(reason), reason, err.Error())
}

// statusFor maps a stable engine reason code to an HTTP status.
func statusFor(reason string) int {
	switch reason {
	case "ok":
		return http.StatusOK
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_amount", "invalid_account", "self_liquidation", "invalid_ratio_ordering", "invalid_bonus":
		return http.StatusBadRequest
	case "unknown_feed":
		return http.StatusNotFound
	case "reentrant":
		return http.StatusConflict
	case "ratio_too_low", "insufficient_debt", "insufficient_collateral", "no_debt",
		"not_undercollateralized", "repay_too_large", "calculation_error":
		return http.StatusUnprocessableEntity
	case "oracle_invalid", "transfer_failed":
		return http.StatusBadGateway
	case "paused", "oracle_unset", "oracle_stale", "not_configured":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
