// Package server is the HTTP request layer. Handlers only decode, validate
// and hand work to the campaign client; all browser work happens behind the
// isolation layer.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/campaign"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Campaigns is the part of campaign.Client the handlers use.
type Campaigns interface {
	RunCampaign(ctx context.Context, req campaign.RunRequest) (campaign.Result, error)
	CheckStatus(ctx context.Context, req campaign.StatusRequest) ([]campaign.ProfileStatus, error)
	StoredStatus(ctx context.Context, req campaign.StoredStatusRequest) ([]campaign.ProfileStatus, error)
	SendMessage(ctx context.Context, req campaign.MessageRequest) (campaign.MessageResult, error)
	Export(ctx context.Context, handle string, w io.Writer) error
}

// Config tunes a Server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// MaxTargets caps the URLs of one request.
	MaxTargets int
	// Quotas for accounts whose request sets none. Zero keeps the
	// account package defaults.
	DailyConnections int
	DailyMessages    int
}

// Server serves the HTTP API.
type Server struct {
	cfg        Config
	campaigns  Campaigns
	log        *zap.Logger
	httpServer *http.Server

	// background runs started by /campaign/run-async
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

func New(cfg Config, campaigns Campaigns, log *zap.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		campaigns: campaigns,
		log:       log.Named("http"),
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.health)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /campaign/run", s.runCampaign)
	mux.HandleFunc("POST /campaign/run-async", s.runCampaignAsync)
	mux.HandleFunc("POST /status", s.storedStatus)
	mux.HandleFunc("POST /status/live", s.liveStatus)
	mux.HandleFunc("POST /message", s.sendMessage)
	mux.HandleFunc("GET /accounts/{handle}/export", s.export)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.recoverer(s.logRequests(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests and waits for background runs. Runs
// still going when ctx expires are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("cancelling background campaigns")
		s.bgCancel()
		<-done
	}
	s.bgCancel()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// WaitBackground blocks until every background run has finished.
func (s *Server) WaitBackground() {
	s.bg.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("handler panicked", zap.Any("panic", v), zap.Stack("stack"))
				s.httpError(w, fmt.Sprintf("Internal server error: %v", v), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
