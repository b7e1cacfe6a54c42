package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kehao95/repo-dispatch-relay/internal/config"
	"github.com/kehao95/repo-dispatch-relay/internal/github"
	"github.com/kehao95/repo-dispatch-relay/internal/metrics"
	"github.com/kehao95/repo-dispatch-relay/internal/relay"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

const (
	healthPath = "/healthz"
	feedPath   = "/ws"
)

// Run serves the relay until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	scope, closer, err := metrics.NewScope(cfg.MetricsPrefix, cfg.StatsdAddr)
	if err != nil {
		return err
	}
	defer closer.Close()

	hub := NewHub(logger)
	go hub.Run(ctx)

	dispatcher := github.NewClient(ctx, cfg, logger)
	webhook := relay.New(cfg, dispatcher,
		relay.WithLogger(logger),
		relay.WithScope(scope),
		relay.WithPublisher(hub.Publish),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(cfg.WebhookPath, webhook, hub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.DispatchTimeout + 10*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("listening", "addr", srv.Addr, "webhook_path", cfg.WebhookPath, "api_url", cfg.APIURL)
	err = srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// NewRouter mounts the webhook, health and feed endpoints behind panic
// recovery. The webhook route accepts every method so the relay can answer 405.
func NewRouter(webhookPath string, webhook http.Handler, feed http.Handler, logger *zap.SugaredLogger) http.Handler {
	router := mux.NewRouter()
	router.Handle(webhookPath, webhook)
	router.HandleFunc(healthPath, handleHealth).Methods(http.MethodGet)
	router.Handle(feedPath, feed).Methods(http.MethodGet)

	// Formatter must be non-nil; NewRecovery sets it.
	recovery := negroni.NewRecovery()
	recovery.Logger = zap.NewStdLog(logger.Desugar())
	recovery.PrintStack = false

	n := negroni.New(recovery)
	n.UseHandler(router)
	return n
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
