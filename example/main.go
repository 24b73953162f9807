package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cnlangzi/slidingrate/httprate"
	"github.com/cnlangzi/slidingrate/internal/config"
	"github.com/cnlangzi/slidingrate/internal/logging"
	"github.com/cnlangzi/slidingrate/keyed"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Environment, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	metrics, err := httprate.NewMetrics(reg)
	if err != nil {
		return err
	}

	proxies, err := cfg.Server.ProxyPrefixes()
	if err != nil {
		return err
	}

	var verifier httprate.Verifier
	if cfg.Server.TrustCrawlers {
		if verifier, err = httprate.KnownBots(nil); err != nil {
			return fmt.Errorf("failed to load known bots: %w", err)
		}
	}

	limit := func(policy string) (func(http.Handler) http.Handler, error) {
		p, ok := cfg.Policies[policy]
		if !ok {
			return nil, fmt.Errorf("%w: policy %q is not configured", config.ErrInvalidConfig, policy)
		}

		registry, err := keyed.New(p.Registry(),
			keyed.WithLogger(logger.With(zap.String("policy", policy))),
		)
		if err != nil {
			return nil, err
		}

		return httprate.Middleware(httprate.Config{
			Name:           policy,
			Registry:       registry,
			TrustedProxies: proxies,
			Verifier:       verifier,
			Metrics:        metrics,
			Logger:         logger,
		}), nil
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	for _, route := range []struct {
		policy  string
		pattern string
		handler http.HandlerFunc
	}{
		{"checkout", "/checkout", placeOrder},
		{"contact", "/contact", sendMessage},
		{"wishlist", "/wishlist/{productID}", toggleWishlist},
	} {
		mw, err := limit(route.policy)
		if err != nil {
			return err
		}
		r.With(mw).Post(route.pattern, route.handler)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", srv.Addr), zap.Strings("policies", cfg.PolicyNames()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func placeOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

func sendMessage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func toggleWishlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"product_id": chi.URLParam(r, "productID")})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
