package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/adapters/upstream"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/app"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository/postgres"
	httptransport "github.com/clinicnetworking/fraapi/internal/arbiter_service/transport/http"
	"github.com/clinicnetworking/fraapi/internal/platform/config"
	"github.com/clinicnetworking/fraapi/internal/platform/database"
	"github.com/clinicnetworking/fraapi/internal/platform/logger"
	"github.com/clinicnetworking/fraapi/internal/platform/messagebroker"
)

const serviceName = "arbiter_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Arbiter service starting...", "port", cfg.ServerPort)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		// Audit events are best effort; arbitration must keep working
		// through a broker outage.
		appLogger.Error("Failed to connect to NATS, audit events disabled", "error", err)
		natsClient = nil
	}
	if natsClient != nil {
		defer natsClient.Close()
		appLogger.Info("Connected to NATS")
	}

	jwtKeys, err := config.LoadJWTKeys(cfg.JWTKeysFile)
	if err != nil {
		appLogger.Error("Failed to load JWT signing keys", "error", err)
		os.Exit(1)
	}
	activeKID := cfg.JWTActiveKID
	if activeKID == "" {
		activeKID = jwtKeys.ActiveKID
	}
	issuer, err := app.NewTokenIssuer(app.IssuerConfig{
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		NotBeforeSkew: time.Duration(cfg.JWTNotBeforeSkewSecs) * time.Second,
		Leeway:        time.Duration(cfg.JWTLeewaySeconds) * time.Second,
		ActiveKID:     activeKID,
		PrivateKeys:   jwtKeys.PrivateKeyPEMs(),
		PublicKeys:    jwtKeys.PublicKeyPEMs(),
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize token issuer", "error", err)
		os.Exit(1)
	}

	clientRepo := postgres.NewPgClientRepository(dbPool, appLogger)
	assignmentStore := postgres.NewPgAssignmentStore(dbPool, appLogger)
	credentialStore := postgres.NewPgCredentialStore(dbPool, appLogger)
	resellerStore := postgres.NewPgResellerStore(dbPool, appLogger)
	deviceRegistry := postgres.NewPgDeviceRegistry(dbPool, appLogger)

	var audit *app.AuditTrail
	if natsClient != nil {
		audit = app.NewAuditTrail(natsClient, appLogger)
	}

	upstreamClient := upstream.NewSkySwitchClient(appLogger, cfg.UpstreamTokenURL, cfg.UpstreamGrantType,
		time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second, nil)

	initService := app.NewInitService(clientRepo, deviceRegistry, issuer, cfg.JWTTTL(), audit, appLogger)
	arbitration := app.NewArbitrationService(clientRepo, assignmentStore, issuer, audit, appLogger)
	credentialCache := app.NewCredentialCache(credentialStore, resellerStore, upstreamClient, cfg.BearerRefreshOffset(), appLogger)

	refreshCtx, stopRefresher := context.WithCancel(context.Background())
	defer stopRefresher()
	refresher := app.NewCredentialRefresher(clientRepo, credentialCache, cfg.BearerRefreshInterval(), appLogger)
	go refresher.Run(refreshCtx)

	validate := validator.New()
	initHandler := httptransport.NewInitHandler(initService, appLogger, validate)
	assignmentHandler := httptransport.NewAssignmentHandler(arbitration, appLogger, validate)
	bearerHandler := httptransport.NewBearerHandler(clientRepo, credentialCache, issuer, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "Arbiter service is healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	initHandler.RegisterRoutes(r)

	r.Group(func(protected chi.Router) {
		protected.Use(httptransport.AuthMiddleware(issuer, appLogger))
		assignmentHandler.RegisterRoutes(protected)
		bearerHandler.RegisterRoutes(protected)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}
	go func() {
		appLogger.Info(fmt.Sprintf("Arbiter API server listening on port %d", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")

	stopRefresher()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", "error", err)
	}
	appLogger.Info("Arbiter service stopped")
}
