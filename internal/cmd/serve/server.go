package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/modem"
	"github.com/chirino/sms-service/internal/modem/mmdbus"
	storemetrics "github.com/chirino/sms-service/internal/plugin/store/metrics"
	routesystem "github.com/chirino/sms-service/internal/plugin/route/system"
	registrymigrate "github.com/chirino/sms-service/internal/registry/migrate"
	registryroute "github.com/chirino/sms-service/internal/registry/route"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/chirino/sms-service/internal/route/messages"
	"github.com/chirino/sms-service/internal/route/modems"
	"github.com/chirino/sms-service/internal/security"
	"github.com/chirino/sms-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.MessageStore
	Source          modem.Source
	Router          *gin.Engine
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the HTTP listeners and closes the store.
// The poller observes the serve context and stops on its own between cycles.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	var err error
	if s.closeMain != nil {
		err = s.closeMain(ctx)
	}
	if cerr := s.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// StartServer initializes all subsystems: migrations, store, modem source,
// HTTP listeners, and the ingestion poller. A nil source connects to
// ModemManager on the system bus; tests pass a fake.
func StartServer(ctx context.Context, cfg *config.Config, source modem.Source) (*Server, error) {
	log.Info("Starting sms service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DBKind,
		"pollInterval", cfg.PollInterval,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Connect to the modem source
	if source == nil {
		src, err := mmdbus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ModemManager: %w", err)
		}
		source = src
		log.Info("Connected to ModemManager")
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount the query API
	messages.MountRoutes(router, store)

	// Mount management routes. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management listener.
	// Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		modems.MountRoutes(mgmtRouter, source)
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startHTTPServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		modems.MountRoutes(router, source)
	}

	// Start the ingestion poller
	if cfg.PollDisabled {
		log.Warn("Ingestion poller disabled, serving queries only")
	} else {
		poller := service.NewPoller(source, store, cfg.PollInterval)
		go poller.Start(ctx)
	}

	// Start the main listener
	addr, closeMain, err := startHTTPServer(cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		return nil, err
	}

	log.Info("Server listening",
		"addr", addr,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Source:          source,
		Router:          router,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}
