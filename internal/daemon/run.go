// Package daemon wires every gateway component together and runs the
// admin/proxy HTTP server until the context is cancelled, the way teacher's
// internal/app.Run assembles a service from its collaborators.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flm-project/flm-gateway/internal/config"
	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/engine"
	"github.com/flm-project/flm-gateway/internal/health"
	"github.com/flm-project/flm-gateway/internal/httpapi"
	"github.com/flm-project/flm-gateway/internal/keyring"
	"github.com/flm-project/flm-gateway/internal/logging"
	"github.com/flm-project/flm-gateway/internal/proxymw"
	"github.com/flm-project/flm-gateway/internal/security"
	"github.com/flm-project/flm-gateway/internal/store"
	"github.com/flm-project/flm-gateway/internal/telemetry"
	"github.com/flm-project/flm-gateway/internal/tlsmanager"
	"github.com/flm-project/flm-gateway/pkg/apikey"
	"github.com/flm-project/flm-gateway/pkg/slack"
)

// Run loads every collaborator, mounts the HTTP surface, and blocks until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting flm-gateway", "listen", cfg.ListenAddr(), "data_dir", cfg.DataDir)

	stores, err := store.Open(cfg.ConfigDBPath(), cfg.SecurityDBPath())
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}
	defer stores.Close()
	store.EnforceSecurityPermissions(cfg.SecurityDBPath(), logger.Warn)

	configStore := store.NewConfigStore(stores.Config)
	securityStore := store.NewSecurityStore(stores.Security)

	registry := buildEngineRegistry(cfg)

	healthTracker := health.NewTracker(configStore)
	engineIDs := make([]string, 0, len(registry.List()))
	for _, a := range registry.List() {
		engineIDs = append(engineIDs, a.ID())
	}
	if err := healthTracker.Warm(ctx, engineIDs); err != nil {
		return fmt.Errorf("warming health tracker: %w", err)
	}
	go runDetectionLoop(ctx, cfg, configStore, registry, healthTracker, logger)

	keyStore := apikey.NewStore(stores.Security)
	keyService := apikey.NewService(keyStore, logger)
	if err := keyService.Warm(ctx); err != nil {
		return fmt.Errorf("warming api key service: %w", err)
	}

	policySvc := security.NewPolicyService(securityStore)
	if err := policySvc.Warm(ctx); err != nil {
		return fmt.Errorf("warming security policy: %w", err)
	}
	policyDoc := func() domain.SecurityPolicyDoc { return policySvc.Current().Doc }

	notifier := slack.NewNotifier(cfg.SlackWebhookURL, logger)

	blocklist := proxymw.NewBlocklist(securityStore, logger)
	if err := blocklist.Warm(ctx); err != nil {
		return fmt.Errorf("warming blocklist: %w", err)
	}
	proxymw.WireSlackNotifier(blocklist, notifier)

	intrusion := proxymw.NewIntrusionScorer(securityStore, blocklist, logger)
	if err := intrusion.Warm(ctx); err != nil {
		return fmt.Errorf("warming intrusion scorer: %w", err)
	}

	resourceGuard := proxymw.NewResourceGuard(logger)
	go resourceGuard.Run(ctx)

	chain := &proxymw.Chain{
		Blocklist:     blocklist,
		ResourceGuard: resourceGuard,
		PolicyDoc:     policyDoc,
		Auth:          proxymw.NewAuthenticator(keyService, blocklist),
		RateLimiter:   proxymw.NewRateLimiter(),
		Intrusion:     intrusion,
	}

	keyringStore, err := keyring.New(cfg)
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	dnsCreds := security.NewDnsCredentialService(securityStore, keyringStore)
	http01 := tlsmanager.NewHTTP01Store()
	tlsMgr := tlsmanager.NewManager(cfg.DataDir, cfg.CertsDir(), nil, http01, dnsCreds)
	tlsMgr.SetDirectoryURL(cfg.AcmeDirectoryURL)

	proxyCfg, err := loadProxyConfig(ctx, configStore, cfg)
	if err != nil {
		return fmt.Errorf("loading proxy profile: %w", err)
	}
	chain.TrustedProxyIPs = proxyCfg.TrustedProxyIPs

	metricsReg := telemetry.NewRegistry()
	server := httpapi.NewServer(httpapi.Config{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, metricsReg)
	server.Router.Get("/.well-known/acme-challenge/{token}", http01.Handler())

	chain.Mount(server.ProxyMux)
	dispatcher := httpapi.NewDispatcher(registry)
	dispatcher.Routes(server.ProxyMux)

	server.Router.Mount("/admin/api-keys", apikey.NewHandler(logger, keyService).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses have no fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	var httpsSrv *http.Server
	var listener *httpsListener
	if proxyCfg.Mode != domain.ModeLocalHttp {
		cert, err := tlsMgr.Issue(ctx, "default", proxyCfg)
		if err != nil {
			return fmt.Errorf("issuing tls certificate: %w", err)
		}
		listener = newHTTPSListener("default", proxyCfg, cert)
		httpsSrv = &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Host, proxyCfg.HTTPSPort()),
			Handler:     server,
			TLSConfig:   &tls.Config{GetCertificate: listener.getCertificate},
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
	}

	renewer := tlsmanager.NewRenewer(tlsMgr, func() []tlsmanager.Listener {
		if listener == nil {
			return nil
		}
		return []tlsmanager.Listener{listener}
	}, logger)
	if err := renewer.Start(); err != nil {
		return fmt.Errorf("starting certificate renewer: %w", err)
	}
	defer renewer.Stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()
	if httpsSrv != nil {
		go func() {
			logger.Info("https server listening", "addr", httpsSrv.Addr)
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if httpsSrv != nil {
			_ = httpsSrv.Shutdown(shutdownCtx)
		}
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// httpsListener adapts the running HTTPS server's active certificate to
// tlsmanager.Listener: the server's TLSConfig.GetCertificate always reads
// the current value, so Rotate swaps certificates in place without
// dropping existing connections (spec §4.H.2).
type httpsListener struct {
	id  string
	cfg domain.ProxyConfig

	mu   sync.RWMutex
	cert tls.Certificate
}

func newHTTPSListener(id string, cfg domain.ProxyConfig, cert tls.Certificate) *httpsListener {
	return &httpsListener{id: id, cfg: cfg, cert: cert}
}

func (l *httpsListener) ID() string                { return l.id }
func (l *httpsListener) Config() domain.ProxyConfig { return l.cfg }

func (l *httpsListener) CurrentCertificate() tls.Certificate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cert
}

func (l *httpsListener) Rotate(cert tls.Certificate) error {
	l.mu.Lock()
	l.cert = cert
	l.mu.Unlock()
	return nil
}

func (l *httpsListener) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &l.cert, nil
}

const defaultProxyProfileID = "default"

// loadProxyConfig reads the default proxy profile, falling back to a plain
// LocalHttp listener on first run (spec §3: ProxyProfile is optional until
// the admin API creates one).
func loadProxyConfig(ctx context.Context, cs *store.ConfigStore, cfg *config.Config) (domain.ProxyConfig, error) {
	profile, err := cs.GetProxyProfile(ctx, defaultProxyProfileID)
	if domain.IsRepoNotFound(err) {
		return domain.ProxyConfig{
			Port:          cfg.Port,
			Mode:          domain.ModeLocalHttp,
			ListenAddress: cfg.ListenAddr(),
		}, nil
	}
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	return profile.Config, nil
}

func buildEngineRegistry(cfg *config.Config) *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register(engine.NewOllamaAdapter("ollama", engine.BaseURL(cfg, domain.EngineOllama)))
	reg.Register(engine.NewOpenAICompatAdapter("vllm", domain.EngineVLLM, engine.BaseURL(cfg, domain.EngineVLLM)))
	reg.Register(engine.NewOpenAICompatAdapter("lmstudio", domain.EngineLMStudio, engine.BaseURL(cfg, domain.EngineLMStudio)))
	reg.Register(engine.NewOpenAICompatAdapter("llamacpp", domain.EngineLlamaCpp, engine.BaseURL(cfg, domain.EngineLlamaCpp)))
	return reg
}

func runDetectionLoop(ctx context.Context, cfg *config.Config, cs *store.ConfigStore, reg *engine.Registry, tracker *health.Tracker, logger *slog.Logger) {
	ticker := time.NewTicker(engine.EngineCacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states, err := engine.DetectEngines(ctx, cfg, cs, reg, true)
			if err != nil {
				logger.Error("detecting engines", "error", err)
				continue
			}
			for _, s := range states {
				if err := tracker.Record(ctx, s.ID, string(s.Kind), s.Status); err != nil {
					logger.Error("recording engine health sample", "engine_id", s.ID, "error", err)
				}
			}
		}
	}
}
