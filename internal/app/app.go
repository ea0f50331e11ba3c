package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/controller"
	"marketplace/internal/metrics"
	"marketplace/internal/middleware"
	"marketplace/internal/notify"
	"marketplace/internal/repository"
	"marketplace/internal/router"
	"marketplace/internal/service"
	"marketplace/internal/supabase"

	log "github.com/sirupsen/logrus"
)

type App struct {
	client     *supabase.Client
	repo       *repository.Repository
	service    *service.Service
	controller *controller.Controller
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	handler    http.Handler
	stopSig    chan os.Signal
	cfg        *config.Config

	Done chan struct{}
}

type option func(*App)

func WithConfig(cfg *config.Config) option {
	return func(app *App) {
		app.cfg = cfg
	}
}

func NewApp(opts ...option) (*App, error) {
	var err error

	app := &App{
		stopSig: make(chan os.Signal, 2),
		Done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		cfg, err := config.NewConfig()
		if err != nil {
			return nil, err
		}
		app.cfg = cfg
	}

	setupLogging(app.cfg.LogLevel)

	app.client, err = supabase.New(supabase.Config{
		URL:       app.cfg.SupabaseConfig.URL,
		AnonKey:   app.cfg.AnonKey,
		JWTSecret: app.cfg.JWTSecret,
		Timeout:   app.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	app.repo, err = repository.NewRepository(app.client, nil, &app.cfg.PostgresConfig)
	if err != nil {
		return nil, err
	}

	app.metrics = metrics.New()
	notifier := notify.NewNotifier(app.cfg.TTL, app.cfg.Limit)
	app.service = service.NewService(app.repo, notifier, service.WithMetrics(app.metrics))
	app.controller = controller.NewController(app.service, controller.WithSecureCookies(app.cfg.CookieSecure))

	app.limiter = middleware.NewRateLimiter(app.cfg.AuthRateLimit, app.cfg.AuthRateBurst)
	app.handler = router.NewRouter(
		app.controller,
		middleware.NewSession(app.service, app.cfg.CookieSecure),
		app.limiter,
		app.metrics,
		app.cfg.TrustProxy,
	)

	return app, nil
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Handler serves the whole HTTP surface without starting a listener.
func (app *App) Handler() http.Handler {
	return app.handler
}

func (app *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signal.Notify(app.stopSig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-app.stopSig
		log.Infof("Received signal: %s", sig)
		cancel()
	}()

	if idle := app.cfg.AuthRateIdle; idle > 0 {
		app.limiter.StartCleanup(ctx, idle, idle)
	}

	server := http.Server{
		Addr:         app.cfg.ServerAddress,
		Handler:      app.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Http server error")
		}
	}()

	log.Infof("Server started at %s, listening for connections...", app.cfg.ServerAddress)
	<-ctx.Done()

	timeout, tcancel := context.WithTimeout(context.Background(), time.Second*10)
	defer tcancel()
	log.Info("Shutting down http server...")
	server.Shutdown(timeout)

	log.Info("Closing repository...")
	err := app.repo.Close()
	if err != nil {
		log.WithError(err).Error("Repository closing error")
	}

	close(app.Done)
	log.Info("Exiting app.")
}
