package ws

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/eventbus"
	"github.com/isqad/livelook-mesh/internal/files"
	"github.com/isqad/livelook-mesh/internal/hub"
)

// AppOptions is options of the signaling application
type AppOptions struct {
	Config *config.Config
	// Hub is built from Config when nil
	Hub *hub.Hub

	websocket *melody.Melody
}

// App is the signaling server: websocket endpoint, health, metrics and file exchange
type App struct {
	AppOptions

	files *files.Store
	feed  *eventbus.Feed
}

func New(options AppOptions) (*App, error) {
	if options.Config == nil {
		options.Config = config.NewConfig()
	}

	app := &App{}

	if options.Hub == nil {
		publisher, err := eventbus.NewPublisher(options.Config.EventBus)
		if err != nil {
			return nil, err
		}

		var hubOptions []hub.Option
		if publisher != nil {
			app.feed = eventbus.NewFeed(publisher, options.Config.EventBus.Buffer)
			hubOptions = append(hubOptions, hub.WithObserver(app.feed))
		}
		options.Hub = hub.New(hubOptions...)
	}

	store, err := files.NewStore(options.Config.App.UploadRoot)
	if err != nil {
		return nil, err
	}
	app.files = store

	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = options.Config.App.MaxMessageSize

	app.AppOptions = options
	return app, nil
}

func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	app.initLogger()
	router := app.Router()

	if app.feed != nil {
		<-app.feed.Start()
	}

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Config.App.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")

		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't close websocket sessions")
		}
		if app.feed != nil {
			<-app.feed.Stop()
		}

		log.Info().Msg("all services are stopped")
		close(done)
	})

	// Shutdown the HTTP server
	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("address", app.Config.App.Address).Msg("signaling server is listening")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

func (app *App) initLogger() {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if app.Config.App.Env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// Router constructs the http router
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.websocket.HandleConnect(ConnectHandler())
	app.websocket.HandleDisconnect(DisconnectHandler(app.Hub))
	app.websocket.HandleMessage(HandleMessage(app.Hub))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "ws").Msg("error in websocket session")
	})

	r.Get("/ws", WsHandler(app.websocket))
	r.Get("/healthz", HealthHandler(app.Hub))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/upload", files.UploadHandler(app.files, app.Config.App.MaxUploadSize))
	r.Get("/download/{filename}", files.DownloadHandler(app.files))

	return r
}
