package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/o-farouk/stockwire/internal/dispatch"
	"github.com/o-farouk/stockwire/internal/gateway"
	"github.com/o-farouk/stockwire/internal/mail"
	"github.com/o-farouk/stockwire/internal/rooms"
	"github.com/o-farouk/stockwire/internal/server/middleware"
	"github.com/o-farouk/stockwire/pkg/config"
	"github.com/o-farouk/stockwire/pkg/transport"
)

type App struct {
	logger  *slog.Logger
	config  *config.Config
	dir     *rooms.Directory
	gateway *gateway.Gateway
	hub     *dispatch.Hub
	mailer  *mail.Mailer
	wg      sync.WaitGroup
	http    *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, hub *dispatch.Hub, mailer *mail.Mailer) *App {
	dir := rooms.NewDirectory(logger)
	gw := gateway.New(logger, dir)
	hub.Bind(gw)

	app := &App{
		logger:  logger,
		config:  cfg,
		dir:     dir,
		gateway: gw,
		hub:     hub,
		mailer:  mailer,
		ctx:     rootCtx,
	}

	counter := func(userID string) int { return dir.ConnectionCount(userID) }
	cycler := func(userID string) {
		oldest, found := dir.OldestConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID())
			oldest.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewConnectionLimiter(logger, counter, cycler, cfg.Server.ConnectionLimit),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		),
	)
	mux.Handle("POST /api/broadcast",
		middleware.Chain(http.HandlerFunc(app.broadcastHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return rootCtx
		},
	}
	return app
}

// Handler exposes the full middleware-wrapped mux, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	opts := &websocket.AcceptOptions{OriginPatterns: a.config.Server.AllowedOrigins}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	readTimeout := a.config.Transport.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.Config{ReadTimeout: readTimeout},
		a.logger,
	)

	if err := a.dir.Register(conn); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.gateway.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.dir.Deregister(id)
	})

	connLogger.Info("Connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	for _, s := range a.dir.All() {
		s.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
