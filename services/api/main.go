package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/handler"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/mention"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/readstate"
	"github.com/teamchat/internal/repository"
	"github.com/teamchat/internal/startup"
	"github.com/teamchat/internal/ws"
	"github.com/teamchat/migrations"
)

// teamDirectory — каталог команд, который умеет ещё и перечислить команды пользователя.
type teamDirectory interface {
	directory.Directory
	directory.TeamLister
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply directory migrations and exit")
	dev := flag.Bool("dev", false, "in-memory live store, embedded PostgreSQL, trusted X-User-Id header")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *dev {
		cfg.StoreBackend = config.StoreMemory
	}

	var dir teamDirectory
	switch cfg.DirectoryBackend {
	case config.DirectoryFile:
		static, err := directory.LoadStaticFile(cfg.DirectoryFile)
		if err != nil {
			logger.Errorf("directory: %v", err)
			os.Exit(1)
		}
		dir = static
		logger.Infof("directory: static file %s", cfg.DirectoryFile)
	default:
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool := connectDirectoryDB(cfg)
		defer pool.Close()
		if *migrate && !*dev {
			return
		}
		repo := repository.NewTeamRepository(pool)
		if *dev {
			seedDirectory(repo, cfg.DirectoryFile)
		}
		dir = repo
		logger.Info("directory: postgres connected, migrations applied")
	}

	store := startup.OpenStore(cfg, "")
	defer store.Close()

	pub := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer pub.Close()

	keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Infof("VAPID: не удалось загрузить/сгенерировать ключи: %v, push отключены", err)
	}
	pushSvc := push.NewService(store, keys, cfg.PushSubscriber)

	msgLog := messagelog.New(store, dir)
	notes := notification.NewStore(store)
	dispatcher := mention.NewDispatcher(dir, notes, pushSvc.NotifyMention, chat.MentionEventHook(pub))
	chatSvc := chat.NewService(msgLog, dir, dispatcher, pub)
	tracker := readstate.New(store, msgLog, readstate.WithBatchWindow(cfg.UnreadBatchDelay))
	feed := notification.NewFeed(notes, nil)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.Deps{Chat: chatSvc, Log: msgLog, Tracker: tracker, Feed: feed}, cfg.MaxWSConnections, cfg.WSSendBufferSize)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	msgH := handler.NewMessageHandler(chatSvc)
	readH := handler.NewReadHandler(chatSvc, tracker)
	notifH := handler.NewNotificationHandler(notes)
	pushH := handler.NewPushHandler(pushSvc)
	teamH := handler.NewTeamHandler(dir)
	configH := handler.NewConfigHandler(cfg, pushSvc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	auth := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	if *dev {
		logger.Info("auth: trusted X-User-Id header (dev)")
		auth = middleware.TrustedHeader
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.InternalSecret)).Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/sound", configH.GetSoundConfig)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.DefaultRateLimit())
		r.Get("/api/teams", teamH.GetMyTeams)
		r.Get("/api/teams/{teamId}/messages", msgH.GetMessages)
		r.Post("/api/teams/{teamId}/messages", msgH.SendMessage)
		r.Post("/api/teams/{teamId}/read", readH.MarkRead)
		r.Put("/api/messages/{messageId}", msgH.EditMessage)
		r.Delete("/api/messages/{messageId}", msgH.DeleteMessage)
		r.Post("/api/messages/{messageId}/reactions", msgH.AddReaction)
		r.Get("/api/unread", readH.GetUnread)
		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s, directory=%s, events=%s)",
			cfg.ServerAddr, cfg.StoreBackend, cfg.DirectoryBackend, events.Mode(pub))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	dispatcher.Wait()
	chatSvc.Wait()
	srvWg.Wait()
	logger.Info("background work drained")
}

func connectDirectoryDB(cfg *config.Config) *pgxpool.Pool {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	return pool
}

// seedDirectory заливает статический каталог в БД (только -dev, если файл есть).
func seedDirectory(repo *repository.TeamRepository, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	static, err := directory.LoadStaticFile(path)
	if err != nil {
		logger.Errorf("directory seed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := static.Seed(ctx, repo); err != nil {
		logger.Errorf("directory seed: %v", err)
		return
	}
	logger.Infof("directory: seeded %d teams from %s", len(static.Teams()), path)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "teamchat"
		password = "teamchat_secret"
		database = "teamchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "teamchat-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
