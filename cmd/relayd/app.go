package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PMK765/WebPartyGames/internal/auth"
	"github.com/PMK765/WebPartyGames/internal/cache"
	"github.com/PMK765/WebPartyGames/internal/config"
	"github.com/PMK765/WebPartyGames/internal/database"
	"github.com/PMK765/WebPartyGames/internal/relay"
	"github.com/PMK765/WebPartyGames/internal/secrets"
)

const (
	healthTimeout     = 2 * time.Second
	defaultJournalLen = 50
	maxJournalLen     = 1000
)

// app is relayd with its backends connected and routes mounted.
type app struct {
	router  *gin.Engine
	relay   *relay.Server
	journal *cache.Journal // nil without Redis
	checks  map[string]func(context.Context) error
	closers []func()
}

// newApp connects to Redis and Postgres when configured and falls back to
// in-process backends otherwise.
func newApp(ctx context.Context, cfg config.Config, log *logrus.Entry) (*app, error) {
	a := &app{checks: make(map[string]func(context.Context) error)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var backplane relay.Transport
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		backplane = relay.NewRedisTransport(rdb, log)
		a.journal = cache.NewJournal(rdb, cfg.JournalKey, cfg.JournalMaxLen)
		log.Info("using redis backplane")
	} else {
		bus := relay.NewMemoryBus()
		a.closers = append(a.closers, func() { bus.Close() })
		backplane = bus
		log.Warn("REDIS_URL not set, relaying in process only")
	}

	var repo secrets.Repository
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks["postgres"] = pool.Ping
		if err := database.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		repo = secrets.NewPostgresRepository(pool)
		log.Info("using postgres secret store")
	} else {
		repo = secrets.NewMemoryRepository()
		log.Warn("DATABASE_URL not set, secrets are kept in memory")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	opts := []relay.ServerOption{relay.WithOriginPatterns(cfg.CORSOrigins...)}
	if a.journal != nil {
		opts = append(opts, relay.WithTap(cache.NewRecorder(a.journal, log).Tap))
	}
	a.relay = relay.NewServer(backplane, verifier, log, opts...)
	svc := secrets.NewService(repo, cfg.RoleSeedSalt, log)

	a.router = newRouter(cfg, log)
	a.relay.Register(a.router)
	svc.Register(a.router, verifier)
	a.router.GET("/healthz", a.health)
	if a.journal != nil {
		a.router.GET("/rooms/:room/journal", auth.Middleware(verifier), a.recentJournal)
	}
	ok = true
	return a, nil
}

// Close releases backends in reverse order of connection.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newRouter(cfg config.Config, log *logrus.Entry) *gin.Engine {
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}

// health pings every configured backend concurrently.
func (a *app) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var g errgroup.Group
	for name, check := range a.checks {
		g.Go(func() error {
			if err := check(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backends": slices.Sorted(maps.Keys(a.checks))})
}

// recentJournal returns the newest journaled snapshots of a room, oldest first.
func (a *app) recentJournal(c *gin.Context) {
	room := c.Param("room")
	if !relay.ValidRoomID(room) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	n := defaultJournalLen
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
			return
		}
		n = min(parsed, maxJournalLen)
	}
	recs, err := a.journal.Recent(c.Request.Context(), room, n)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "records": recs})
}
