// Command yeope-server runs the presence backend: identity issue/rotation and
// nearby resolution over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/bulpan/YEO.PE-sub001/server"
	"github.com/bulpan/YEO.PE-sub001/server/httpapi"
	"github.com/bulpan/YEO.PE-sub001/server/identity"
	"github.com/bulpan/YEO.PE-sub001/server/resolve"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

func main() {
	cfg := server.LoadConfig()
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg server.Config, log *slog.Logger) error {
	var identityStore identity.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		identityStore = identity.NewRedisStore(rdb)
		log.Info("identity store: redis", "addr", cfg.RedisAddr)
	} else {
		identityStore = identity.NewMemoryStore()
		log.Info("identity store: memory")
	}

	var (
		directory user.Directory
		blocks    user.Blocks
		tokens    = httpapi.NewStaticTokens(nil)
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := user.NewPostgresStore(pool)
		directory, blocks = pg, pg
		log.Info("user store: postgres")
	} else {
		mem := user.NewMemoryStore()
		directory, blocks = mem, mem
		seedDemoUsers(mem, tokens, log)
		log.Info("user store: memory (demo seeds)")
	}
	loadStaticTokens(tokens)

	issuer := identity.NewIssuer(identityStore, directory, cfg.IdentityLifetime, cfg.RefreshAhead)
	metrics := resolve.NewMetrics(prometheus.DefaultRegisterer)
	resolver := resolve.NewResolver(identityStore, directory, blocks, log, metrics)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	httpapi.NewHandler(issuer, resolver, log).Register(engine, tokens)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}

// seedDemoUsers creates a pair of resolvable accounts so a memory-backed
// server is usable out of the box.
func seedDemoUsers(store *user.MemoryStore, tokens *httpapi.StaticTokens, log *slog.Logger) {
	for _, name := range []string{"alice", "bob"} {
		u, err := store.AddNew(name)
		if err != nil {
			log.Error("seed user failed", "name", name, "error", err)
			continue
		}
		token := name + "-token"
		tokens.Add(token, u.ID)
		log.Info("seeded demo user", "name", name, "user_id", u.ID, "token", token)
	}
}

// loadStaticTokens reads YEOPE_STATIC_TOKENS ("token=userID,token=userID").
func loadStaticTokens(tokens *httpapi.StaticTokens) {
	raw := server.EnvString("YEOPE_STATIC_TOKENS", "")
	if raw == "" {
		return
	}
	for _, pair := range strings.Split(raw, ",") {
		token, userID, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && token != "" && userID != "" {
			tokens.Add(token, userID)
		}
	}
}
