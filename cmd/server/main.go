package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/christopherjohns/nodchat/internal/config"
	"github.com/christopherjohns/nodchat/internal/keepalive"
	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/ratelimit"
	"github.com/christopherjohns/nodchat/internal/reply"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/server"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/christopherjohns/nodchat/internal/ws"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	bot, err := config.LoadBot(cfg.BotConfigPath)
	if err != nil {
		return 0, err
	}

	var closers []func() error

	messages, err := openMessages(cfg, log, &closers)
	if err != nil {
		return 0, err
	}
	users, err := openUsers(cfg, bot, log, &closers)
	if err != nil {
		return 0, err
	}

	var generator reply.Generator = reply.Static(bot.Fallback)
	if bot.Endpoint != "" {
		generator = reply.NewDedup(reply.NewHTTPGenerator(bot.Endpoint, nil))
		log.Info("reply generator enabled", "endpoint", bot.Endpoint)
	}

	chatCfg := chat.DefaultConfig()
	chatCfg.BotName = bot.Name
	chatCfg.Mention = bot.Mention
	chatCfg.Fallback = bot.Fallback
	chatCfg.ReplyTimeout = bot.Timeout
	chatCfg.MaxMessageLength = cfg.MaxMessageLength
	svc := chat.NewService(chatCfg, room.NewRegistry(), messages, users, generator, log)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := svc.Run(ctx); err != nil {
			log.Error("chat service stopped", "error", err)
		}
	}()

	tokens := user.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	conns := ws.NewConnManager(log, ws.WithMaxConns(cfg.MaxConns), ws.WithIdleTimeout(cfg.IdleTimeout))
	limiter := ratelimit.NewIPLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)
	go sweep(ctx, limiter, cfg.AuthRateWindow)

	srv := server.New(cfg.ListenAddr, svc, users, tokens, log,
		server.WithWebsocket(ws.NewHandler(svc, conns, tokens, cfg.WSRequireToken, log), conns),
		server.WithAuthLimiter(limiter),
		server.WithAdminToken(cfg.AdminToken),
	)
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("http server failed", "error", err)
		}
	}()

	if cfg.PingURL != "" {
		go keepalive.New(cfg.PingURL, cfg.PingInterval, &http.Client{Timeout: 10 * time.Second}, log).Run(ctx)
	}

	ops := map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			conns.Shutdown()
			return srv.Shutdown(ctx)
		},
		// Stores close only after the event loop has drained.
		"chat": func(ctx context.Context) error {
			cancel()
			select {
			case <-stopped:
			case <-ctx.Done():
				return ctx.Err()
			}
			var errs []error
			for _, closeFn := range closers {
				errs = append(errs, closeFn())
			}
			return errors.Join(errs...)
		},
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	code := <-wait
	log.Info("server exited", "code", code)
	return code, nil
}

func openMessages(cfg config.Config, log *slog.Logger, closers *[]func() error) (message.MessageStore, error) {
	if cfg.RedisAddr == "" {
		return message.NewStore(cfg.HistoryLimit), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)
	*closers = append(*closers, rdb.Close)
	return message.NewRedisStore(rdb, cfg.HistoryLimit, log), nil
}

func openUsers(cfg config.Config, bot config.Bot, log *slog.Logger, closers *[]func() error) (*user.Directory, error) {
	var store user.Store = user.NewMemoryStore()
	if cfg.UserDBPath != "" {
		db, err := user.OpenBadger(cfg.UserDBPath)
		if err != nil {
			return nil, fmt.Errorf("open user database: %w", err)
		}
		*closers = append(*closers, db.Close)
		store = user.NewBadgerStore(db, log)
	}
	return user.NewDirectory(store, bot.Name, 0, log), nil
}

func sweep(ctx context.Context, l *ratelimit.IPLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
