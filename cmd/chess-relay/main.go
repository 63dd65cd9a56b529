package main

import (
    "context"
    "log"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "go.uber.org/zap"

    "github.com/park285/chess-relay/internal/archive"
    appcfg "github.com/park285/chess-relay/internal/config"
    "github.com/park285/chess-relay/internal/coordinator"
    "github.com/park285/chess-relay/internal/msgcat"
    "github.com/park285/chess-relay/internal/obslog"
    "github.com/park285/chess-relay/internal/rules"
    "github.com/park285/chess-relay/internal/wsserver"
)

func main() {
    // .env is optional; explicit ENV_FILE must exist
    if p := strings.TrimSpace(os.Getenv("ENV_FILE")); p != "" {
        if err := godotenv.Load(p); err != nil {
            log.Fatalf("env file error: %v", err)
        }
    } else {
        _ = godotenv.Load()
    }
    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer obslog.Sync()
    logger := obslog.L()

    cfg, err := appcfg.Load()
    if err != nil {
        logger.Fatal("config_error", zap.Error(err))
    }

    cat, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        logger.Fatal("messages_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
    }

    initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
    sink, redisSink := openSinks(initCtx, cfg, logger)
    initCancel()

    var recorder *archive.Recorder
    var archiver coordinator.Archiver
    if sink != nil {
        recorder = archive.NewRecorder(sink, cfg.ArchiveQueue)
        archiver = recorder
    }

    hub := wsserver.NewHub()
    coord := coordinator.New(coordinator.Options{
        Emitter:                hub,
        Engine:                 rules.Standard{},
        Catalog:                cat,
        Archiver:               archiver,
        RejectIdentityConflict: cfg.IdentityConflict == appcfg.ConflictReject,
    })
    router := coordinator.NewRouter(coord)
    logger.Info("relay_events", zap.Strings("inbound", router.Events()))

    opts := wsserver.Options{
        Addr:            cfg.ListenAddr,
        AllowedOrigins:  cfg.AllowedOrigins,
        SendBuffer:      cfg.SendBuffer,
        MaxMessageBytes: cfg.MaxMessageBytes,
        RateLimitPerSec: cfg.RateLimitPerSec,
        RateLimitBurst:  cfg.RateLimitBurst,
        PingInterval:    cfg.PingInterval,
    }
    if redisSink != nil {
        opts.History = redisSink
    }
    srv := wsserver.New(opts, hub, router, coord)

    errCh := make(chan error, 1)
    go func() { errCh <- srv.ListenAndServe() }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
    select {
    case sig := <-sigCh:
        logger.Info("shutdown_signal", zap.String("signal", sig.String()))
    case err := <-errCh:
        if err != nil {
            logger.Error("http_server_failed", zap.Error(err))
        }
    }

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := srv.Shutdown(ctx); err != nil {
        logger.Warn("http_shutdown", zap.Error(err))
    }
    if recorder != nil {
        if err := recorder.Close(ctx); err != nil {
            logger.Warn("archive_close", zap.Error(err))
        }
    }
    logger.Info("stopped", zap.Any("stats", coord.Stats()))
}

// openSinks connects whichever result stores are configured. A store that fails to connect is
// skipped; the relay itself never depends on them. The Redis sink is also returned for reads.
func openSinks(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (archive.Sink, *archive.RedisSink) {
    var sinks archive.MultiSink
    var redisSink *archive.RedisSink
    if cfg.DatabaseURL != "" {
        pg, err := archive.NewPostgresSink(ctx, cfg.DatabaseURL)
        if err != nil {
            logger.Warn("postgres_sink_disabled", zap.Error(err))
        } else {
            sinks = append(sinks, pg)
        }
    }
    if cfg.RedisURL != "" {
        rdb, err := archive.DialRedis(ctx, cfg.RedisURL)
        if err != nil {
            logger.Warn("redis_sink_disabled", zap.Error(err))
        } else {
            redisSink = archive.NewRedisSink(rdb)
            sinks = append(sinks, redisSink)
        }
    }
    switch len(sinks) {
    case 0:
        logger.Info("archive_disabled")
        return nil, nil
    case 1:
        return sinks[0], redisSink
    default:
        return sinks, redisSink
    }
}
