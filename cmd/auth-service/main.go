package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lodgeportal/auth-service/internal/audit"
	"lodgeportal/auth-service/internal/auth"
	"lodgeportal/auth-service/internal/config"
	"lodgeportal/auth-service/internal/httpapi"
	"lodgeportal/auth-service/internal/password"
	"lodgeportal/auth-service/internal/ratelimit"
	"lodgeportal/auth-service/internal/store/postgres"
	"lodgeportal/auth-service/internal/telemetry"
	"lodgeportal/auth-service/internal/totp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("auth-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if err := postgres.RunMigrations(context.Background(), cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()
	st := postgres.NewStore(pool)

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		limiter = ratelimit.NewRedis(client, "auth")
		log.Printf("rate limiting via redis at %s", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemory()
	}

	policy := password.DefaultPolicy()
	policy.MinLength = cfg.PasswordMinLength

	svc := auth.NewService(st, limiter, totp.NewEngine(cfg.TOTPIssuer), audit.NewRecorder(st), auth.Config{
		SessionTTL:              cfg.SessionTTL,
		ChallengeTTL:            cfg.ChallengeTTL,
		LoginMaxAttempts:        cfg.LoginMaxAttempts,
		LoginWindow:             cfg.LoginWindow,
		SecondFactorMaxAttempts: cfg.TwoFactorMax,
		SecondFactorWindow:      cfg.TwoFactorWindow,
		DownloadMaxAttempts:     cfg.DownloadMax,
		DownloadWindow:          cfg.DownloadWindow,
		PasswordPolicy:          policy,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepSessions(sweepCtx, svc, cfg.SweepInterval)

	handler := httpapi.NewHandler(svc)
	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(handler.Routes()), "auth-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("auth-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// sweepSessions periodically removes expired sessions. Validation never
// honors an expired session, so the sweep is purely housekeeping.
func sweepSessions(ctx context.Context, svc *auth.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := svc.SweepExpired(ctx)
			if err != nil {
				log.Printf("session sweep: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("session sweep removed %d expired sessions", removed)
			}
		}
	}
}
