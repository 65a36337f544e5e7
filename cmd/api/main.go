package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stratex.org/internal/authz"
	"stratex.org/internal/credential"
	"stratex.org/internal/httpapi"
	"stratex.org/internal/obs"
	"stratex.org/internal/session"
	"stratex.org/internal/store/memory"
	"stratex.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		store authz.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("STRATEX_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Printf("STRATEX_PG_DSN not set, using the in-memory store")
		store = memory.New()
	}

	if err := authz.EnsureBuiltins(ctx, store.Catalog()); err != nil {
		log.Fatalf("seed catalog: %v", err)
	}

	admin, err := authz.NewService(store)
	if err != nil {
		log.Fatalf("authz service: %v", err)
	}

	if email := os.Getenv("STRATEX_ADMIN_EMAIL"); email != "" {
		if err := bootstrapAdmin(ctx, store, email); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
	}

	accessSecret := os.Getenv("STRATEX_ACCESS_SECRET")
	refreshSecret := os.Getenv("STRATEX_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("STRATEX_ACCESS_SECRET and STRATEX_REFRESH_SECRET are required")
	}
	access, err := session.NewAccessStrategy(accessSecret, envDuration("STRATEX_ACCESS_TTL", 0), "")
	if err != nil {
		log.Fatalf("access strategy: %v", err)
	}
	refresh, err := session.NewRefreshStrategy(refreshSecret, envDuration("STRATEX_REFRESH_TTL", 0), "")
	if err != nil {
		log.Fatalf("refresh strategy: %v", err)
	}
	sessions, err := session.NewService(store.Users(), access, refresh)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, store, admin, sessions)

	addr := os.Getenv("STRATEX_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting stratex-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Print("stratex-api stopped")
}

// bootstrapAdmin creates the initial administrator account when it does not
// exist yet, printing the generated password exactly once. Without it a
// fresh deployment has no account that could log in.
func bootstrapAdmin(ctx context.Context, store authz.Store, email string) error {
	if _, err := store.Users().FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, authz.ErrNotFound) {
		return err
	}

	password, err := credential.GenerateSecurePassword()
	if err != nil {
		return err
	}
	hash, err := credential.HashPassword(password)
	if err != nil {
		return err
	}
	user := authz.User{Email: email, Name: "Administrator", PasswordHash: hash, Active: true}
	if err := store.Users().Create(ctx, &user); err != nil {
		return err
	}
	log.Printf("created admin %s with initial password %s (rotate it after first login)", user.Email, password)
	return nil
}

// envDuration parses a duration from the environment, falling back to the
// strategy defaults when unset or malformed (0 requests the default TTL).
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", key, raw, err)
		return fallback
	}
	return d
}
