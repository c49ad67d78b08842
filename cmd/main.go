package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nexbank/auth-service/internal/api"
	"github.com/nexbank/auth-service/internal/app"
	"github.com/nexbank/auth-service/internal/auth"
	"github.com/nexbank/auth-service/internal/config"
	"github.com/nexbank/auth-service/internal/mailer"
	"github.com/nexbank/auth-service/internal/ratelimit"
	"github.com/nexbank/auth-service/internal/store"
	"github.com/nexbank/auth-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// If a platform-provided PORT is set, prefer it.
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}

	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v", err)
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	if err := store.EnsureSchema(context.Background(), dbpool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	log.Printf("RABBITMQ_URL (masked)=%s", rabbitmq.MaskURL(cfg.RabbitMQURL))

	// Allow startup without RabbitMQ; events fall back to logging.
	var producer rabbitmq.Publisher
	if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("WARNING: Failed to connect to RabbitMQ at startup: %v. Continuing without MQ.", err)
		producer = &rabbitmq.LogPublisher{}
	} else {
		producer = p
		defer producer.Close()
		log.Println("RabbitMQ producer connected")
	}

	var limiter *ratelimit.LoginLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Unable to parse Redis URL: %v", err)
		}
		limiter = ratelimit.NewLoginLimiter(redis.NewClient(opts), cfg.LoginRateLimit, cfg.LoginRateWindow)
		log.Println("Login throttling enabled")
	} else {
		log.Println("REDIS_URL not set; login throttling disabled")
	}

	repo := store.NewPostgresAccountRepository(dbpool)
	policy := auth.LockoutPolicy{Threshold: cfg.LoginAttemptsLimit, Duration: cfg.LockoutDuration}
	mail := mailer.NewEventMailer(producer)
	otpIssuer := auth.NewOTPIssuer(repo, mail, cfg.OTPTTL, cfg.SiteName)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	service := auth.NewService(repo, policy, otpIssuer, tokens, producer, cfg.BankName)

	cookies := api.CookieSettings{
		Secure:     cfg.CookieSecure,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}
	authHandler := api.NewAuthHandler(service, tokens, limiter, cookies)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.CORSAllowedOrigins != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/verify-otp", authHandler.VerifyOTP)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Post("/logout", authHandler.Logout)
		r.With(api.RequireAuth(tokens)).Get("/me", authHandler.Me)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Auth service is healthy"))
	})

	// Drain the event outbox in the background.
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	go app.NewOutboxDispatcher(repo, cfg.RabbitMQURL).Run(dispatcherCtx)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
