package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // .env loader for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/session-enrollment/internal/config"
	"github.com/iliyamo/session-enrollment/internal/database"
	"github.com/iliyamo/session-enrollment/internal/engine"
	"github.com/iliyamo/session-enrollment/internal/handler"
	"github.com/iliyamo/session-enrollment/internal/middleware"
	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
	"github.com/iliyamo/session-enrollment/internal/router"
	"github.com/iliyamo/session-enrollment/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: with no client the rate limiter runs in-process
	// and the response cache is disabled.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, running with in-process rate limiter and no response cache")
	}

	sessions := repository.NewSessionRepo(db)
	partitions := repository.NewPartitionRepo(db)
	tables := repository.NewTableRepo(db)
	enrollments := repository.NewEnrollmentRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	engCfg := engine.DefaultConfig()
	engCfg.TxAttempts = cfg.EnrollTxAttempts
	engCfg.BackoffMin = cfg.EnrollBackoffMin
	engCfg.BackoffMax = cfg.EnrollBackoffMax
	engCfg.PositionMin = uint8(cfg.PartitionPosMin)
	eng := engine.New(db, sessions, partitions, tables, enrollments, service.NewClosurePublisher(), engCfg)

	// Moderation feed consumer; reconnects on its own and never brings
	// the server down.
	go func() {
		if err := queue.StartModerationConsumer(); err != nil {
			log.Printf("moderation consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	authH := handler.NewAuthHandler(cfg, users, tokens)
	adminH := handler.NewAdminHandler(eng, sessions, partitions, tables, enrollments)
	memberH := handler.NewMemberHandler(eng, enrollments)
	publicH := handler.NewPublicHandler(sessions, partitions, tables, enrollments)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterAdmin(e, adminH, cfg.JWTSecret)
	router.RegisterMember(e, memberH, cfg.JWTSecret)
	router.RegisterPublic(e, publicH, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
