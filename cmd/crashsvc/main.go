package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	config "github.com/scrsdk/tonojet-services/configs"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/broker"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/db"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/fair"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/handlers"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/service"
	nats "github.com/scrsdk/tonojet-services/internal/nats"
)

const SERVICE_NAME = "crash"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func envDecimal(key string, fallback int64) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
		log.Warnf("invalid %s value %q, using default", key, v)
	}
	return decimal.NewFromInt(fallback)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warnf("invalid %s value %q, using default", key, v)
	}
	return fallback
}

func main() {
	ledgerCfg := ledger.Config{
		Limits: ledger.Limits{
			MaxDailyWager: envDecimal("MAX_DAILY_WAGER", 10000),
			MaxDailyLoss:  envDecimal("MAX_DAILY_LOSS", 5000),
		},
		DisclosureDelay: envDuration("DISCLOSURE_DELAY", 5*time.Minute),
	}
	if v := os.Getenv("MAX_DAILY_GAMES"); v != "" {
		games, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid MAX_DAILY_GAMES value: %v", err)
		}
		ledgerCfg.Limits.MaxDailyGames = games
	}

	var engine ledger.Engine
	if os.Getenv("STORE_BACKEND") == "mem" {
		// volatile store for local development only
		engine = ledger.NewMemory(ledgerCfg)
		log.Warn("running on the in-memory ledger, balances will not survive restart")
	} else {
		dbpool, err := db.Connect()
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool()
		log.Printf("pg connection established successfully")
		engine = ledger.NewPostgres(dbpool, ledgerCfg)
	}

	// Connect to NATS
	n, err := nats.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	pub := broker.NewBroker(n.Conn)

	houseEdge := 0.01
	if v := os.Getenv("HOUSE_EDGE"); v != "" {
		houseEdge, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatalf("Invalid HOUSE_EDGE value: %v", err)
		}
	}
	fairEngine := fair.New(fair.Config{HouseEdge: houseEdge})

	betService := service.NewBetService(engine, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roundService, err := service.NewRoundService(ctx, engine, fairEngine, betService, pub, service.RoundConfig{
		BettingWindow:   envDuration("BETTING_WINDOW", 10*time.Second),
		TickInterval:    envDuration("TICK_INTERVAL", 100*time.Millisecond),
		DisclosureDelay: ledgerCfg.DisclosureDelay,
	})
	if err != nil {
		log.Fatalf("Failed to init round coordinator: %v", err)
	}

	// drive rounds until shutdown
	go func() {
		if err := roundService.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("round loop stopped: %v", err)
		}
	}()

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(fairEngine, roundService)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
