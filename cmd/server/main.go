// Package main starts the chatbridge server: the Discord OAuth surface, the
// Slack webhook surface, and the notification API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/feedbacktaker/chatbridge/internal/api/handlers"
	"github.com/feedbacktaker/chatbridge/internal/config"
	"github.com/feedbacktaker/chatbridge/internal/logging"
	"github.com/feedbacktaker/chatbridge/internal/secure"
	"github.com/feedbacktaker/chatbridge/internal/store"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("chatbridge %s (built %s)\n", Version, BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Secrets usually arrive through the environment; a local .env is a
	// development convenience.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logging.SetLevel(cfg.Debug)
	logging.ConfigureFileOutput(cfg.LoggingToFile, cfg.LogDir)
	log.Infof("configuration loaded: %s", cfg)

	sealer, err := buildSealer(cfg)
	if err != nil {
		log.Fatalf("state sealer: %v", err)
	}

	handler := handlers.NewHandler(cfg, sealer, store.NewMemoryStore())

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.GinLogger(), logging.GinRecovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot-reload log level and rate-limit tuning on config file changes.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logging.SetLevel(next.Debug)
		log.Info("configuration reloaded")
	})
	if err != nil {
		log.Warnf("config watcher disabled: %v", err)
	} else if err = watcher.Start(ctx); err != nil {
		log.Warnf("config watcher failed to start: %v", err)
	}

	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
	}
}

// buildSealer prefers the explicit state key; without one the key is derived
// from the client secret, which is acceptable for development only.
func buildSealer(cfg *config.Config) (*secure.Sealer, error) {
	if key := cfg.StateSealerKey(); key != nil {
		return secure.NewSealer(key)
	}
	if cfg.Production {
		log.Warn("no state encryption key configured, deriving one from the client secret")
	}
	return secure.NewSealerFromSecret(cfg.Discord.ClientSecret)
}
