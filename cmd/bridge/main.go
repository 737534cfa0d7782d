package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bridge-backend/internal/app"
	"bridge-backend/internal/config"
	"bridge-backend/internal/db"
	"bridge-backend/internal/handlers"
	"bridge-backend/internal/router"
)

func main() {
	if err := config.LoadConfig(""); err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	db.InitDB()

	container, err := app.InitializeContainer()
	if err != nil {
		logrus.Fatalf("failed to initialize service container: %v", err)
	}

	bridgeHandler := handlers.NewBridgeHandler(
		container.ZcashClient,
		container.MidenClient,
		container.DepositIntentRepo,
		config.AppConfig.Bridge.BridgePoolAddr,
		config.AppConfig.Bridge.BridgeAccountID,
		config.AppConfig.Bridge.FaucetID,
		config.AppConfig.Bridge.ExitTag,
		container.Logger,
	)

	r := router.SetupRouter(bridgeHandler)

	addr := config.AppConfig.Server.Host + ":" + strconv.Itoa(config.AppConfig.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logrus.WithField("addr", addr).Info("🚀 bridge facade listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("🛑 shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("HTTP server forced to shutdown")
	}

	container.Cleanup()
	logrus.Info("✅ bridge exited")
}
