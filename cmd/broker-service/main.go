// cmd/broker-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grcbridge/internal/app"
	"grcbridge/pkg/config"
	"grcbridge/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	a := app.New(cfg, log)
	defer a.Close()

	ctx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	a.StartSweeper(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.BrokerHandler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("broker-service listening", "addr", cfg.HTTPAddr, "store", cfg.SessionStore)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	fmt.Println("broker-service stopped")
}
