package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"owconsole/internal/broadcast"
	"owconsole/internal/config"
	"owconsole/internal/server"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		glog.Exitf("Failed to load config: %v", err)
	}
	defer glog.Flush()

	srv := server.New(cfg.Port, broadcast.NewRelayHub())
	go func() {
		if err := srv.Start(); err != nil {
			glog.Errorf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		glog.Errorf("Relay forced to shutdown: %v", err)
		return
	}

	glog.Info("Relay exiting")
}
