package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/wonderhq/coordinator/cmd/coordinator/httpapi"
	"github.com/wonderhq/coordinator/internal/bootstrap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := bootstrap.Setup(ctx, "coordinator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap coordinator: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	components.Logger.Info("coordinator starting", "port", components.Config.Service.Port)

	go func() {
		if err := components.Trampoline.Start(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("trampoline stopped", "error", err)
		}
	}()

	if components.Supervisor != nil {
		go func() {
			if err := components.Supervisor.Start(ctx); err != nil && ctx.Err() == nil {
				components.Logger.Error("supervisor stopped", "error", err)
			}
		}()
	}

	e := setupEcho()
	h := httpapi.New(components.Dispatcher, components.Status, components.Logger)
	httpapi.Register(e, h)

	addr := fmt.Sprintf(":%d", components.Config.Service.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			components.Logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	components.Logger.Info("coordinator shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		components.Logger.Error("http server shutdown error", "error", err)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	return e
}
