package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"Treasury/internal/services/marketdata"
	"Treasury/pkg/config"
	xhttp "Treasury/pkg/http"
	applogger "Treasury/pkg/logger"
)

// App encapsulates the service lifecycle: HTTP surface, cycle scheduler,
// the optional price stream and the infrastructure to close on exit.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	runner     CycleRunner
	httpServer *xhttp.Server
	scheduler  *Scheduler
	stream     *marketdata.FinnhubPriceStream
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

func New(
	cfg *config.Config,
	l *applogger.Logger,
	runner CycleRunner,
	handlers []xhttp.Handler,
	stream *marketdata.FinnhubPriceStream,
) *App {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return &App{
		cfg:    cfg,
		log:    l,
		runner: runner,
		httpServer: xhttp.NewServer(l, handlers,
			xhttp.WithPort(cfg.Server.Port),
			xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
			xhttp.WithMetricsPath(metricsPath),
		),
		scheduler: NewScheduler(runner, cfg.StageBudget(), l),
		stream:    stream,
	}
}

// AddCloser registers infrastructure to close on shutdown, in reverse order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts everything and blocks until an interrupt or a listener failure.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.stream != nil {
		go a.stream.Run(ctx)
		a.log.Info("finnhub price stream started")
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.AddCycle(a.cfg.Scheduler.Spec); err != nil {
			a.log.Error("invalid scheduler spec", applogger.String("spec", a.cfg.Scheduler.Spec), applogger.Error(err))
			return a.shutdown(ctx, err)
		}
		a.scheduler.Start()
		go a.scheduler.RunOnce(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		a.log.Info("shutdown signal received")
	case runErr = <-a.httpServer.Errors():
	}
	return a.shutdown(ctx, runErr)
}

func (a *App) shutdown(ctx context.Context, runErr error) error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.cfg.Scheduler.Enabled {
		a.scheduler.Stop(shutdownCtx)
	}
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return runErr
}
