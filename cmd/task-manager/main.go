package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"value-calculation-service/internal/app"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-manager/api"
	tmKafka "value-calculation-service/internal/task-manager/kafka"
	"value-calculation-service/internal/task-manager/services"
	"value-calculation-service/internal/task-worker/datasource"
)

func main() {
	cmd := &cobra.Command{
		Use:          "task-manager",
		Short:        "HTTP API, scheduler and result consumer for value calculation tasks",
		SilenceUsage: true,
	}
	configPath := app.ConfigFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(*configPath)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	rt, err := app.Bootstrap(configPath, "task-manager")
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	st := store.New(rt.DB)
	sources := datasource.NewManager(rt.DB, st, logger)
	dispatcher := tmKafka.NewDispatcher(tmKafka.NewKafkaProducer(cfg, logger), logger)
	tasks := services.NewTaskService(st, dispatcher, sources, logger)

	resultService := services.NewResultService(st, services.NewResultReader(cfg, logger), logger)
	resultService.StartConsuming(appCtx)

	schedulerService, err := services.NewSchedulerService(appCtx, st, tasks, logger)
	if err != nil {
		return err
	}
	schedulerService.Start()

	hlog.SetOutput(os.Stdout)
	if cfg.Log.Level == "debug" {
		hlog.SetLevel(hlog.LevelDebug)
	} else {
		hlog.SetLevel(hlog.LevelInfo)
	}
	h := server.Default(server.WithHostPorts(cfg.Server.Addr), server.WithExitWaitTime(5*time.Second))
	api.Register(h, api.NewTaskHandler(tasks, logger), schedulerService)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		logger.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

		appCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Error("Hertz server shutdown error", zap.Error(err))
		}
		schedulerService.Stop()
		resultService.Close()
		if err := dispatcher.Close(); err != nil {
			logger.Error("Kafka producer close error", zap.Error(err))
		}
		if err := sources.Close(); err != nil {
			logger.Error("Data source close error", zap.Error(err))
		}
	}()

	logger.Info("Task manager starting", zap.String("addr", cfg.Server.Addr))
	h.Spin()
	logger.Info("Task manager shut down")
	return nil
}
