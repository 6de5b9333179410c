package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"value-calculation-service/internal/app"
	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-worker/datasource"
	"value-calculation-service/internal/task-worker/engine"
	"value-calculation-service/internal/task-worker/executors"
	"value-calculation-service/internal/task-worker/orchestrator"
	"value-calculation-service/internal/task-worker/worker"
)

func main() {
	cmd := &cobra.Command{
		Use:          "task-worker",
		Short:        "Runs dispatched value calculation tasks",
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
	rt, err := app.Bootstrap(configPath, "task-worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(rt.DB)
	sources := datasource.NewManager(rt.DB, st, logger)
	defer func() {
		if err := sources.Close(); err != nil {
			logger.Error("Data source close error", zap.Error(err))
		}
	}()

	eng := engine.New(models.CompositionPolicy(cfg.Engine.CompositionPolicy), logger)
	registry := executors.NewRegistry(logger)
	registry.Register(models.CodeQuery, executors.NewQueryExecutor(sources))
	registry.Register(models.CodeScript, executors.NewScriptExecutor(sources, eng))

	publisher := worker.NewCompletionPublisher(worker.NewWriter(cfg, logger), logger)
	defer publisher.Close()

	orch := orchestrator.New(st, registry, publisher, logger, orchestrator.Options{
		HardTimeLimit: cfg.Worker.HardTimeLimit,
		SoftTimeLimit: cfg.Worker.SoftTimeLimit,
	})

	health, err := worker.NewHealthServer(cfg.Worker.HealthAddr, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := health.Serve(); err != nil {
			logger.Error("Health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()

	consumer := worker.NewConsumer(worker.NewReader(cfg, logger), orch, cfg.Worker.Concurrency, logger)
	defer consumer.Close()

	health.SetServing(true)
	logger.Info("Task worker listening",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.TaskDispatchTopic),
		zap.Int("concurrency", cfg.Worker.Concurrency))
	err = consumer.Serve(ctx)
	health.SetServing(false)
	logger.Info("Task worker shut down")
	return err
}
