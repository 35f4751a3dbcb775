package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/health"
	"github.com/dyluth/certgen/internal/worker"
)

var (
	workerConcurrency int
	workerHealthPort  int
	workerID          string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued certificate tasks",
	Long: `Run a worker that consumes tasks from the Redis queue.

The worker stores every result in Redis for 'certgen result' and async
callers, runs the retention sweep on worker.sweep_interval (one worker per
interval wins the sweep lease), and optionally serves GET /healthz.

On SIGINT or SIGTERM running tasks finish and their results are stored
before the worker exits.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Concurrent tasks (default worker.concurrency)")
	workerCmd.Flags().IntVar(&workerHealthPort, "health-port", 0, "Serve /healthz on this port (default worker.health_port)")
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker ID (default hostname-pid)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Queue.RedisURL == "" {
		return out.Error(
			"worker needs a broker",
			"queue.redis_url is not set.",
			nil,
			[]string{"Set queue.redis_url in certgen.yml or export CERTGEN_REDIS_URL"},
		)
	}

	client, err := newQueueClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Printf("[DEBUG] Closing queue client...")
		if err := client.Close(); err != nil {
			log.Printf("[ERROR] Error closing queue client: %v", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	err = client.Ping(pingCtx)
	cancel()
	if err != nil {
		return out.Error(
			"broker unreachable",
			err.Error(),
			map[string]string{"redis_url": cfg.Queue.RedisURL},
			[]string{"Check that Redis is running and the URL is correct"},
		)
	}
	log.Printf("[INFO] Connected to Redis")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	port := cfg.Worker.HealthPort
	if workerHealthPort > 0 {
		port = workerHealthPort
	}
	var healthServer *health.Server
	if port > 0 {
		healthServer = health.NewServer(newChecker(cfg, client), port)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		log.Printf("[INFO] Health server started on :%d", port)
	}

	concurrency := cfg.Worker.Concurrency
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}
	engine := worker.New(worker.Config{
		ID:             workerID,
		Concurrency:    concurrency,
		TaskTimeout:    cfg.Worker.TaskTimeout.Std(),
		SweepInterval:  cfg.Worker.SweepInterval.Std(),
		HeartbeatTTL:   cfg.Worker.HeartbeatTTL.Std(),
		RequeueOnStart: *cfg.Worker.RequeueOnStart,
	}, client, a.runner, sweepFunc(cfg))

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Start(engineCtx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Received signal: %v", sig)
	case err := <-engineDone:
		shutdownHealth(healthServer)
		if err != nil {
			return fmt.Errorf("worker engine failed: %w", err)
		}
		log.Printf("[INFO] Engine exited")
		return nil
	}

	log.Printf("[INFO] Initiating graceful shutdown...")
	engineCancel()
	shutdownHealth(healthServer)

	// Running tasks are allowed to finish, bounded by their own deadline.
	grace := cfg.Worker.TaskTimeout.Std() + 5*time.Second
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-engineDone:
		if err != nil {
			return fmt.Errorf("worker shutdown failed: %w", err)
		}
		log.Printf("[INFO] Engine shutdown complete")
	case <-timer.C:
		return fmt.Errorf("worker shutdown timed out after %s", grace)
	}

	log.Printf("[INFO] Worker shutdown complete")
	return nil
}

func shutdownHealth(s *health.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] Health server shutdown error: %v", err)
	}
}
