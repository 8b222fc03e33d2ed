package bootstrap

import (
	"context"
	"time"

	"foresight/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		// Long enough for an in-flight streaming analysis to finish.
		shutdownTimeout: 120 * time.Second,
	}
}

// Shutdown performs coordinated cleanup in dependency order:
// 1. Stop accepting HTTP requests
// 2. Stop the queue worker so no new jobs are dispatched
// 3. Wait for in-flight research jobs
// 4. Close the Kafka producer
// 5. Flush error tracking
// 6. Close data stores last (the steps above still write to them)
func (l *Lifecycle) Shutdown(c *Container) {
	log := logger.Get()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	log.Info("[1/6] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := c.Server.Shutdown(httpCtx); err != nil {
		log.Errorf("HTTP server shutdown failed: %v", err)
	}
	httpCancel()

	log.Info("[2/6] Stopping workers...")
	if err := c.Scheduler.Stop(); err != nil {
		log.Errorf("Worker shutdown failed: %v", err)
	}

	log.Info("[3/6] Waiting for in-flight research jobs...")
	if err := c.Orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Research jobs did not finish in time: %v", err)
	}

	if c.Producer != nil {
		log.Info("[4/6] Closing Kafka producer...")
		if err := c.Producer.Close(); err != nil {
			log.Errorf("Kafka producer close failed: %v", err)
		}
	}

	log.Info("[5/6] Flushing error tracker...")
	flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := c.ErrorTracker.Flush(flushCtx); err != nil {
		log.Errorf("Error tracker flush failed: %v", err)
	}
	flushCancel()

	log.Info("[6/6] Closing data stores...")
	if c.CH != nil {
		if err := c.CH.Close(); err != nil {
			log.Errorf("ClickHouse close failed: %v", err)
		}
	}
	if err := c.Redis.Close(); err != nil {
		log.Errorf("Redis close failed: %v", err)
	}
	if err := c.PG.Close(); err != nil {
		log.Errorf("Postgres close failed: %v", err)
	}

	log.Info("Shutdown complete")
}
