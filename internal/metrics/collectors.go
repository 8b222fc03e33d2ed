package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"foresight/pkg/logger"
)

// JobStatsCollector exposes job-table gauges computed at scrape time.
type JobStatsCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	jobsByStatus *prometheus.Desc
	jobAgeOldest *prometheus.Desc
}

// NewJobStatsCollector creates a collector over the job store.
func NewJobStatsCollector(postgres *sqlx.DB) *JobStatsCollector {
	return &JobStatsCollector{
		log:      logger.Get().With("component", "job_stats_collector"),
		postgres: postgres,

		jobsByStatus: prometheus.NewDesc(
			"foresight_jobs_by_status",
			"Current number of research jobs by status",
			[]string{"status"}, nil,
		),
		jobAgeOldest: prometheus.NewDesc(
			"foresight_oldest_queued_job_age_seconds",
			"Age of the oldest queued job in seconds",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *JobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.jobAgeOldest
}

// Collect implements prometheus.Collector
func (c *JobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := c.postgres.QueryContext(ctx, `SELECT status, count(*) FROM research_jobs GROUP BY status`)
	if err != nil {
		c.log.Warnf("Failed to collect job status counts: %v", err)
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var count float64
		if err := rows.Scan(&status, &count); err != nil {
			c.log.Warnf("Failed to scan job status count: %v", err)
			return
		}
		ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, count, status)
	}

	var age float64
	err = c.postgres.QueryRowContext(ctx,
		`SELECT COALESCE(EXTRACT(EPOCH FROM now() - min(created_at)), 0) FROM research_jobs WHERE status = 'queued'`,
	).Scan(&age)
	if err != nil {
		c.log.Warnf("Failed to collect oldest queued job age: %v", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.jobAgeOldest, prometheus.GaugeValue, age)
}
