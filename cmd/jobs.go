package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collections/app/service"
)

var (
	workerMode bool
)

var statusesCmd = &cobra.Command{
	Use:   "statuses",
	Short: "Run payment status related commands",
}

var statusesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Poll the gateway for every pending payment link",
	Run: func(_ *cobra.Command, _ []string) {
		app, cleanup := mustCreateApplication()
		defer cleanup()

		fn := func(ctx context.Context) error {
			summary, err := app.jobs.FetchAllStatusesNow(ctx)
			if err != nil {
				return err
			}
			logSummary(summary)
			return nil
		}

		if workerMode {
			runWorker("statuses_fetch", app.cfg.Jobs.FetchStatusesInterval, fn)
			return
		}
		runJob("statuses_fetch", func() error { return fn(context.Background()) })
	},
}

func init() {
	rootCmd.AddCommand(statusesCmd)
	statusesCmd.AddCommand(statusesFetchCmd)

	statusesCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func logSummary(summary *service.FetchSummary) {
	logrus.WithFields(logrus.Fields{
		"total":   summary.Total,
		"paid":    summary.Paid,
		"expired": summary.Expired,
		"pending": summary.Pending,
		"skipped": summary.Skipped,
		"errors":  summary.Errors,
	}).Info("Payment statuses fetched")
}

func runWorker(name string, interval time.Duration, fn func(ctx context.Context) error) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
