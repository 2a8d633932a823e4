package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the background job workers",
	Long:  "Consume queued link generation, batch SMS, and status fetch jobs without serving HTTP.",
	Run:   runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	app.queue.Start()
	waitForShutdownSignal()
	logrus.Info("Worker shutdown requested")
	app.queue.Stop()
}
