package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rtkern",
	Short: "rtkern runs simulated real-time kernels",
	Long: `rtkern hosts a discrete-time RTOS kernel: a priority-preemptive
task scheduler with bounded queues, timed mutexes, a table-driven state
machine engine, and a liveness watchdog.`,
}

// Execute runs the root command.
func Execute() {
	// A .env file can override defaults; a missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
