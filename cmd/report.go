package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netperf/netperf/perf"
)

var (
	reportHeaderPath string
	reportDataPath   string
)

// reportCmd summarizes a trace written by `netperf client`
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a saved trace",
	Run: func(cmd *cobra.Command, args []string) {
		trace, err := perf.LoadTrace(reportHeaderPath, reportDataPath)
		if err != nil {
			logrus.Fatalf("Failed to load trace: %v", err)
		}
		logrus.Infof("Session %s against %s (%s), %d samples",
			trace.Header.SessionID, trace.Header.ServerAddr, trace.Header.CreatedAt, len(trace.Records))
		perf.PrintSummary(os.Stdout, perf.Summarize(trace.Records))
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportHeaderPath, "trace-header", "", "Trace header file (YAML)")
	reportCmd.Flags().StringVar(&reportDataPath, "trace-data", "", "Trace data file (CSV)")
	_ = reportCmd.MarkFlagRequired("trace-header")
	_ = reportCmd.MarkFlagRequired("trace-data")

	rootCmd.AddCommand(reportCmd)
}
