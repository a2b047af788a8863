package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netperf/netperf/perf"
)

var (
	clientHost        string        // Server host
	clientPort        int           // Server port for TCP and UDP
	planPath          string        // Optional YAML plan file
	samples           int           // Overrides the plan sample count
	iterations        int           // Handshake iterations before the key
	seed              int64         // Handshake seed (0 = random)
	sampleLogPath     string        // Plain-text sample log, appended
	traceHeaderPath   string        // Trace header output (YAML)
	traceDataPath     string        // Trace data output (CSV)
	throughputRate    float64       // Throughput messages per second
	skipUDP           bool          // Skip the UDP phase
	clientDialTimeout time.Duration // Connection timeout
)

// loadPlan returns the plan from --plan or the default matrix, with flag overrides.
// Overrides apply only when the flag was set explicitly.
func loadPlan(cmd *cobra.Command) perf.Plan {
	plan := perf.DefaultPlan()
	if planPath != "" {
		var err error
		plan, err = perf.LoadPlan(planPath)
		if err != nil {
			logrus.Fatalf("Failed to load plan %s: %v", planPath, err)
		}
	}
	if cmd.Flags().Changed("samples") {
		plan.Samples = samples
	}
	if err := plan.Validate(); err != nil {
		logrus.Fatalf("Invalid plan: %v", err)
	}
	return plan
}

// clientCmd runs one session against a server and reports the results
var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the benchmark client against a server",
	Run: func(cmd *cobra.Command, args []string) {
		plan := loadPlan(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var sampleLog *perf.SampleLog
		if sampleLogPath != "" {
			var err error
			sampleLog, err = perf.OpenSampleLog(sampleLogPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			defer func() {
				if err := sampleLog.Close(); err != nil {
					logrus.Errorf("Closing sample log: %v", err)
				}
			}()
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, clientDialTimeout)
		recorder := &perf.Recorder{}
		client, err := perf.Dial(dialCtx, perf.ClientConfig{
			Addr:       net.JoinHostPort(clientHost, fmt.Sprint(clientPort)),
			Seed:       seed,
			Iterations: iterations,
			Plan:       plan,
			Rate:       throughputRate,
			SkipUDP:    skipUDP,
		}, recorder, sampleLog)
		cancelDial()
		if err != nil {
			logrus.Fatalf("Could not reach server: %v", err)
		}
		logrus.Infof("Session %s started", client.SessionID())

		startTime := time.Now()
		runErr := client.Run(ctx)
		if err := client.Close(); err != nil {
			logrus.Warnf("Closing connections: %v", err)
		}
		if runErr != nil {
			logrus.Errorf("Session ended early: %v", runErr)
		}
		logrus.Infof("Session finished in %v with %d samples", time.Since(startTime).Round(time.Millisecond), recorder.Len())

		if traceHeaderPath != "" && traceDataPath != "" {
			if err := recorder.Export(client.Header(), traceHeaderPath, traceDataPath); err != nil {
				logrus.Errorf("Exporting trace: %v", err)
			} else {
				logrus.Infof("Trace written to %s and %s", traceHeaderPath, traceDataPath)
			}
		}

		perf.PrintSummary(os.Stdout, perf.Summarize(recorder.Records()))
		if runErr != nil {
			_ = sampleLog.Close() // os.Exit skips deferred calls
			os.Exit(1)
		}
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientHost, "host", "127.0.0.1", "Server host")
	clientCmd.Flags().IntVar(&clientPort, "port", perf.DefaultPort, "Server port for TCP and UDP")
	clientCmd.Flags().StringVar(&planPath, "plan", "", "YAML plan file (default: built-in test matrix)")
	clientCmd.Flags().IntVar(&samples, "samples", 30, "Samples per test (overrides the plan)")
	clientCmd.Flags().IntVar(&iterations, "iterations", perf.DefaultIterations, "Handshake iterations before the key")
	clientCmd.Flags().Int64Var(&seed, "seed", 0, "Handshake seed (0 = random)")
	clientCmd.Flags().StringVar(&sampleLogPath, "sample-log", "log.txt", "Append raw sample timings to this file (empty = off)")
	clientCmd.Flags().StringVar(&traceHeaderPath, "trace-header", "", "Write the trace header (YAML) here")
	clientCmd.Flags().StringVar(&traceDataPath, "trace-data", "", "Write the trace samples (CSV) here")
	clientCmd.Flags().Float64Var(&throughputRate, "rate", 0, "Throughput messages per second (0 = unlimited)")
	clientCmd.Flags().BoolVar(&skipUDP, "skip-udp", false, "Skip the UDP round-trip phase")
	clientCmd.Flags().DurationVar(&clientDialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")

	rootCmd.AddCommand(clientCmd)
}
