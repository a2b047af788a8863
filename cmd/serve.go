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
	serveHost        string        // Listen host (empty = all interfaces)
	servePort        int           // Listen port for TCP and UDP
	serveSessions    int           // Sessions to serve before exiting
	serveIdleTimeout time.Duration // Max wait for the next client message
)

// serveCmd answers client sessions until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the benchmark server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := perf.NewServer(perf.ServerConfig{
			Addr:        net.JoinHostPort(serveHost, fmt.Sprint(servePort)),
			MaxSessions: serveSessions,
			IdleTimeout: serveIdleTimeout,
		})
		if err := server.Listen(); err != nil {
			logrus.Fatalf("Failed to start server: %v", err)
		}
		if err := server.Serve(ctx); err != nil {
			logrus.Fatalf("Server stopped: %v", err)
		}

		stats := server.Stats()
		logrus.Infof("Served %d sessions (%d failed): %d messages, %d invalid, %d datagrams",
			stats.Sessions, stats.FailedSessions, stats.Messages, stats.InvalidMessages, stats.Datagrams)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (empty = all interfaces)")
	serveCmd.Flags().IntVar(&servePort, "port", perf.DefaultPort, "Listen port for TCP and UDP")
	serveCmd.Flags().IntVar(&serveSessions, "sessions", 0, "Exit after this many sessions (0 = serve forever)")
	serveCmd.Flags().DurationVar(&serveIdleTimeout, "idle-timeout", 30*time.Second, "Abort a session after this long without client traffic")

	rootCmd.AddCommand(serveCmd)
}
