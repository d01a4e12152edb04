package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nczempin/httpc-embedded/driver"
	"github.com/nczempin/httpc-embedded/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve the target and run request cycles",
	Long: `Run resolves the target host once, then connects, sends the request and
waits for the full response, --count times with at least --interval between
cycles. A count of 0 runs until interrupted.`,
	RunE: runRequests,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntP("count", "n", 1, "Request cycles to run (0 = until interrupted)")
	runCmd.Flags().Duration("interval", driver.DefaultConfig().Interval, "Minimum time between request cycles")
	runCmd.Flags().Bool("show-headers", false, "Print status and headers with the text sink")
}

// configFromFlags maps the command line onto a driver configuration.
func configFromFlags(cmd *cobra.Command) *driver.Config {
	cfg := driver.DefaultConfig()
	flags := cmd.Flags()

	cfg.Host, _ = flags.GetString("host")
	cfg.Addr, _ = flags.GetString("addr")
	cfg.Port, _ = flags.GetUint16("port")
	cfg.URI, _ = flags.GetString("uri")
	cfg.Method, _ = flags.GetString("method")
	cfg.Body, _ = flags.GetString("data")
	cfg.ContentType, _ = flags.GetString("content-type")
	cfg.Headers, _ = flags.GetStringArray("header")

	cfg.DNSServer, _ = flags.GetString("dns")
	cfg.DNSRetries, _ = flags.GetUint8("dns-retries")
	cfg.DNSTimeout, _ = flags.GetDuration("dns-timeout")
	cfg.ResolveAttempts, _ = flags.GetInt("resolve-attempts")
	cfg.ResolveDelay, _ = flags.GetDuration("resolve-delay")

	transportKind, _ := flags.GetString("transport")
	cfg.Transport = driver.TransportKind(transportKind)
	cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
	cfg.ResponseTimeout, _ = flags.GetDuration("timeout")
	cfg.KeepAlive, _ = flags.GetBool("keep-alive")

	bufSize, _ := flags.GetInt("buf-size")
	cfg.SendBufSize = bufSize
	cfg.RecvBufSize = bufSize
	cfg.HeaderBufSize = bufSize
	cfg.BodyBufSize, _ = flags.GetInt("body-size")

	cfg.Count, _ = flags.GetInt("count")
	cfg.Interval, _ = flags.GetDuration("interval")

	if cfg.Body != "" && cfg.Method == "GET" {
		cfg.Method = "POST"
	}
	return cfg
}

func runRequests(cmd *cobra.Command, args []string) error {
	cfg := configFromFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetInt("verbose")
	logger := driver.NewLogger(cmd.ErrOrStderr(), verbose)

	sinkKind, _ := cmd.Flags().GetString("sink")
	outputPath, _ := cmd.Flags().GetString("output")
	s, err := sink.Open(sink.Kind(sinkKind), outputPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()
	if ts, ok := s.(*sink.TextSink); ok {
		ts.Headers, _ = cmd.Flags().GetBool("show-headers")
	}

	d, err := driver.New(cfg, logger, s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := d.Run(ctx)
	logger.Info("done",
		"sent", stats.Sent,
		"completed", stats.Completed,
		"failed", stats.Failed)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if verbose > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "[*] %d sent, %d completed, %d failed\n",
			stats.Sent, stats.Completed, stats.Failed)
	}
	return nil
}
