package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "httpc",
	Short: "Polling HTTP/1.1 client with its own DNS resolver",
	Long: `httpc - polling HTTP/1.1 client with its own DNS resolver

Resolves the target host over UDP, then sends the configured request and
prints (or stores) each response. Runs on the standard library network
stack or on io_uring.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Target flags
	rootCmd.PersistentFlags().String("host", "www.google.com", "Target domain, also sent as the Host header")
	rootCmd.PersistentFlags().String("addr", "", "Target IPv4 address (skips DNS)")
	rootCmd.PersistentFlags().Uint16P("port", "p", 80, "Target port")
	rootCmd.PersistentFlags().StringP("uri", "u", "/", "Request URI")
	rootCmd.PersistentFlags().StringP("method", "X", "GET", "HTTP method (GET, POST, HEAD, PUT, DELETE, OPTIONS, PATCH)")
	rootCmd.PersistentFlags().StringP("data", "d", "", "Request body")
	rootCmd.PersistentFlags().String("content-type", "", "Content-Type of the request body")
	rootCmd.PersistentFlags().StringArrayP("header", "H", nil, "Extra header (repeatable, e.g., -H 'Custom-Auth: value')")

	// DNS flags
	rootCmd.PersistentFlags().String("dns", "8.8.8.8", "DNS server (a.b.c.d or a.b.c.d:port)")
	rootCmd.PersistentFlags().Uint8("dns-retries", 2, "Retries within one DNS resolution")
	rootCmd.PersistentFlags().Duration("dns-timeout", 2*time.Second, "Timeout per DNS attempt")
	rootCmd.PersistentFlags().Int("resolve-attempts", 6, "DNS resolutions to try before giving up")
	rootCmd.PersistentFlags().Duration("resolve-delay", time.Second, "Wait between DNS resolutions")

	// Connection flags
	rootCmd.PersistentFlags().String("transport", "net", "Socket implementation (net, iouring, uring)")
	rootCmd.PersistentFlags().Duration("connect-timeout", 5*time.Second, "TCP connect timeout")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Response timeout")
	rootCmd.PersistentFlags().Bool("keep-alive", false, "Reuse the connection between requests")
	rootCmd.PersistentFlags().Int("buf-size", 2048, "Send, receive and header buffer size in bytes")
	rootCmd.PersistentFlags().Int("body-size", 16*1024, "Response body buffer size in bytes")

	// Output flags
	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-3)")
	rootCmd.PersistentFlags().String("sink", "text", "Where responses go (text, sqlite)")
	rootCmd.PersistentFlags().StringP("output", "o", "httpc.db", "Database path for the sqlite sink")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "httpc %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
