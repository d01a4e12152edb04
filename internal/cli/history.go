package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nczempin/httpc-embedded/sink"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List responses stored by the sqlite sink",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "Maximum number of records to list (0 = all)")
	historyCmd.Flags().Bool("all-hosts", false, "List every host instead of --host only")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("output")
	host, _ := cmd.Flags().GetString("host")
	limit, _ := cmd.Flags().GetInt("limit")
	if all, _ := cmd.Flags().GetBool("all-hosts"); all {
		host = ""
	}

	s, err := sink.NewSQLiteSink(path)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.List(cmd.Context(), host, limit)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, rec := range recs {
		fmt.Fprintf(w, "%s  %s  %s %s%s  %d  %d bytes  %s\n",
			rec.ID,
			rec.ReceivedAt.Local().Format(time.DateTime),
			rec.Method, rec.Host, rec.URI,
			rec.StatusCode,
			len(rec.Body),
			rec.Elapsed.Round(time.Microsecond))
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "[*] No stored responses")
	}
	return nil
}
