package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/smallnest/maizone/store"
	"github.com/spf13/cobra"
)

var (
	seenTarget string
	seenLimit  int
	seenJSON   bool
	seenDays   int
)

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Inspect the record of posts already handled",
}

var seenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List handled posts, newest first",
	Run:   runSeenList,
}

var seenPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than the retention period",
	Run:   runSeenPrune,
}

func init() {
	rootCmd.AddCommand(seenCmd)
	seenCmd.AddCommand(seenListCmd, seenPruneCmd)

	seenListCmd.Flags().StringVar(&seenTarget, "target", "", "Only show records of this account")
	seenListCmd.Flags().IntVar(&seenLimit, "limit", 50, "Limit number of results (0 for all)")
	seenListCmd.Flags().BoolVar(&seenJSON, "json", false, "Output in JSON format")

	seenPruneCmd.Flags().IntVar(&seenDays, "days", 0, "Keep this many days (default: monitor.retention_days)")
}

func openSeenStore() store.SeenStore {
	cfg := mustLoadConfig()
	s, err := store.Open(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if seenDays <= 0 {
		seenDays = cfg.Monitor.RetentionDays
	}
	return s
}

func runSeenList(cmd *cobra.Command, args []string) {
	s := openSeenStore()
	defer s.Close()

	records, err := s.List(context.Background(), seenTarget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if seenLimit > 0 && len(records) > seenLimit {
		records = records[:seenLimit]
	}

	if seenJSON {
		printJSON(records)
		return
	}
	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tID\tSEEN AT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Target, r.ID, r.SeenAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func runSeenPrune(cmd *cobra.Command, args []string) {
	s := openSeenStore()
	defer s.Close()

	if seenDays <= 0 {
		fmt.Fprintln(os.Stderr, "Error: retention is disabled, pass --days")
		os.Exit(1)
	}
	n, err := s.Prune(context.Background(), time.Now().AddDate(0, 0, -seenDays))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d records older than %d days\n", n, seenDays)
}
