package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scanci/internal/audit"
)

var auditJournalPath string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the signed run journal",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-walk the journal chain and check every hash and signature",
	RunE: func(_ *cobra.Command, _ []string) error {
		journal, err := audit.Open(auditJournalPath)
		if err != nil {
			return err
		}
		if err := journal.Verify(); err != nil {
			return fmt.Errorf("journal verification failed: %w", err)
		}
		logger.Info("journal verification ok", "entries", len(journal.Entries()))
		return nil
	},
}

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the journal entries, oldest first",
	RunE: func(_ *cobra.Command, _ []string) error {
		journal, err := audit.Open(auditJournalPath)
		if err != nil {
			return err
		}
		for _, e := range journal.Entries() {
			fmt.Printf("%d\t%s\trun=%s\toverall=%s\thash=%s\n",
				e.Index, e.Timestamp, e.RunID, e.Overall, e.Hash[:16])
		}
		return nil
	},
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditJournalPath, "journal", "scanci-journal.jsonl", "journal file")
	auditCmd.AddCommand(auditVerifyCmd, auditLogCmd)
	rootCmd.AddCommand(auditCmd)
}
