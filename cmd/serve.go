package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scanci/internal/audit"
	"scanci/internal/core"
	"scanci/internal/server"
)

var serveFlags struct {
	listen      string
	repoDir     string
	dataDir     string
	journalPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP",
	RunE: func(_ *cobra.Command, _ []string) error {
		pipeline, err := core.LoadPipeline(configPath)
		if err != nil {
			return err
		}

		cfg := server.Config{
			Pipeline: pipeline,
			RepoDir:  serveFlags.repoDir,
			DataDir:  serveFlags.dataDir,
			Logger:   logger,
		}
		if serveFlags.journalPath != "" {
			journal, err := audit.Open(serveFlags.journalPath)
			if err != nil {
				return err
			}
			keyDir := filepath.Join(serveFlags.dataDir, "keys")
			if err := os.MkdirAll(keyDir, 0o700); err != nil {
				return fmt.Errorf("create key dir: %w", err)
			}
			pub, priv, err := audit.EnsureKeyPair(
				filepath.Join(keyDir, "scanci.pub"),
				filepath.Join(keyDir, "scanci.key"))
			if err != nil {
				return err
			}
			cfg.Journal = journal
			cfg.Pub = pub
			cfg.Priv = priv
		}

		s := server.New(cfg)
		logger.Info("scanci serving", "addr", serveFlags.listen)
		return http.ListenAndServe(serveFlags.listen, s.Router())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveFlags.repoDir, "repo", ".", "repository to scan; steps run here")
	serveCmd.Flags().StringVar(&serveFlags.dataDir, "data-dir", ".scanci", "directory for run artifacts and logs")
	serveCmd.Flags().StringVar(&serveFlags.journalPath, "journal", "", "append signed run reports to this audit journal")
	rootCmd.AddCommand(serveCmd)
}
