// Package cli implements the cloudsync command-line interface.
// Built with cobra:
// - One operation per invocation, against one named backup
// - Remote deletions in clean require explicit opt-in
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	configPath  string
	dryRun      bool
	forceStart  bool
	cacheMaxAge int
)

// rootCmd is the base command for cloudsync.
var rootCmd = &cobra.Command{
	Use:   "cloudsync",
	Short: "Encrypted backup of a local tree onto a remote object store",
	Long: `cloudsync mirrors a local directory tree onto a remote store.

Names, metadata and content are encrypted before they leave the machine:
  • backup   mirror the local tree onto the remote store
  • restore  materialize the remote tree locally
  • clean    recover remote duplicates locally, optionally delete them remotely
  • list     print the remote tree

The remote tree of the last run is cached per backup name.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print warnings and errors")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.cloudsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without doing it")
	rootCmd.PersistentFlags().BoolVar(&forceStart, "forcestart", false, "Start even if a pid file of another run exists")
	rootCmd.PersistentFlags().IntVar(&cacheMaxAge, "cache-max-age", -1, "Cache expiry in days, 0 never expires (default from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(journalCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return RunInit(cmd.OutOrStdout(), force)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup <path>",
	Short: "Mirror a local folder onto the remote store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return RunBackup(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore the remote tree into a local folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return RunRestore(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean <path>",
	Short: "Restore remote duplicates into a local folder",
	Long: `Restore every remote duplicate (with its subtree) into a local folder.

Duplicates are deleted from the remote store only with --remove-remote
or clean.remove_remote in the config file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return RunClean(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the remote tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd, "")
		if err != nil {
			return err
		}
		return RunList(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return RunJournalList(cmd.Context(), cmd.OutOrStdout(), limit)
	},
}

var journalPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show runs that never finished",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunJournalPending(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	for _, cmd := range []*cobra.Command{backupCmd, restoreCmd, cleanCmd, listCmd} {
		cmd.Flags().String("name", "", "Backup name (required)")
		_ = cmd.MarkFlagRequired("name")
	}
	for _, cmd := range []*cobra.Command{backupCmd, listCmd} {
		cmd.Flags().Bool("nocache", false, "Walk the remote store instead of using the cache")
	}
	backupCmd.Flags().String("symlinks", "internal", "Symlink policy: internal, all or none")

	for _, cmd := range []*cobra.Command{restoreCmd, cleanCmd} {
		cmd.Flags().String("duplicate", "stop", "Existing local path policy: stop, update or rename")
		cmd.Flags().Bool("nopermissions", false, "Do not restore permissions and ownership")
	}
	for _, cmd := range []*cobra.Command{restoreCmd, listCmd} {
		cmd.Flags().String("limit", "", "Only items whose path matches this regular expression")
	}
	cleanCmd.Flags().Bool("remove-remote", false, "Delete restored duplicates from the remote store")

	journalCmd.Flags().Int("limit", 20, "Number of runs to show, 0 for all")
	journalCmd.AddCommand(journalPendingCmd)
}

// runOptionsFromFlags collects the per-command flags that exist on cmd.
func runOptionsFromFlags(cmd *cobra.Command, path string) (RunOptions, error) {
	opts := RunOptions{Path: path}
	flags := cmd.Flags()
	opts.Name, _ = flags.GetString("name")
	if flags.Lookup("nocache") != nil {
		opts.NoCache, _ = flags.GetBool("nocache")
	}
	if flags.Lookup("symlinks") != nil {
		opts.Symlinks, _ = flags.GetString("symlinks")
	}
	if flags.Lookup("duplicate") != nil {
		opts.Duplicate, _ = flags.GetString("duplicate")
		opts.NoPermissions, _ = flags.GetBool("nopermissions")
	}
	if flags.Lookup("limit") != nil {
		opts.Limit, _ = flags.GetString("limit")
	}
	if flags.Lookup("remove-remote") != nil && flags.Changed("remove-remote") {
		v, _ := flags.GetBool("remove-remote")
		opts.RemoveRemote = &v
	}
	return opts, nil
}
