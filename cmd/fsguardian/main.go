package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/sync"
	"github.com/biswanathroul/filesync-guardian/internal/version"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "fsguardian",
	Short:   "Mirror a source directory tree onto a target directory tree",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := sync.NewConfig(viper.GetString("source"), viper.GetString("target"))
		cfg.DeleteOrphans = viper.GetBool("delete_orphans")
		cfg.VerifyChecksums = viper.GetBool("verify")
		cfg.ExcludePatterns = viper.GetStringSlice("exclude")
		cfg.MaxParallelOps = viper.GetInt("workers")
		cfg.SymlinkPolicy = sync.SymlinkPolicy(viper.GetString("symlinks"))
		cfg.DryRun = viper.GetBool("dry_run")
		cfg.StrictCompare = viper.GetBool("strict")

		engine, err := sync.New(cfg)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		// first signal requests a graceful stop; in-flight copies finish
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			slog.Info("stop requested, finishing in-flight operations")
			engine.Stop()
		}()

		result, err := engine.Start(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("sync failed:"), err)
			cmd.SilenceErrors = true
			return err
		}

		printResult(result)
		if result.Failed > 0 {
			os.Exit(2)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", version.AppName, version.Detailed())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("source", "s", "", "source directory")
	rootCmd.Flags().StringP("target", "t", "", "target directory")
	rootCmd.Flags().Bool("delete-orphans", true, "remove target paths absent from the source")
	rootCmd.Flags().Bool("verify", true, "verify checksums of copied files")
	rootCmd.Flags().StringSlice("exclude", nil, "glob patterns to exclude (repeatable)")
	rootCmd.Flags().Int("workers", 0, "max parallel file operations (0 = number of CPUs)")
	rootCmd.Flags().String("symlinks", "skip", "symlink policy: skip|copy|follow")
	rootCmd.Flags().Bool("dry-run", false, "report the change set without applying it")
	rootCmd.Flags().Bool("strict", false, "hash every file pair instead of the size+mtime fast path")
	rootCmd.Flags().Bool("debug", false, "debug logging")
	rootCmd.Flags().String("log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("source", cmd.Flags().Lookup("source"))
	viper.BindPFlag("target", cmd.Flags().Lookup("target"))
	viper.BindPFlag("delete_orphans", cmd.Flags().Lookup("delete-orphans"))
	viper.BindPFlag("verify", cmd.Flags().Lookup("verify"))
	viper.BindPFlag("exclude", cmd.Flags().Lookup("exclude"))
	viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	viper.BindPFlag("symlinks", cmd.Flags().Lookup("symlinks"))
	viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("strict", cmd.Flags().Lookup("strict"))

	viper.SetEnvPrefix("FSGUARDIAN")
	viper.AutomaticEnv()
	return nil
}

func printResult(r *sync.SyncResult) {
	status := green("ok")
	if r.Stopped {
		status = yellow("stopped")
	} else if r.Failed > 0 {
		status = red("completed with failures")
	}

	mode := ""
	if r.DryRun {
		mode = yellow(" (dry run)")
	}
	fmt.Printf("%s%s added=%d modified=%d removed=%d skipped=%d failed=%d verified=%t in %s\n",
		status, mode, r.Added, r.Modified, r.Removed, r.Skipped, r.Failed, r.Verified,
		r.Duration().Round(time.Millisecond))

	for _, f := range r.Failures {
		fmt.Fprintf(os.Stderr, "  %s %s: %v\n", red(string(f.Kind)), f.Path, f.Err)
	}
}

func main() {
	closeLogs, err := setupLogging()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLogs()

	if err := rootCmd.Execute(); err != nil {
		closeLogs()
		os.Exit(1)
	}
}
