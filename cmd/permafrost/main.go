package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"permafrost/internal/app"
	"permafrost/internal/config"
	"permafrost/internal/pf"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from its default location.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

// readNewPassphrase prompts twice and requires both entries to match.
func readNewPassphrase(what string) (string, error) {
	pass, err := readPassphrase("New " + what + " passphrase: ")
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", errors.New("passphrase must not be empty")
	}
	confirm, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", errors.New("passphrases do not match")
	}
	return pass, nil
}

var rootCmd = &cobra.Command{
	Use:           "permafrost",
	Short:         "Directory archive manager",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:    %s\n", hostID)
		fmt.Printf("Base Dir:   %s\n", defaults.BaseDir)
		fmt.Printf("Repository: %s\n", cfg.Repository.Location)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Repository:  %s\n", cfg.Repository.Location)
		fmt.Printf("Engine:      %s\n", cfg.Engine.Type)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Disk probe:  %s\n", cfg.Disk.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		for _, m := range cfg.Mirrors {
			fmt.Printf("Mirror:      %s (%s)\n", m.Name, m.Type)
		}
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage catalog snapshots",
}

var catalogKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the key pair encrypting catalog snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := readNewPassphrase("catalog key")
		if err != nil {
			return err
		}
		if err := app.SetupEncryption(cfg, pass); err != nil {
			return fmt.Errorf("creating key pair: %w", err)
		}
		fmt.Printf("Key pair written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local catalog with the latest mirrored snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		mirrorName, _ := cmd.Flags().GetString("mirror")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var pass string
		if cfg.Encryption.Type != "none" {
			if pass, err = readPassphrase("Catalog key passphrase: "); err != nil {
				return err
			}
		}

		version, err := app.RestoreCatalog(cfg, mirrorName, pass)
		if err != nil {
			return fmt.Errorf("restoring catalog: %w", err)
		}
		fmt.Printf("Catalog restored at operation #%d\n", version)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch PATH",
	Short: "Watch a directory; its subdirectories at --depth are tracked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.Watch(args[0], depth)
		if err != nil {
			return fmt.Errorf("watching directory: %w", err)
		}
		fmt.Printf("Watching %s (depth %d)\n", root.Path, root.Depth)
		return nil
	},
}

var unwatchCmd = &cobra.Command{
	Use:   "unwatch PATH",
	Short: "Stop watching a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Unwatch(args[0]); err != nil {
			return fmt.Errorf("unwatching directory: %w", err)
		}
		fmt.Printf("Stopped watching %s\n", args[0])
		return nil
	},
}

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List watched directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		roots, err := a.RootDirectories()
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			fmt.Println("No directories watched.")
			return nil
		}
		printRoots(os.Stdout, roots)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Synchronize tracked directories with the filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Scan()
		if report != nil {
			printScanReport(os.Stdout, report)
		}
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backup state of tracked directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		drift, _ := cmd.Flags().GetBool("drift")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var statuses []*pf.DirectoryStatus
		if drift {
			statuses, err = a.Drift()
		} else {
			statuses, err = a.Status()
		}
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No directories to show.")
			return nil
		}
		printStatuses(os.Stdout, statuses)
		return nil
	},
}

// init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the archive repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		mode, _ := cmd.Flags().GetString("encryption")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if mode == "" {
			mode = cfg.Repository.Encryption
		}
		if mode != "none" && cfg.Engine.PassphraseEnv != "" && os.Getenv(cfg.Engine.PassphraseEnv) == "" {
			pass, err := readNewPassphrase("repository")
			if err != nil {
				return err
			}
			os.Setenv(cfg.Engine.PassphraseEnv, pass)
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		if err := a.Init(repo, mode); err != nil {
			return err
		}
		fmt.Printf("Repository initialized at %s\n", orDefault(repo, a.Repository()))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the snapshots in the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		listing, err := a.List(repo)
		if err != nil {
			return err
		}
		printListing(os.Stdout, listing)
		return nil
	},
}

// lifecycleOptions reads the flags shared by lifecycle commands.
func lifecycleOptions(cmd *cobra.Command) app.LifecycleOptions {
	var opts app.LifecycleOptions
	opts.Repository, _ = cmd.Flags().GetString("repo")
	if cmd.Flags().Lookup("compression") != nil {
		opts.Compression, _ = cmd.Flags().GetString("compression")
	}
	if cmd.Flags().Lookup("dry-run") != nil {
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if cmd.Flags().Lookup("repair") != nil {
		opts.Repair, _ = cmd.Flags().GetBool("repair")
	}
	return opts
}

func targetSpec(cmd *cobra.Command) app.TargetSpec {
	var spec app.TargetSpec
	spec.DirectoryPath, _ = cmd.Flags().GetString("directory")
	spec.ArchiveID, _ = cmd.Flags().GetString("archive")
	spec.RootPath, _ = cmd.Flags().GetString("root")
	return spec
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Take the first archive of a directory, or of every unarchived directory of a root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		target, err := a.Target(targetSpec(cmd))
		if err != nil {
			return err
		}
		result, err := a.Create(target, lifecycleOptions(cmd))
		if result != nil {
			printBatch(os.Stdout, "created", result)
		}
		return err
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Replace the archive of a directory, or of every archived directory of a root",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		target, err := a.Target(targetSpec(cmd))
		if err != nil {
			return err
		}
		result, err := a.Update(target, lifecycleOptions(cmd))
		if result != nil {
			printBatch(os.Stdout, "updated", result)
		}
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ARCHIVE_ID",
	Short: "Delete an archive and all its snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(args[0], lifecycleOptions(cmd)); err != nil {
			return err
		}
		fmt.Printf("Deleted archive %s\n", args[0])
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract ARCHIVE_ID",
	Short: "Restore an archive into its directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Extract(args[0], lifecycleOptions(cmd)); err != nil {
			return err
		}
		fmt.Printf("Extracted archive %s\n", args[0])
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check ARCHIVE_ID",
	Short: "Verify an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Check(args[0], lifecycleOptions(cmd)); err != nil {
			return err
		}
		fmt.Printf("Archive %s is consistent\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		printHistory(os.Stdout, ops)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if listen == "" {
			listen = cfg.Server.Listen
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listen, err)
		}
		fmt.Printf("Serving on http://%s\n", ln.Addr())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Serve(ctx, ln)
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func addLifecycleFlags(cmd *cobra.Command, withTarget bool) {
	cmd.Flags().String("repo", "", "Repository location (default from config)")
	cmd.Flags().Bool("dry-run", false, "Show what would be done without changing anything")
	if withTarget {
		cmd.Flags().StringP("directory", "d", "", "Tracked directory path")
		cmd.Flags().StringP("archive", "a", "", "Archive id")
		cmd.Flags().StringP("root", "r", "", "Watched root path (all its directories)")
		cmd.Flags().String("compression", "", "Compression spec (default from config)")
		cmd.MarkFlagsMutuallyExclusive("directory", "archive", "root")
		cmd.MarkFlagsOneRequired("directory", "archive", "root")
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogKeygenCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)
	catalogRestoreCmd.Flags().String("mirror", "", "Mirror to restore from (default: first configured)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntP("depth", "d", 1, "Depth of the tracked subdirectories (0 tracks the directory itself)")
	rootCmd.AddCommand(unwatchCmd)
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("drift", false, "Only show unbacked and stale directories")

	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("repo", "", "Repository location (default from config)")
	initCmd.Flags().String("encryption", "", "Repository encryption mode (default from config)")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("repo", "", "Repository location (default from config)")

	rootCmd.AddCommand(createCmd)
	addLifecycleFlags(createCmd, true)
	rootCmd.AddCommand(updateCmd)
	addLifecycleFlags(updateCmd, true)
	rootCmd.AddCommand(deleteCmd)
	addLifecycleFlags(deleteCmd, false)
	rootCmd.AddCommand(extractCmd)
	addLifecycleFlags(extractCmd, false)
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().String("repo", "", "Repository location (default from config)")
	checkCmd.Flags().Bool("repair", false, "Repair inconsistencies")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (default from config)")
}
