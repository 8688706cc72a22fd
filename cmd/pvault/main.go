package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chmdznr/photovault/internal/archive"
	"github.com/chmdznr/photovault/internal/config"
	"github.com/chmdznr/photovault/internal/metadata"
	"github.com/chmdznr/photovault/internal/mirror"
	"github.com/chmdznr/photovault/internal/scanner"
	"github.com/chmdznr/photovault/internal/store"
	"github.com/chmdznr/photovault/pkg/models"
	"github.com/chmdznr/photovault/pkg/utils"
	"github.com/chmdznr/photovault/pkg/version"
)

const (
	defaultManifest = "scan_results.json"
	databaseDirName = "Database"
	databaseName    = "photovault.db"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	configFlag := &cli.StringFlag{
		Name:  "config",
		Usage: "Path to config file",
		Value: "config.yaml",
	}
	quietFlag := &cli.BoolFlag{
		Name:  "quiet",
		Usage: "Suppress per-file progress messages",
	}

	app := &cli.App{
		Name:                 "pvault",
		Usage:                "Photo vault: scan, archive, and mirror image collections",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "scan",
				Usage: "Scan a source directory and write the manifest",
				Flags: []cli.Flag{
					configFlag,
					quietFlag,
					&cli.StringFlag{
						Name:  "source",
						Usage: "Source directory to scan (overrides config scan_dir)",
					},
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "Manifest output path",
						Value: defaultManifest,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel scan workers (overrides config)",
					},
				},
				Action: runScan,
			},
			{
				Name:  "archive",
				Usage: "Copy manifest entries into the vault and record metadata",
				Flags: []cli.Flag{
					configFlag,
					quietFlag,
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "Manifest input path",
						Value: defaultManifest,
					},
					&cli.StringFlag{
						Name:  "vault",
						Usage: "Vault root directory (overrides config vault_dir)",
					},
					&cli.BoolFlag{
						Name:  "delete-originals",
						Usage: "Delete each source file after a successful copy",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel archive workers (overrides config)",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the progress bar",
					},
				},
				Action: runArchive,
			},
			{
				Name:  "status",
				Usage: "Show vault statistics",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "vault",
						Usage: "Vault root directory (overrides config vault_dir)",
					},
				},
				Action: runStatus,
			},
			{
				Name:  "check",
				Usage: "Run an integrity check on the metadata store",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "vault",
						Usage: "Vault root directory (overrides config vault_dir)",
					},
				},
				Action: runCheck,
			},
			{
				Name:  "mirror",
				Usage: "Replicate the archive to S3-compatible object storage",
				Flags: []cli.Flag{
					configFlag,
					quietFlag,
					&cli.StringFlag{
						Name:  "vault",
						Usage: "Vault root directory (overrides config vault_dir)",
					},
					&cli.StringFlag{Name: "endpoint", Usage: "Object storage endpoint (overrides config)"},
					&cli.StringFlag{Name: "bucket", Usage: "Bucket name (overrides config)"},
					&cli.StringFlag{Name: "folder", Usage: "Destination folder in the bucket (overrides config)"},
					&cli.StringFlag{Name: "access-key", Usage: "Access key (overrides config)"},
					&cli.StringFlag{Name: "secret-key", Usage: "Secret key (overrides config)"},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel upload workers (overrides config)",
					},
				},
				Action: runMirror,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logConfig := zap.NewProductionConfig()
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Logging.Level == "debug" {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// newSink writes progress messages to stdout unless quiet is set; either way
// the messages are mirrored to the debug log.
func newSink(c *cli.Context, logger *zap.Logger) models.StatusSink {
	quiet := c.Bool("quiet")
	return models.StatusFunc(func(msg string) {
		if !quiet {
			fmt.Println(msg)
		}
		logger.Debug(msg)
	})
}

func vaultRoot(c *cli.Context, cfg *config.Config) (string, error) {
	vault := c.String("vault")
	if vault == "" {
		vault = cfg.VaultDir
	}
	if vault == "" {
		return "", fmt.Errorf("vault directory is required (flag --vault or config vault_dir)")
	}
	return vault, nil
}

func storePath(vault string) string {
	return filepath.Join(vault, databaseDirName, databaseName)
}

func workerCount(c *cli.Context, cfg *config.Config) int {
	if n := c.Int("workers"); n > 0 {
		return n
	}
	return cfg.MaxWorkers
}

func runScan(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	source := c.String("source")
	if source == "" {
		source = cfg.ScanDir
	}
	if source == "" {
		return fmt.Errorf("source directory is required (flag --source or config scan_dir)")
	}

	sink := newSink(c, logger)
	sc := scanner.New(cfg.ExtensionSet(), workerCount(c, cfg), metadata.New(logger), sink, logger)
	records, err := sc.Scan(c.Context, source)
	if err != nil {
		return err
	}

	manifestPath := c.String("manifest")
	if err := models.SaveManifest(manifestPath, records); err != nil {
		return err
	}

	fmt.Printf("Scan complete: %d images -> %s\n", len(records), manifestPath)
	return nil
}

func runArchive(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	vault, err := vaultRoot(c, cfg)
	if err != nil {
		return err
	}
	manifest, err := models.LoadManifest(c.String("manifest"))
	if err != nil {
		return err
	}

	sink := newSink(c, logger)
	st, err := store.Open(storePath(vault), sink, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	stopKeys := watchForCancel(cancel, sink)
	defer stopKeys()

	arch := archive.New(st, metadata.New(logger), archive.Config{
		NumWorkers:   workerCount(c, cfg),
		ShowProgress: cfg.ShowProgress && !c.Bool("no-progress") && !c.Bool("quiet"),
	}, sink, logger)

	summary, err := arch.Run(ctx, manifest, vault, c.Bool("delete-originals"))
	if err != nil {
		return err
	}

	fmt.Printf("Archive complete: scanned=%d copied=%d skipped=%d failed=%d stored=%d\n",
		summary.Scanned, summary.Copied, summary.Skipped, summary.Failed, summary.Stored)
	if summary.Copied+summary.Skipped < summary.Scanned {
		fmt.Println("Warning: some files were not archived; review the messages above")
	}
	if summary.Stored < summary.Copied+summary.Skipped {
		fmt.Println("Warning: some metadata rows were not persisted; review the messages above")
	}
	return nil
}

// watchForCancel cancels the run when the user presses Esc or q. Keyboard
// capture is best-effort: when no terminal is available the archive simply
// runs without interactive cancellation.
func watchForCancel(cancel context.CancelFunc, sink models.StatusSink) func() {
	if err := keyboard.Open(); err != nil {
		return func() {}
	}
	go func() {
		for {
			ch, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			if ch == 'q' || key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
				sink.Report("cancellation requested")
				cancel()
				return
			}
		}
	}()
	return func() { keyboard.Close() }
}

func runStatus(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	vault, err := vaultRoot(c, cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(storePath(vault), models.DiscardStatus, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := st.Count()
	if err != nil {
		return err
	}

	fmt.Printf("Vault: %s\n", vault)
	fmt.Printf("Images recorded: %d\n", count)
	if info, err := os.Stat(storePath(vault)); err == nil {
		fmt.Printf("Store size: %s\n", utils.FormatSize(info.Size()))
	}
	return nil
}

func runCheck(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	vault, err := vaultRoot(c, cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(storePath(vault), models.DiscardStatus, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ok, err := st.IntegrityCheck()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("metadata store failed its integrity check: %s", storePath(vault))
	}
	fmt.Println("Metadata store integrity: ok")
	return nil
}

func runMirror(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	vault, err := vaultRoot(c, cfg)
	if err != nil {
		return err
	}

	mcfg := mirror.Config{
		Endpoint:   stringOr(c.String("endpoint"), cfg.Mirror.Endpoint),
		Bucket:     stringOr(c.String("bucket"), cfg.Mirror.Bucket),
		Folder:     stringOr(c.String("folder"), cfg.Mirror.Folder),
		AccessKey:  stringOr(c.String("access-key"), cfg.Mirror.AccessKey),
		SecretKey:  stringOr(c.String("secret-key"), cfg.Mirror.SecretKey),
		Secure:     cfg.Mirror.Secure,
		NumWorkers: workerCount(c, cfg),
	}
	if mcfg.Endpoint == "" || mcfg.Bucket == "" {
		return fmt.Errorf("mirror endpoint and bucket are required (flags or config mirror section)")
	}

	sink := newSink(c, logger)
	st, err := store.Open(storePath(vault), sink, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListRecords()
	if err != nil {
		return err
	}

	m, err := mirror.New(mcfg, sink, logger)
	if err != nil {
		return err
	}

	uploaded, skipped, failed, err := m.Run(c.Context, vault, records)
	if err != nil {
		return err
	}
	fmt.Printf("Mirror complete: uploaded=%d skipped=%d failed=%d\n", uploaded, skipped, failed)
	return nil
}

func stringOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
