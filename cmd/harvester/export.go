package main

import (
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/cardname-harvester/internal/config"
	"github.com/JakeFAU/cardname-harvester/internal/export"
	"github.com/JakeFAU/cardname-harvester/internal/export/gcs"
	"github.com/JakeFAU/cardname-harvester/internal/names"
	"github.com/JakeFAU/cardname-harvester/internal/state"
)

type exportFlags struct {
	format string
	out    string
	bucket string
	object string
}

func newExportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the harvested names as CSV or JSON",
		Long: `Reads the state file, drops names the artifact filter rejects, and writes
them sorted to a local file and, when a bucket is given, to Cloud Storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", export.FormatCSV, "csv or json")
	flags.StringVar(&f.out, "out", "dm_cardnames.csv", "local output path; empty to skip")
	flags.StringVar(&f.bucket, "gcs-bucket", "", "upload to this Cloud Storage bucket")
	flags.StringVar(&f.object, "gcs-object", "", "object name inside --gcs-bucket")
	return cmd
}

func applyExportOverrides(cfg *config.Config, cmd *cobra.Command, f exportFlags) error {
	fl := cmd.Flags()
	if fl.Changed("format") {
		cfg.Export.Format = f.format
	}
	if fl.Changed("out") {
		cfg.Export.Out = f.out
	}
	if fl.Changed("gcs-bucket") {
		cfg.Export.GCSBucket = f.bucket
	}
	if fl.Changed("gcs-object") {
		cfg.Export.GCSObject = f.object
	}
	return cfg.Validate()
}

func runExport(cmd *cobra.Command, f exportFlags) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := applyExportOverrides(&cfg, cmd, f); err != nil {
		return err
	}

	filter := names.NewFilter(cfg.Filter.Blacklist)
	store, err := state.New(cfg.State.Path, filter, a.logger.Named("state"))
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}

	var uploader export.Uploader
	if cfg.Export.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		defer client.Close()
		up, err := gcs.New(client, gcs.Config{Bucket: cfg.Export.GCSBucket})
		if err != nil {
			return err
		}
		uploader = up
	}

	exporter, err := export.New(store, filter, uploader, a.logger.Named("export"))
	if err != nil {
		return err
	}
	report, err := exporter.Export(ctx, export.Options{
		Format: cfg.Export.Format,
		Out:    cfg.Export.Out,
		Object: cfg.Export.GCSObject,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d names\n", report.Names)
	return nil
}
