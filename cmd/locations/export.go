package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cabinmap/core-go/internal/config"
	"cabinmap/core-go/internal/export"
	"cabinmap/core-go/internal/httpapi"
	"cabinmap/core-go/internal/locations"
)

var (
	exportOut string
	exportS3  bool
)

// uploader is satisfied by *export.S3Sink.
type uploader interface {
	Upload(ctx context.Context, body []byte) (string, error)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every location as a GeoJSON FeatureCollection",
	Long: `Writes the FeatureCollection to --out ("-" for stdout) or, with --s3,
uploads it to EXPORT_S3_BUCKET under EXPORT_S3_PREFIX.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "output file")
	exportCmd.Flags().BoolVar(&exportS3, "s3", false, "upload to S3 instead of writing a file")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	// stdout may carry the export itself.
	logger := httpapi.NewLogger(cfg.LogLevel).Output(os.Stderr)
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if exportS3 {
		sink, err := export.NewS3Sink(ctx, cfg.ExportS3Bucket, cfg.ExportS3Prefix)
		if err != nil {
			return err
		}
		return exportToS3(ctx, a.locations, sink, cfg.ExportS3Bucket, cmd.OutOrStdout())
	}

	if exportOut == "-" {
		_, err := exportTo(ctx, a.locations, cmd.OutOrStdout())
		return err
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", exportOut, err)
	}
	n, err := exportTo(ctx, a.locations, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s to %s\n", humanize.Bytes(uint64(n)), exportOut)
	return nil
}

func exportTo(ctx context.Context, svc *locations.Service, w io.Writer) (int64, error) {
	locs, err := svc.List(ctx, nil)
	if err != nil {
		return 0, err
	}
	return export.Write(w, locs)
}

func exportToS3(ctx context.Context, svc *locations.Service, sink uploader, bucket string, status io.Writer) error {
	var buf bytes.Buffer
	n, err := exportTo(ctx, svc, &buf)
	if err != nil {
		return err
	}
	key, err := sink.Upload(ctx, buf.Bytes())
	if err != nil {
		return err
	}
	fmt.Fprintf(status, "uploaded %s to s3://%s/%s\n", humanize.Bytes(uint64(n)), bucket, key)
	return nil
}
