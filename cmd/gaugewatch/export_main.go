package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/floodline/gaugewatch/internal/export"
	fsio "github.com/floodline/gaugewatch/internal/io"
)

// runExport executes the pipeline once and writes the cleaned series
// as CSV to a file or stdout.
func runExport(cmd *cobra.Command, args []string) error {
	key, snap, err := runOnce(cmd)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "-" {
		return export.WriteSnapshot(os.Stdout, snap)
	}
	if out == "" {
		out = export.Filename(key, time.Now().UTC())
	}

	var buf bytes.Buffer
	if err := export.WriteSnapshot(&buf, snap); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := fsio.WriteFileAtomic(out, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("Wrote %d readings to %s\n", len(snap.Series), out)
	return nil
}
