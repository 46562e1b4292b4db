package main

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/config"
	"github.com/sells-group/portal-resolver/internal/model"
)

const importChunk = 1000

var importCSVPath string

// jurisdictionRow is one line of the reference CSV.
type jurisdictionRow struct {
	GeoID        string `csv:"geoid"`
	Name         string `csv:"name"`
	Level        string `csv:"level"`
	ParentCounty string `csv:"parent_county,omitempty"`
	Homepage     string `csv:"homepage,omitempty"`
	CodesURL     string `csv:"codes_url,omitempty"`
	PermitsURL   string `csv:"permits_url,omitempty"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load jurisdiction reference data from CSV",
	Long:  "Upserts jurisdictions from a CSV with columns geoid,name,level and optional parent_county,homepage,codes_url,permits_url.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		js, err := readJurisdictions(f)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeMigrate)
		if err != nil {
			return err
		}
		defer env.Close()

		var total int64
		for start := 0; start < len(js); start += importChunk {
			end := min(start+importChunk, len(js))
			n, err := env.Store.UpsertJurisdictions(ctx, js[start:end])
			if err != nil {
				return eris.Wrapf(err, "upsert jurisdictions %d-%d", start, end)
			}
			total += n
		}

		zap.L().Info("import complete",
			zap.Int("rows", len(js)),
			zap.Int64("upserted", total),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// readJurisdictions decodes and validates the reference CSV. Line numbers in
// errors count the header as line 1.
func readJurisdictions(r io.Reader) ([]model.Jurisdiction, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	have := make(map[string]bool)
	for _, h := range dec.Header() {
		have[strings.TrimSpace(h)] = true
	}
	for _, col := range []string{"geoid", "name", "level"} {
		if !have[col] {
			return nil, eris.Errorf("csv: missing column %q", col)
		}
	}

	var out []model.Jurisdiction
	for line := 2; ; line++ {
		var row jurisdictionRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "csv: line %d", line)
		}
		j := model.Jurisdiction{
			GeoID:        strings.TrimSpace(row.GeoID),
			Name:         strings.TrimSpace(row.Name),
			Level:        model.Level(strings.ToLower(strings.TrimSpace(row.Level))),
			ParentCounty: strings.TrimSpace(row.ParentCounty),
			Homepage:     strings.TrimSpace(row.Homepage),
			CodesURL:     strings.TrimSpace(row.CodesURL),
			PermitsURL:   strings.TrimSpace(row.PermitsURL),
		}
		if j.GeoID == "" || j.Name == "" {
			return nil, eris.Errorf("csv: line %d: geoid and name are required", line)
		}
		if !j.Level.Valid() {
			return nil, eris.Errorf("csv: line %d: invalid level %q", line, row.Level)
		}
		out = append(out, j)
	}
	return out, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
