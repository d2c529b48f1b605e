package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/config"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/txlog"
)

type inspectOptions struct {
	backend    string
	logDir     string
	version    int64
	jsonOutput bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &inspectOptions{}
	root := &cobra.Command{
		Use:           "otree-inspect",
		Short:         "Inspect the transaction log of OTree indexed tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.backend, "backend", config.LogBackendFile, "log backend: file or badger")
	flags.StringVar(&opts.logDir, "log-dir", "/var/lib/otree/log", "log directory")
	flags.Int64Var(&opts.version, "version", int64(txlog.Latest), "log version to read; negative reads the latest")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log backend activity")

	root.AddCommand(newRevisionsCmd(opts), newStatusCmd(opts), newCubesCmd(opts))
	return root
}

func newRevisionsCmd(opts *inspectOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revisions TABLE",
		Short: "List the revisions of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			revs := snap.Revisions()
			if opts.jsonOutput {
				return writeJSON(out, revs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCUBE SIZE\tAUTO EXPAND\tCOLUMNS\tCREATED")
			for _, rev := range revs {
				cols := make([]string, len(rev.Columns))
				for i, c := range rev.Columns {
					cols[i] = fmt.Sprintf("%s[%s]", c.Name, c.Transformation.Kind)
					if c.Transformation.Kind == revision.Linear && !c.Transformation.Empty {
						cols[i] = fmt.Sprintf("%s[%g..%g]", c.Name, c.Transformation.Min, c.Transformation.Max)
					}
				}
				fmt.Fprintf(tw, "%d\t%d\t%t\t%s\t%s\n", rev.ID, rev.DesiredCubeSize, rev.AutoExpand,
					strings.Join(cols, " "), rev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return tw.Flush()
		},
	}
}

func newStatusCmd(opts *inspectOptions) *cobra.Command {
	var revisionID int64
	var underfilled float64
	cmd := &cobra.Command{
		Use:   "status TABLE",
		Short: "Summarize the index status of a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := indexStatus(snap, revisionID)
			if err != nil {
				return err
			}

			summary := statusSummary{
				TableID:    snap.TableID(),
				Version:    snap.Offset(),
				RevisionID: st.Revision().ID,
				Cubes:      st.Len(),
				Records:    st.TotalSize(),
				Overflowed: len(st.Overflowed()),
			}
			for _, id := range st.Underfilled(underfilled) {
				summary.Underfilled = append(summary.Underfilled, id.String())
			}
			for _, cs := range st.Cubes() {
				if d := cs.Cube.Depth(); d > summary.Depth {
					summary.Depth = d
				}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "table:       %s\n", summary.TableID)
			fmt.Fprintf(out, "version:     %d\n", summary.Version)
			fmt.Fprintf(out, "revision:    %d\n", summary.RevisionID)
			fmt.Fprintf(out, "cubes:       %d (%d overflowed, depth %d)\n", summary.Cubes, summary.Overflowed, summary.Depth)
			fmt.Fprintf(out, "records:     %d\n", summary.Records)
			fmt.Fprintf(out, "underfilled: %s\n", strings.Join(summary.Underfilled, ", "))
			return nil
		},
	}
	cmd.Flags().Int64Var(&revisionID, "revision", 0, "revision id; 0 selects the latest")
	cmd.Flags().Float64Var(&underfilled, "underfilled", 0.5, "report inner cubes below this share of the cube size")
	return cmd
}

func newCubesCmd(opts *inspectOptions) *cobra.Command {
	var revisionID int64
	var bounds []string
	cmd := &cobra.Command{
		Use:   "cubes TABLE",
		Short: "List cubes, optionally pruned by column bounds",
		Example: `  otree-inspect cubes sales.eu --bound price=10:20 --bound city=oslo
  otree-inspect cubes sales.eu --bound price=:100 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseBounds(bounds)
			if err != nil {
				return err
			}
			snap, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := indexStatus(snap, revisionID)
			if err != nil {
				return err
			}
			rev := st.Revision()

			cubes := st.Cubes()
			if len(parsed) > 0 {
				lo, hi, empty, err := rev.QueryBox(parsed)
				if err != nil {
					return err
				}
				cubes = nil
				if !empty {
					cubes = st.ForQuery(lo, hi)
				}
			}

			rows := make([]cubeRow, len(cubes))
			for i, cs := range cubes {
				rows[i] = cubeRow{
					Cube:             cs.Cube.String(),
					Depth:            cs.Cube.Depth(),
					Size:             cs.Size,
					MaxWeight:        int32(cs.MaxWeight),
					NormalizedWeight: float64(cs.NormalizedWeight),
					Overflowed:       cs.Overflowed,
				}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, rows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CUBE\tDEPTH\tSIZE\tMAX WEIGHT\tNORMALIZED\tOVERFLOWED")
			for _, r := range rows {
				name := r.Cube
				if name == "" {
					name = "(root)"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%t\n", name, r.Depth, r.Size, r.MaxWeight, r.NormalizedWeight, r.Overflowed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&revisionID, "revision", 0, "revision id; 0 selects the latest")
	cmd.Flags().StringArrayVar(&bounds, "bound", nil, "column bound as col=min:max, col=value for equality; either side may be empty")
	return cmd
}

type statusSummary struct {
	TableID     string   `json:"table_id"`
	Version     int64    `json:"version"`
	RevisionID  int64    `json:"revision_id"`
	Cubes       int      `json:"cubes"`
	Records     int64    `json:"records"`
	Overflowed  int      `json:"overflowed"`
	Depth       int      `json:"depth"`
	Underfilled []string `json:"underfilled"`
}

type cubeRow struct {
	Cube             string  `json:"cube"`
	Depth            int     `json:"depth"`
	Size             int64   `json:"size"`
	MaxWeight        int32   `json:"max_weight"`
	NormalizedWeight float64 `json:"normalized_weight"`
	Overflowed       bool    `json:"overflowed"`
}

// load folds the table log at the requested version. Nothing is written.
func (o *inspectOptions) load(ctx context.Context, tableID string) (*snapshot.Snapshot, error) {
	logger := zap.NewNop()
	if o.verbose {
		dev, err := zap.NewDevelopment()
		if err == nil {
			logger = dev
		}
	}

	var log txlog.Log
	var err error
	switch o.backend {
	case config.LogBackendFile:
		log, err = txlog.NewFileLog(&txlog.FileLogConfig{RootDir: o.logDir}, logger)
	case config.LogBackendBadger:
		log, err = txlog.NewBadgerLog(&txlog.BadgerLogConfig{Path: o.logDir}, logger)
	default:
		return nil, fmt.Errorf("unsupported backend %q: use file or badger", o.backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s log at %s: %w", o.backend, o.logDir, err)
	}
	defer log.Close()

	return snapshot.Load(ctx, log, tableID, o.version)
}

func indexStatus(snap *snapshot.Snapshot, revisionID int64) (*status.IndexStatus, error) {
	if revisionID == 0 {
		return snap.LatestIndexStatus()
	}
	return snap.IndexStatus(revisionID)
}

// parseBounds reads col=min:max (either side optional) or col=value
func parseBounds(raw []string) (map[string]revision.Bound, error) {
	out := make(map[string]revision.Bound, len(raw))
	for _, s := range raw {
		name, expr, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bound %q: expected col=min:max", s)
		}
		lo, hi, isRange := strings.Cut(expr, ":")
		if !isRange {
			v := parseValue(expr)
			out[name] = revision.Bound{Min: v, Max: v}
			continue
		}
		var b revision.Bound
		if lo != "" {
			b.Min = parseValue(lo)
		}
		if hi != "" {
			b.Max = parseValue(hi)
		}
		out[name] = b
	}
	return out, nil
}

// parseValue keeps numbers numeric; everything else is matched as a string
func parseValue(s string) interface{} {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
