package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bouwdata/heritage-cli/internal/fetcher"
	"github.com/bouwdata/heritage-cli/internal/geospatial"
	"github.com/bouwdata/heritage-cli/internal/pipeline"
	"github.com/bouwdata/heritage-cli/internal/resolver"
	"github.com/bouwdata/heritage-cli/internal/store"
	"github.com/bouwdata/heritage-cli/pkg/bag"
	"github.com/bouwdata/heritage-cli/pkg/kadaster"
	"github.com/bouwdata/heritage-cli/pkg/rce"
)

var (
	enrichInput  string
	enrichOutput string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich an address CSV with monument and protected-area flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if enrichInput != "" {
			cfg.Input.Path = enrichInput
		}
		if enrichOutput != "" {
			cfg.Output.Path = enrichOutput
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		source, err := pipeline.NewCSVSource(cfg.Input.Path)
		if err != nil {
			return err
		}
		zap.L().Info("input loaded",
			zap.String("path", cfg.Input.Path),
			zap.Int("rows", source.Len()),
		)

		rceClient := rce.NewClient(cfg.Heritage.Endpoint)
		kadClient := kadaster.NewClient(cfg.Cadastre.Endpoint)
		registry := bag.NewClient(
			fetcher.New(fetcher.Options{}),
			cfg.Registry.BaseURL, cfg.Registry.APIKey, cfg.Registry.CRS,
		)

		areas, err := loadAreas(ctx, rceClient)
		if err != nil {
			return eris.Wrap(err, "load protected areas")
		}

		sink, err := pipeline.NewCSVSink(cfg.Output.Path)
		if err != nil {
			return err
		}

		progress := pipeline.NewProgress(source.Len())
		orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			Source:       source,
			Monuments:    rceClient,
			Geometries:   kadClient,
			Alternatives: resolver.New(registry),
			Areas:        geospatial.NewAreaIndex(areas),
			IDColumn:     cfg.Input.IDColumn,
			BatchSize:    cfg.Pipeline.BatchSize,
			Progress:     progress,
		})
		if err != nil {
			return err
		}
		writer, err := pipeline.NewWriter(sink, source.Header(), cfg.Input.IDColumn, progress)
		if err != nil {
			return err
		}

		var (
			st  *store.SQLiteStore
			run *store.Run
		)
		if cfg.Store.Path != "" {
			st, err = store.NewSQLite(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			run, err = st.CreateRun(ctx, cfg.Input.Path, source.Len())
			if err != nil {
				return err
			}
		}

		ch := make(chan pipeline.EnrichedResult, cfg.Pipeline.QueueDepth)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return orch.Run(gctx, ch) })
		g.Go(func() error { return writer.Run(gctx, ch) })
		runErr := g.Wait()

		if err := sink.Close(); err != nil {
			if runErr == nil {
				runErr = err
			} else {
				zap.L().Error("closing output failed", zap.Error(err))
			}
		}

		if st != nil {
			recordRun(st, run.ID, orch, progress, runErr)
		}

		if runErr != nil {
			if eris.Is(runErr, context.Canceled) {
				zap.L().Info("enrichment cancelled",
					zap.Int64("rows_written", progress.Written()),
				)
				return nil
			}
			return eris.Wrap(runErr, "enrichment run")
		}

		zap.L().Info("enrichment complete",
			zap.Int("rows", source.Len()),
			zap.Int("substitutions", len(orch.Aliases())),
			zap.Int("unresolved", len(orch.Unresolved())),
			zap.String("output", cfg.Output.Path),
		)
		return nil
	},
}

// loadAreas loads protected-area polygons from the configured shapefile, or
// from the heritage endpoint when no shapefile is set. Unparseable polygons
// are skipped with a warning.
func loadAreas(ctx context.Context, client rce.Client) ([]geospatial.Area, error) {
	if cfg.ProtectedAreas.Shapefile != "" {
		return geospatial.LoadShapefile(cfg.ProtectedAreas.Shapefile, cfg.ProtectedAreas.NameField)
	}

	sites, err := client.ProtectedSites(ctx)
	if err != nil {
		return nil, err
	}
	areas := make([]geospatial.Area, 0, len(sites))
	for _, s := range sites {
		a, err := geospatial.AreaFromWKT(s.Name, s.WKT)
		if err != nil {
			zap.L().Warn("skipping unparseable protected site",
				zap.String("name", s.Name), zap.Error(err))
			continue
		}
		areas = append(areas, a)
	}
	return areas, nil
}

// recordRun persists the audit trail. Audit failures are logged, never
// escalated: the enriched output already exists on disk.
func recordRun(st *store.SQLiteStore, runID string, orch *pipeline.Orchestrator, progress *pipeline.Progress, runErr error) {
	// The run context may already be cancelled; the audit writes still
	// need to land.
	ctx := context.Background()

	if err := st.RecordAliases(ctx, runID, orch.Aliases()); err != nil {
		zap.L().Error("recording aliases failed", zap.Error(err))
	}
	if err := st.RecordUnresolved(ctx, runID, orch.Unresolved()); err != nil {
		zap.L().Error("recording unresolved ids failed", zap.Error(err))
	}

	status := store.RunStatusComplete
	if runErr != nil {
		status = store.RunStatusFailed
	}
	if err := st.FinishRun(ctx, runID, status, progress.Written()); err != nil {
		zap.L().Error("finishing run record failed", zap.Error(err))
	}
}

func init() {
	enrichCmd.Flags().StringVar(&enrichInput, "input", "", "input CSV path (overrides config)")
	enrichCmd.Flags().StringVar(&enrichOutput, "output", "", "output CSV path (overrides config)")

	rootCmd.AddCommand(enrichCmd)
}
