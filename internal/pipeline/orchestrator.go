package pipeline

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bouwdata/heritage-cli/pkg/kadaster"
)

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Source       RowSource
	Monuments    MonumentSource
	Geometries   GeometrySource
	Alternatives AlternativeFinder
	Areas        AreaMatcher
	IDColumn     string
	BatchSize    int
	Progress     *Progress
}

// Orchestrator slices the input into batches, runs the batched lookups and
// the fallback resolution, and hands each enriched batch to the writer over
// a bounded channel. It is the sole writer of the alias table; the writer
// side only ever sees per-batch copies.
type Orchestrator struct {
	cfg   OrchestratorConfig
	idIdx int

	aliases    map[string]string
	unresolved []string
}

// NewOrchestrator validates the wiring and locates the id column in the
// source header.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.BatchSize <= 0 {
		return nil, eris.New("pipeline: batch size must be positive")
	}
	idIdx := slices.Index(cfg.Source.Header(), cfg.IDColumn)
	if idIdx < 0 {
		return nil, eris.Errorf("pipeline: id column %q not in input header", cfg.IDColumn)
	}
	return &Orchestrator{
		cfg:     cfg,
		idIdx:   idIdx,
		aliases: make(map[string]string),
	}, nil
}

// Run processes the whole input and closes out when the final batch has been
// enqueued. Closing the channel is the writer's end-of-input signal, so it
// happens on every exit path, including failures.
func (o *Orchestrator) Run(ctx context.Context, out chan<- EnrichedResult) error {
	defer close(out)

	for seq := 0; ; seq++ {
		batch, err := o.nextBatch(seq)
		if err != nil {
			return err
		}
		if len(batch.Rows) == 0 {
			return nil
		}

		res, err := o.processBatch(ctx, batch)
		if err != nil {
			return err
		}
		select {
		case out <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
		if o.cfg.Progress != nil {
			o.cfg.Progress.AddQueried(len(batch.Rows))
		}
	}
}

// Aliases returns the substitutions recorded over the whole run. Call only
// after Run has returned.
func (o *Orchestrator) Aliases() map[string]string { return o.aliases }

// Unresolved returns the ids that stayed missing after fallback resolution.
// Call only after Run has returned.
func (o *Orchestrator) Unresolved() []string { return o.unresolved }

func (o *Orchestrator) nextBatch(seq int) (Batch, error) {
	batch := Batch{Seq: seq}
	for len(batch.Rows) < o.cfg.BatchSize {
		row, ok, err := o.cfg.Source.Next()
		if err != nil {
			return Batch{}, err
		}
		if !ok {
			break
		}
		batch.Rows = append(batch.Rows, row)
		batch.IDs = append(batch.IDs, row[o.idIdx])
	}
	return batch, nil
}

func (o *Orchestrator) processBatch(ctx context.Context, batch Batch) (EnrichedResult, error) {
	monuments, geometries, err := o.query(ctx, batch.IDs)
	if err != nil {
		return EnrichedResult{}, err
	}

	missing := missingIDs(batch.IDs, geometries)
	if len(missing) > 0 {
		alts, err := o.resolveMissing(ctx, missing)
		if err != nil {
			return EnrichedResult{}, err
		}
		if len(alts) > 0 {
			altMonuments, altGeometries, err := o.query(ctx, alts)
			if err != nil {
				return EnrichedResult{}, err
			}
			for id, number := range altMonuments {
				monuments[id] = number
			}
			geometries = append(geometries, altGeometries...)
		}
	}

	res := EnrichedResult{
		Batch:       batch,
		Monuments:   monuments,
		AreaMatches: make(map[string]string),
		Aliases:     make(map[string]string),
	}
	if o.cfg.Areas != nil {
		for _, g := range geometries {
			if name, ok := o.cfg.Areas.FindContainingArea(g.WKT); ok {
				res.AreaMatches[g.ID] = name
			}
		}
	}
	for _, id := range batch.IDs {
		if alt, ok := o.aliases[id]; ok {
			res.Aliases[id] = alt
		}
	}
	return res, nil
}

// query runs the monument and geometry lookups for one id set concurrently.
func (o *Orchestrator) query(ctx context.Context, ids []string) (map[string]string, []kadaster.Geometry, error) {
	var (
		monuments  map[string]string
		geometries []kadaster.Geometry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		monuments, err = o.cfg.Monuments.Monuments(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		geometries, err = o.cfg.Geometries.Geometries(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return monuments, geometries, nil
}

// resolveMissing finds address-equivalent substitutes for ids the batched
// queries did not know. Candidates are fetched concurrently but applied in
// sorted original-id order, first candidate wins, so reruns of the same
// input pick the same substitutes. An id already aliased by an earlier batch
// keeps its substitute. The alias table is write-once per key.
func (o *Orchestrator) resolveMissing(ctx context.Context, missing []string) ([]string, error) {
	sort.Strings(missing)

	toResolve := make([]string, 0, len(missing))
	for _, id := range missing {
		if _, ok := o.aliases[id]; !ok {
			toResolve = append(toResolve, id)
		}
	}

	candidates := make(map[string][]string, len(toResolve))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range toResolve {
		id := id
		g.Go(func() error {
			found, err := o.cfg.Alternatives.Alternatives(gctx, id)
			if err != nil {
				return err
			}
			ids := make([]string, len(found))
			for i, c := range found {
				ids[i] = c.AlternateID
			}
			mu.Lock()
			candidates[id] = ids
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range toResolve {
		found := candidates[id]
		if len(found) == 0 {
			o.unresolved = append(o.unresolved, id)
			zap.L().Warn("pipeline: unit id stays unresolved", zap.String("unit_id", id))
			continue
		}
		if len(found) > 1 {
			zap.L().Info("pipeline: multiple substitutes, keeping first",
				zap.String("unit_id", id), zap.Strings("substitutes", found))
		}
		o.aliases[id] = found[0]
		zap.L().Info("pipeline: unit id substituted",
			zap.String("unit_id", id), zap.String("substitute", found[0]))
	}

	alts := make([]string, 0, len(missing))
	for _, id := range missing {
		if alt, ok := o.aliases[id]; ok {
			alts = append(alts, alt)
		}
	}
	return alts, nil
}

// missingIDs returns the batch ids absent from the geometry result,
// deduplicated, in first-occurrence order. The geometry source knows every
// live unit, so absence there, not absence from the monument result, is what
// marks an id as withdrawn.
func missingIDs(ids []string, geometries []kadaster.Geometry) []string {
	found := make(map[string]bool, len(geometries))
	for _, g := range geometries {
		found[g.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			found[id] = true
			missing = append(missing, id)
		}
	}
	return missing
}
