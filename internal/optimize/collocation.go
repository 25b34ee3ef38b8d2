package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/transcribe"
)

// backend is the solver side of the double dispatch. Each formulation calls
// its own entry point; a backend may route several of them through one shared
// solve or stub them out.
type backend interface {
	kind() PackageKind
	options() Options
	setOptions(user Options) error
	statistics() (Statistics, error)

	energyMin(ctx context.Context, o *Orchestrator, args Args) error
	energyCostMin(ctx context.Context, o *Orchestrator, args Args) error
	parameterEstimate(ctx context.Context, o *Orchestrator, args Args) error
}

func newBackend(kind PackageKind, m *model.Model, f formulation, clauses []constraint.Clause) (backend, error) {
	switch kind {
	case Collocation:
		return newCollocationBackend(m, f.recipe(clauses))
	case DerivativeFree:
		return newDerivativeFreeBackend(m, f.recipe(clauses)), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", ErrConfiguration, kind)
	}
}

// collocationBackend transcribes the augmented problem once on construction
// and reuses it for every solve.
type collocationBackend struct {
	model   *model.Model
	problem *transcribe.Problem
	recipe  transcribe.Recipe
	opts    Options
	stats   *Statistics
}

func newCollocationBackend(m *model.Model, recipe transcribe.Recipe) (*collocationBackend, error) {
	problem, err := transcribe.Build(m, recipe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defaults := problem.DefaultOptions()
	return &collocationBackend{
		model:   m,
		problem: problem,
		recipe:  recipe,
		opts: Options{
			OptMaxIterations: defaults.MaxIterations,
			OptAccuracy:      defaults.Accuracy,
		},
	}, nil
}

func (b *collocationBackend) kind() PackageKind { return Collocation }

func (b *collocationBackend) options() Options { return b.opts.Clone() }

func (b *collocationBackend) setOptions(user Options) error { return b.opts.merge(user) }

func (b *collocationBackend) statistics() (Statistics, error) {
	if b.stats == nil {
		return Statistics{}, ErrNoSolve
	}
	return *b.stats, nil
}

// All three objective kinds share one solve path: the recipe already fixed
// the integrand and decision set at transcription time.
func (b *collocationBackend) energyMin(ctx context.Context, o *Orchestrator, args Args) error {
	return b.solve(ctx, args)
}

func (b *collocationBackend) energyCostMin(ctx context.Context, o *Orchestrator, args Args) error {
	return b.solve(ctx, args)
}

func (b *collocationBackend) parameterEstimate(ctx context.Context, o *Orchestrator, args Args) error {
	return b.solve(ctx, args)
}

func (b *collocationBackend) solve(ctx context.Context, args Args) error {
	m := b.model

	seed, err := initialGuess(ctx, m)
	if err != nil {
		return err
	}

	ext, err := buildExternalData(m, b.recipe.EstimateParameters, args.MeasurementVariables)
	if err != nil {
		return err
	}
	if b.recipe.PriceSignal != "" {
		ext.Eliminated[b.recipe.PriceSignal] = args.PriceData
	}

	// The four auto-managed keys are overwritten, never merged.
	b.opts[OptExternalData] = ext
	b.opts[OptInitTraj] = seed
	b.opts[OptNominalTraj] = seed
	b.opts[OptIntervals] = seed.Samples() - 1

	for _, p := range m.FreeParameters() {
		if err := b.problem.Set(p.Name, p.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}
	if err := b.problem.Set("start_time", 0); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := b.problem.Set("final_time", m.ElapsedSeconds()); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	began := time.Now()
	res, err := b.problem.Optimize(ctx, b.transcribeOptions(ext, seed))
	if err != nil {
		return err
	}

	b.stats = &Statistics{
		Status:       res.Stats.Status,
		Converged:    res.Stats.Converged,
		Iterations:   res.Stats.Iterations,
		Objective:    res.Stats.Objective,
		SolveSeconds: time.Since(began).Seconds(),
	}
	return writeResults(m, res)
}

func (b *collocationBackend) transcribeOptions(ext *transcribe.ExternalData, seed *model.SimResult) transcribe.Options {
	defaults := b.problem.DefaultOptions()
	return transcribe.Options{
		MaxIterations: intOption(b.opts, OptMaxIterations, defaults.MaxIterations),
		Accuracy:      floatOption(b.opts, OptAccuracy, defaults.Accuracy),
		ExternalData:  ext,
		InitTraj:      seed,
		NominalTraj:   seed,
		Intervals:     intOption(b.opts, OptIntervals, seed.Samples()-1),
	}
}
