package gatlam

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EvaluateFunc runs one decoded candidate through the interpreter and the
// sandbox and maps the task outputs to milli-fraction property counts.
type EvaluateFunc func(ctx context.Context, genes []int32) (ltlMilli, failMilli int, err error)

// Best is the highest-fitness candidate seen across the whole search.
type Best struct {
	Genes      []int32
	Fitness    float64
	Generation int
}

// Search drives the GA: candidates of each generation are evaluated in
// parallel up to maxParallel, fitness is combined by the components, and the
// population evolves generationally.
type Search struct {
	ga          *GA
	components  *Components
	evaluate    EvaluateFunc
	maxParallel int
	logger      zerolog.Logger
}

// NewSearch wires a search over an initialised GA.
func NewSearch(ga *GA, components *Components, evaluate EvaluateFunc, maxParallel int, logger zerolog.Logger) *Search {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Search{
		ga:          ga,
		components:  components,
		evaluate:    evaluate,
		maxParallel: maxParallel,
		logger:      logger.With().Str("component", "gatlam_search").Logger(),
	}
}

// Run evolves the configured number of generations and returns the best
// candidate found. Cancellation of ctx stops the search between evaluations.
func (s *Search) Run(ctx context.Context) (Best, error) {
	best := Best{Fitness: -1}

	for gen := 0; gen < s.ga.Config().Generations; gen++ {
		population := s.ga.Population()
		scores := make([]float64, len(population))

		var mu sync.Mutex
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.maxParallel)

		for i, chrom := range population {
			i, chrom := i, chrom
			group.Go(func() error {
				genes, err := s.ga.Decode(chrom)
				if err != nil {
					return err
				}
				ltlMilli, failMilli, err := s.evaluate(groupCtx, genes)
				if err != nil {
					return err
				}
				score, err := s.components.Evaluate(chrom, ltlMilli, failMilli)
				if err != nil {
					return err
				}

				mu.Lock()
				scores[i] = score
				if score > best.Fitness {
					best = Best{Genes: genes, Fitness: score, Generation: gen}
				}
				mu.Unlock()
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return best, err
		}

		if err := s.ga.StepWithFitness(scores); err != nil {
			return best, err
		}

		s.logger.Debug().
			Int("generation", gen+1).
			Float64("best_fitness", best.Fitness).
			Msg("generation evolved")
	}

	return best, nil
}
