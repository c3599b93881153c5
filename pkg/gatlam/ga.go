package gatlam

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
)

var (
	// ErrBadConfig rejects unusable GA parameters at construction.
	ErrBadConfig = errors.New("gatlam: invalid configuration")
	// ErrFitnessSize is returned when fitness scores do not match the population.
	ErrFitnessSize = errors.New("gatlam: fitness score count does not match population size")
)

// Config parameterises the genetic algorithm.
type Config struct {
	PopulationSize          int
	Generations             int
	SelectionSize           int
	ReproductionProbability float64
	CrossoverProbability    float64
	MutationProbability     float64
	Genes                   []GeneConfig
	CrossoverType           string
	MutationType            string
	Seed                    int64
}

// ConfigFromExecution maps the assignment's execution config onto GA
// parameters.
func ConfigFromExecution(cfg *execconfig.Config) Config {
	g := cfg.Gatlam
	return Config{
		PopulationSize:          g.PopulationSize,
		Generations:             g.NumberOfGenerations,
		SelectionSize:           g.SelectionSize,
		ReproductionProbability: g.ReproductionProbability,
		CrossoverProbability:    g.CrossoverProbability,
		MutationProbability:     g.MutationProbability,
		Genes:                   GenesFromConfig(cfg),
		CrossoverType:           g.CrossoverType,
		MutationType:            g.MutationType,
	}
}

// BitsPerGene is the global gene width: every gene uses the width required by
// the largest absolute bound across all genes, so decoding stays uniform.
func (c Config) BitsPerGene() int {
	var abs int32
	for _, g := range c.Genes {
		if a := maxAbs(g.Min, g.Max); a > abs {
			abs = a
		}
	}
	return widthFor(abs)
}

// GA evolves a population of bit-string chromosomes with externally computed
// fitness scores.
type GA struct {
	config      Config
	population  []Chromosome
	generation  int
	bitsPerGene int
	rng         *rand.Rand
}

// New validates the config and initialises a random population. Invalid gene
// values are rejected by resampling during initialisation.
func New(cfg Config) (*GA, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be positive", ErrBadConfig)
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("%w: generation count must be positive", ErrBadConfig)
	}
	if len(cfg.Genes) == 0 {
		return nil, fmt.Errorf("%w: at least one gene is required", ErrBadConfig)
	}
	for i, g := range cfg.Genes {
		if g.Min > g.Max {
			return nil, fmt.Errorf("%w: gene %d has min > max", ErrBadConfig, i)
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ga := &GA{
		config:      cfg,
		bitsPerGene: cfg.BitsPerGene(),
		rng:         rand.New(rand.NewSource(seed)),
	}
	ga.population = ga.initialPopulation()
	return ga, nil
}

// Population returns the current generation's chromosomes.
func (ga *GA) Population() []Chromosome { return ga.population }

// Generation returns how many evolution steps have run.
func (ga *GA) Generation() int { return ga.generation }

// BitsPerGene returns the uniform gene width.
func (ga *GA) BitsPerGene() int { return ga.bitsPerGene }

// Config returns the GA parameters.
func (ga *GA) Config() Config { return ga.config }

// Decode returns the integer gene values of a chromosome.
func (ga *GA) Decode(c Chromosome) ([]int32, error) {
	return DecodeGenes(c.Bits, ga.bitsPerGene)
}

// StepWithFitness replaces the whole population with the next generation
// built from the given scores and advances the generation counter.
func (ga *GA) StepWithFitness(scores []float64) error {
	if len(scores) != len(ga.population) {
		return fmt.Errorf("%w: %d scores for %d chromosomes", ErrFitnessSize, len(scores), len(ga.population))
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}

	next := make([]Chromosome, 0, len(ga.population))
	for range ga.population {
		var child Chromosome
		if ga.rng.Float64() < ga.config.ReproductionProbability {
			p1 := ga.roulette(scores, total)
			p2 := ga.roulette(scores, total)
			child = ga.crossover(p1, p2)
		} else {
			child = ga.roulette(scores, total).Clone()
		}
		if ga.rng.Float64() < ga.config.MutationProbability {
			ga.mutate(&child)
		}
		next = append(next, child)
	}

	ga.population = next
	ga.generation++
	return nil
}

func (ga *GA) initialPopulation() []Chromosome {
	pop := make([]Chromosome, 0, ga.config.PopulationSize)
	for i := 0; i < ga.config.PopulationSize; i++ {
		bits := make([]bool, 0, ga.bitsPerGene*len(ga.config.Genes))
		for _, gene := range ga.config.Genes {
			value := ga.sampleGene(gene)
			bits = append(bits, EncodeGene(value, ga.bitsPerGene)...)
		}
		pop = append(pop, Chromosome{Bits: bits})
	}
	return pop
}

// sampleGene draws uniformly from [min, max], resampling anything in the
// gene's invalid set. A fully invalid range falls back to min.
func (ga *GA) sampleGene(gene GeneConfig) int32 {
	span := int64(gene.Max) - int64(gene.Min) + 1
	for attempt := 0; attempt < 1000; attempt++ {
		candidate := gene.Min + int32(ga.rng.Int63n(span))
		if gene.Invalid == nil || !gene.Invalid.Contains(candidate) {
			return candidate
		}
	}
	return gene.Min
}

// roulette is fitness-proportional selection with a linear scan; the last
// individual is the fallback when the cumulative sum never reaches the pick.
func (ga *GA) roulette(scores []float64, total float64) Chromosome {
	pick := ga.rng.Float64() * total
	cumulative := 0.0
	for i, s := range scores {
		cumulative += s
		if cumulative >= pick {
			return ga.population[i]
		}
	}
	return ga.population[len(ga.population)-1]
}

func (ga *GA) crossover(p1, p2 Chromosome) Chromosome {
	length := len(p1.Bits)
	child := make([]bool, length)

	switch ga.config.CrossoverType {
	case execconfig.CrossoverTwoPoint:
		a := ga.rng.Intn(length)
		b := ga.rng.Intn(length)
		if a > b {
			a, b = b, a
		}
		for i := 0; i < length; i++ {
			if i < a || i > b {
				child[i] = p1.Bits[i]
			} else {
				child[i] = p2.Bits[i]
			}
		}
	case execconfig.CrossoverUniform:
		for i := 0; i < length; i++ {
			if ga.rng.Intn(2) == 0 {
				child[i] = p1.Bits[i]
			} else {
				child[i] = p2.Bits[i]
			}
		}
	default: // one-point
		point := ga.rng.Intn(length)
		for i := 0; i < length; i++ {
			if i < point {
				child[i] = p1.Bits[i]
			} else {
				child[i] = p2.Bits[i]
			}
		}
	}

	return Chromosome{Bits: child}
}

func (ga *GA) mutate(c *Chromosome) {
	bits := c.Bits
	switch ga.config.MutationType {
	case execconfig.MutationSwap:
		if len(bits) >= 2 {
			i := ga.rng.Intn(len(bits))
			j := ga.rng.Intn(len(bits))
			for j == i {
				j = ga.rng.Intn(len(bits))
			}
			bits[i], bits[j] = bits[j], bits[i]
		}
	case execconfig.MutationScramble:
		if len(bits) >= 2 {
			start := ga.rng.Intn(len(bits))
			end := start + ga.rng.Intn(len(bits)-start)
			segment := bits[start : end+1]
			ga.rng.Shuffle(len(segment), func(a, b int) {
				segment[a], segment[b] = segment[b], segment[a]
			})
		}
	default: // bit-flip, per bit
		for i := range bits {
			if ga.rng.Float64() < ga.config.MutationProbability {
				bits[i] = !bits[i]
			}
		}
	}
}
