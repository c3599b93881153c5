package gatlam

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Components computes the weighted fitness
// F(x) = w1*LTL(x) + w2*FAIL(x) + w3*MEM(x). The memory term rewards gene
// values seen before on property-violating candidates, steering the search
// back towards input regions that exposed faults. Safe for concurrent use.
type Components struct {
	omega1      float64
	omega2      float64
	omega3      float64
	bitsPerGene int

	// gene position -> value -> times recorded
	memory       *xsync.MapOf[int, *xsync.MapOf[int32, *atomic.Int64]]
	totalChecked atomic.Int64
}

// NewComponents validates the weights (must sum to 1 within 1e-6) and
// returns an empty-memory fitness evaluator.
func NewComponents(omega1, omega2, omega3 float64, bitsPerGene int) (*Components, error) {
	if math.Abs(omega1+omega2+omega3-1.0) > 1e-6 {
		return nil, fmt.Errorf("%w: omega weights sum to %v, want 1", ErrBadConfig, omega1+omega2+omega3)
	}
	return &Components{
		omega1:      omega1,
		omega2:      omega2,
		omega3:      omega3,
		bitsPerGene: bitsPerGene,
		memory:      xsync.NewMapOf[int, *xsync.MapOf[int32, *atomic.Int64]](),
	}, nil
}

// Evaluate scores one candidate from its milli-fraction inputs. Memory counts
// are updated only for candidates that violated at least one property, so the
// novelty term tracks the faulty region of the input space.
func (c *Components) Evaluate(x Chromosome, ltlMilli, failMilli int) (float64, error) {
	genes, err := DecodeGenes(x.Bits, c.bitsPerGene)
	if err != nil {
		return 0, err
	}

	ltl := clampUnit(float64(ltlMilli) / 1000.0)
	fail := clampUnit(float64(failMilli) / 1000.0)
	mem := c.memoryScore(genes)

	c.totalChecked.Add(1)
	if ltl > 0 {
		c.record(genes)
	}

	return c.omega1*ltl + c.omega2*fail + c.omega3*mem, nil
}

func (c *Components) memoryScore(genes []int32) float64 {
	if len(genes) == 0 {
		return 0
	}
	total := c.totalChecked.Load()
	if total < 1 {
		total = 1
	}

	sum := 0.0
	for i, value := range genes {
		if perValue, ok := c.memory.Load(i); ok {
			if counter, ok := perValue.Load(value); ok {
				sum += float64(counter.Load())
			}
		}
	}
	return sum / (float64(len(genes)) * float64(total))
}

func (c *Components) record(genes []int32) {
	for i, value := range genes {
		perValue, _ := c.memory.LoadOrCompute(i, func() *xsync.MapOf[int32, *atomic.Int64] {
			return xsync.NewMapOf[int32, *atomic.Int64]()
		})
		counter, _ := perValue.LoadOrCompute(value, func() *atomic.Int64 {
			return &atomic.Int64{}
		})
		counter.Add(1)
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
