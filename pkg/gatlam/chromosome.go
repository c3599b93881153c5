// Package gatlam implements the genetic adversarial input search: bit-string
// chromosomes over fixed-width signed genes, roulette selection, configurable
// crossover and mutation operators, and a weighted fitness combining property
// violations, task failures and gene-value novelty.
package gatlam

import (
	"errors"
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
)

// ErrDecodeLength is returned when a chromosome's bit count is not a multiple
// of the gene width.
var ErrDecodeLength = errors.New("gatlam: chromosome length is not a multiple of bits per gene")

// GeneConfig bounds one gene and lists values initialisation must resample.
type GeneConfig struct {
	Min     int32
	Max     int32
	Invalid mapset.Set[int32]
}

// Bits returns the sign-magnitude width needed for this gene's range.
func (g GeneConfig) Bits() int {
	return widthFor(maxAbs(g.Min, g.Max))
}

// Chromosome is a flat bit string; genes are fixed-width slices of it.
type Chromosome struct {
	Bits []bool
}

// Clone returns an independent copy.
func (c Chromosome) Clone() Chromosome {
	bits := make([]bool, len(c.Bits))
	copy(bits, c.Bits)
	return Chromosome{Bits: bits}
}

// EncodeGene writes value as sign + magnitude into bits positions. The
// magnitude is truncated to fit the available width.
func EncodeGene(value int32, bits int) []bool {
	encoded := make([]bool, 0, bits)
	magnitudeBits := bits - 1

	abs := value
	if abs < 0 {
		abs = -abs
	}
	truncated := uint32(abs) & ((1 << magnitudeBits) - 1)

	encoded = append(encoded, value < 0)
	for i := magnitudeBits - 1; i >= 0; i-- {
		encoded = append(encoded, (truncated>>i)&1 == 1)
	}
	return encoded
}

// DecodeGene reads a sign-magnitude slice back into a value, clamped to the
// width's representable range. Slices shorter than two bits decode to zero.
func DecodeGene(bits []bool) int32 {
	if len(bits) < 2 {
		return 0
	}
	var magnitude int32
	for _, b := range bits[1:] {
		magnitude <<= 1
		if b {
			magnitude |= 1
		}
	}
	limit := int32(1)<<(len(bits)-1) - 1
	value := magnitude
	if bits[0] {
		value = -magnitude
	}
	if value > limit {
		value = limit
	}
	if value < -limit {
		value = -limit
	}
	return value
}

// DecodeGenes splits the bit string into fixed-width genes and decodes each.
func DecodeGenes(bits []bool, bitsPerGene int) ([]int32, error) {
	if bitsPerGene <= 0 || len(bits)%bitsPerGene != 0 {
		return nil, fmt.Errorf("%w: %d bits, %d per gene", ErrDecodeLength, len(bits), bitsPerGene)
	}
	values := make([]int32, 0, len(bits)/bitsPerGene)
	for i := 0; i+bitsPerGene <= len(bits); i += bitsPerGene {
		values = append(values, DecodeGene(bits[i:i+bitsPerGene]))
	}
	return values, nil
}

// GenesFromConfig converts the execution config's gene bounds into gene
// configs with their invalid-value sets.
func GenesFromConfig(cfg *execconfig.Config) []GeneConfig {
	genes := make([]GeneConfig, 0, len(cfg.Gatlam.Genes))
	for _, g := range cfg.Gatlam.Genes {
		genes = append(genes, GeneConfig{
			Min:     g.MinValue,
			Max:     g.MaxValue,
			Invalid: mapset.NewSet(g.InvalidValues...),
		})
	}
	return genes
}

func maxAbs(min, max int32) int32 {
	a, b := min, max
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// widthFor is ceil(log2(maxAbs)) magnitude bits plus a sign bit.
func widthFor(abs int32) int {
	if abs <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(abs)))) + 1
}
