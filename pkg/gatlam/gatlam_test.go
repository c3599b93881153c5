package gatlam

import (
	"context"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
)

func testConfig() Config {
	return Config{
		PopulationSize:          10,
		Generations:             5,
		SelectionSize:           4,
		ReproductionProbability: 0.8,
		CrossoverProbability:    0.9,
		MutationProbability:     0.1,
		Genes: []GeneConfig{
			{Min: -5, Max: 5, Invalid: mapset.NewSet[int32]()},
			{Min: -4, Max: 9, Invalid: mapset.NewSet[int32]()},
		},
		CrossoverType: execconfig.CrossoverOnePoint,
		MutationType:  execconfig.MutationBitFlip,
		Seed:          42,
	}
}

func TestGeneBits(t *testing.T) {
	assert.Equal(t, 5, GeneConfig{Min: -9, Max: 9}.Bits())
	assert.Equal(t, 1, GeneConfig{Min: -1, Max: 1}.Bits())
	assert.Equal(t, 3, GeneConfig{Min: -3, Max: 3}.Bits())
}

func TestConfigBitsPerGeneUsesGlobalWidth(t *testing.T) {
	// widest bound is 9, so every gene gets 5 bits
	assert.Equal(t, 5, testConfig().BitsPerGene())
}

func TestEncodeDecodeGeneRoundTrip(t *testing.T) {
	for _, v := range []int32{-9, -1, 0, 1, 7, 9} {
		bits := EncodeGene(v, 5)
		require.Len(t, bits, 5)
		assert.Equal(t, v, DecodeGene(bits))
	}
}

func TestDecodeGenesRejectsBadLength(t *testing.T) {
	_, err := DecodeGenes(make([]bool, 7), 5)
	assert.ErrorIs(t, err, ErrDecodeLength)
}

func TestNewRejectsZeroPopulationAndGenerations(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrBadConfig)

	cfg = testConfig()
	cfg.Generations = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestInitialPopulationShape(t *testing.T) {
	ga, err := New(testConfig())
	require.NoError(t, err)

	require.Len(t, ga.Population(), 10)
	for _, chrom := range ga.Population() {
		// two genes at the global 5-bit width
		require.Len(t, chrom.Bits, 10)

		genes, err := ga.Decode(chrom)
		require.NoError(t, err)
		require.Len(t, genes, 2)
		for _, v := range genes {
			assert.GreaterOrEqual(t, v, int32(-15))
			assert.LessOrEqual(t, v, int32(15))
		}
	}
}

func TestInitialPopulationResamplesInvalidValues(t *testing.T) {
	cfg := testConfig()
	cfg.Genes = []GeneConfig{{Min: 0, Max: 2, Invalid: mapset.NewSet[int32](0, 2)}}

	ga, err := New(cfg)
	require.NoError(t, err)

	for _, chrom := range ga.Population() {
		genes, err := ga.Decode(chrom)
		require.NoError(t, err)
		assert.Equal(t, int32(1), genes[0])
	}
}

func TestStepWithFitnessAdvancesGeneration(t *testing.T) {
	ga, err := New(testConfig())
	require.NoError(t, err)

	scores := make([]float64, len(ga.Population()))
	for i := range scores {
		scores[i] = 1.0
	}

	require.NoError(t, ga.StepWithFitness(scores))

	assert.Equal(t, 1, ga.Generation())
	assert.Len(t, ga.Population(), 10)
	for _, chrom := range ga.Population() {
		assert.Len(t, chrom.Bits, 10)
	}
}

func TestStepWithFitnessRejectsSizeMismatch(t *testing.T) {
	ga, err := New(testConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, ga.StepWithFitness([]float64{1.0}), ErrFitnessSize)
}

func TestComponentsRejectsBadWeights(t *testing.T) {
	_, err := NewComponents(0.5, 0.5, 0.5, 5)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestComponentsMemoryOnlyUpdatedOnViolations(t *testing.T) {
	comps, err := NewComponents(0.5, 0.3, 0.2, 5)
	require.NoError(t, err)

	chrom := Chromosome{Bits: append(EncodeGene(3, 5), EncodeGene(-2, 5)...)}

	// clean candidate: no memory recorded
	score, err := comps.Evaluate(chrom, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	// violating candidate records its gene values
	score, err = comps.Evaluate(chrom, 500, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.5+0.3*1.0, score, 1e-9)

	// same genes now score a non-zero memory term
	score, err = comps.Evaluate(chrom, 0, 0)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
}

func TestSearchRunsAllGenerations(t *testing.T) {
	cfg := testConfig()
	cfg.Generations = 3
	ga, err := New(cfg)
	require.NoError(t, err)

	comps, err := NewComponents(0.5, 0.3, 0.2, ga.BitsPerGene())
	require.NoError(t, err)

	evaluations := 0
	evaluate := func(_ context.Context, genes []int32) (int, int, error) {
		evaluations++
		// reward larger first genes so the search has a gradient
		if len(genes) > 0 && genes[0] > 0 {
			return 500, 0, nil
		}
		return 0, 0, nil
	}

	// serial evaluation keeps the counter race-free
	search := NewSearch(ga, comps, evaluate, 1, zerolog.Nop())
	best, err := search.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, ga.Generation())
	assert.Equal(t, 30, evaluations)
	assert.GreaterOrEqual(t, best.Fitness, 0.0)
}

func TestSearchStopsOnCancel(t *testing.T) {
	ga, err := New(testConfig())
	require.NoError(t, err)

	comps, err := NewComponents(0.5, 0.3, 0.2, ga.BitsPerGene())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	evaluate := func(runCtx context.Context, _ []int32) (int, int, error) {
		cancel()
		<-runCtx.Done()
		return 0, 0, runCtx.Err()
	}

	search := NewSearch(ga, comps, evaluate, 2, zerolog.Nop())
	_, err = search.Run(ctx)
	assert.Error(t, err)
}
