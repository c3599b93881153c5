// Package execconfig defines the per-assignment execution configuration
// document. The config is the single source of truth for runner limits,
// marking, attempt policy and access security; it is read from disk at each
// decision point rather than cached across updates.
package execconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
)

// ErrConfigInvalid indicates the document failed schema or invariant checks.
var ErrConfigInvalid = errors.New("execution config invalid")

// MarkingScheme tags.
const (
	SchemeExact      = "exact"
	SchemeRegex      = "regex"
	SchemePercentage = "percentage"
)

// FeedbackScheme tags.
const (
	FeedbackAuto   = "auto"
	FeedbackManual = "manual"
)

// GradingPolicy tags.
const (
	PolicyBest = "best"
	PolicyLast = "last"
)

// Language tags.
const (
	LanguageCpp  = "cpp"
	LanguageJava = "java"
)

// SubmissionMode tags.
const (
	ModeManual       = "manual"
	ModeGatlam       = "gatlam"
	ModeRNG          = "rng"
	ModeCodeCoverage = "codecoverage"
)

// CrossoverType tags.
const (
	CrossoverOnePoint = "onepoint"
	CrossoverTwoPoint = "twopoint"
	CrossoverUniform  = "uniform"
)

// MutationType tags.
const (
	MutationBitFlip  = "bitflip"
	MutationSwap     = "swap"
	MutationScramble = "scramble"
)

// ExecutionLimits caps resources for a single task run.
type ExecutionLimits struct {
	TimeoutSecs         int64  `json:"timeout_secs" validate:"gt=0"`
	MaxMemory           uint64 `json:"max_memory" validate:"gt=0"`
	MaxCPUs             uint32 `json:"max_cpus" validate:"gt=0"`
	MaxUncompressedSize uint64 `json:"max_uncompressed_size" validate:"gt=0"`
	MaxProcesses        uint32 `json:"max_processes" validate:"gt=0"`
}

// MarkingOptions configures segmentation, comparison and attempt policy.
type MarkingOptions struct {
	MarkingScheme            string   `json:"marking_scheme" validate:"oneof=exact regex percentage"`
	FeedbackScheme           string   `json:"feedback_scheme" validate:"oneof=auto manual"`
	Deliminator              string   `json:"deliminator" validate:"required"`
	GradingPolicy            string   `json:"grading_policy" validate:"oneof=best last"`
	MaxAttempts              uint32   `json:"max_attempts" validate:"gt=0"`
	LimitAttempts            bool     `json:"limit_attempts"`
	PassMark                 uint32   `json:"pass_mark" validate:"lte=100"`
	AllowPracticeSubmissions bool     `json:"allow_practice_submissions"`
	DisallowedCode           []string `json:"disallowed_code"`
}

// ProjectSetup names the language and the submission mode.
type ProjectSetup struct {
	Language       string `json:"language" validate:"oneof=cpp java"`
	SubmissionMode string `json:"submission_mode" validate:"oneof=manual gatlam rng codecoverage"`
}

// OutputOptions selects which streams appear in captured output blobs.
type OutputOptions struct {
	Stdout  bool `json:"stdout"`
	Stderr  bool `json:"stderr"`
	Retcode bool `json:"retcode"`
}

// SecurityOptions gate student access to the assignment.
type SecurityOptions struct {
	PasswordEnabled  bool     `json:"password_enabled"`
	PasswordPin      string   `json:"password_pin,omitempty"`
	CookieTTLMinutes uint32   `json:"cookie_ttl_minutes" validate:"gt=0"`
	BindCookieToUser bool     `json:"bind_cookie_to_user"`
	AllowedCidrs     []string `json:"allowed_cidrs"`
}

// GeneBounds bound one gene of the GATLAM chromosome.
type GeneBounds struct {
	MinValue      int32   `json:"min_value"`
	MaxValue      int32   `json:"max_value"`
	InvalidValues []int32 `json:"invalid_values,omitempty"`
}

// TaskSpecOptions configure the per-task property checks.
type TaskSpecOptions struct {
	ValidReturnCodes []int    `json:"valid_return_codes"`
	MaxRuntimeMs     *uint64  `json:"max_runtime_ms,omitempty"`
	ForbiddenOutputs []string `json:"forbidden_outputs"`
}

// GatlamOptions parameterise the genetic adversarial input search.
type GatlamOptions struct {
	PopulationSize          int             `json:"population_size" validate:"gt=0"`
	NumberOfGenerations     int             `json:"number_of_generations" validate:"gt=0"`
	SelectionSize           int             `json:"selection_size" validate:"gt=0"`
	ReproductionProbability float64         `json:"reproduction_probability" validate:"gte=0,lte=1"`
	CrossoverProbability    float64         `json:"crossover_probability" validate:"gte=0,lte=1"`
	MutationProbability     float64         `json:"mutation_probability" validate:"gte=0,lte=1"`
	Genes                   []GeneBounds    `json:"genes"`
	CrossoverType           string          `json:"crossover_type" validate:"oneof=onepoint twopoint uniform"`
	MutationType            string          `json:"mutation_type" validate:"oneof=bitflip swap scramble"`
	Omega1                  float64         `json:"omega1"`
	Omega2                  float64         `json:"omega2"`
	Omega3                  float64         `json:"omega3"`
	TaskSpec                TaskSpecOptions `json:"task_spec"`
	MaxParallelChromosomes  int             `json:"max_parallel_chromosomes" validate:"gt=0"`
	Verbose                 bool            `json:"verbose"`
}

// CodeCoverageOptions carry the minimum coverage percentage for coverage tasks.
type CodeCoverageOptions struct {
	CodeCoverageRequired uint8 `json:"code_coverage_required" validate:"lte=100"`
}

// Config is the full per-assignment configuration document.
type Config struct {
	Execution    ExecutionLimits     `json:"execution"`
	Marking      MarkingOptions      `json:"marking"`
	Project      ProjectSetup        `json:"project"`
	Output       OutputOptions       `json:"output"`
	Gatlam       GatlamOptions       `json:"gatlam"`
	Security     SecurityOptions     `json:"security"`
	CodeCoverage CodeCoverageOptions `json:"code_coverage"`
}

// Default returns the deterministic configuration used when no document exists.
func Default() Config {
	return Config{
		Execution: ExecutionLimits{
			TimeoutSecs:         10,
			MaxMemory:           8_589_934_592,
			MaxCPUs:             2,
			MaxUncompressedSize: 100_000_000,
			MaxProcesses:        256,
		},
		Marking: MarkingOptions{
			MarkingScheme:            SchemeExact,
			FeedbackScheme:           FeedbackAuto,
			Deliminator:              "&-=-&",
			GradingPolicy:            PolicyLast,
			MaxAttempts:              10,
			LimitAttempts:            false,
			PassMark:                 50,
			AllowPracticeSubmissions: false,
		},
		Project: ProjectSetup{
			Language:       LanguageCpp,
			SubmissionMode: ModeManual,
		},
		Output: OutputOptions{
			Stdout: true,
		},
		Gatlam: GatlamOptions{
			PopulationSize:          100,
			NumberOfGenerations:     50,
			SelectionSize:           20,
			ReproductionProbability: 0.8,
			CrossoverProbability:    0.9,
			MutationProbability:     0.01,
			Genes: []GeneBounds{
				{MinValue: -5, MaxValue: 5},
				{MinValue: -4, MaxValue: 9},
			},
			CrossoverType:          CrossoverOnePoint,
			MutationType:           MutationBitFlip,
			Omega1:                 0.5,
			Omega2:                 0.3,
			Omega3:                 0.2,
			TaskSpec:               TaskSpecOptions{ValidReturnCodes: []int{0}},
			MaxParallelChromosomes: 4,
		},
		Security: SecurityOptions{
			CookieTTLMinutes: 480,
			BindCookieToUser: true,
		},
		CodeCoverage: CodeCoverageOptions{CodeCoverageRequired: 80},
	}
}

// Parse decodes a document on top of the defaults, so omitted fields keep
// their default values, then validates the result.
func Parse(data []byte, validate *validator.Validate) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := cfg.Validate(validate); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load reads the document at path; a missing file yields the default config.
func Load(path string, validate *validator.Validate) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read execution config: %w", err)
	}

	return Parse(data, validate)
}

// Marshal renders the document for persistence.
func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate enforces the document invariants beyond plain schema shape.
func (c Config) Validate(validate *validator.Validate) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	weightSum := c.Gatlam.Omega1 + c.Gatlam.Omega2 + c.Gatlam.Omega3
	if math.Abs(weightSum-1.0) > 1e-6 {
		return fmt.Errorf("%w: gatlam weights sum to %v, want 1", ErrConfigInvalid, weightSum)
	}

	if c.Security.PasswordEnabled && c.Security.PasswordPin == "" {
		return fmt.Errorf("%w: password enabled without a pin", ErrConfigInvalid)
	}

	for _, gene := range c.Gatlam.Genes {
		if gene.MinValue > gene.MaxValue {
			return fmt.Errorf("%w: gene min %d exceeds max %d", ErrConfigInvalid, gene.MinValue, gene.MaxValue)
		}
	}

	return nil
}
