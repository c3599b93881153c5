package execconfig

import (
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func newValidate() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(newValidate()))
	require.Equal(t, "&-=-&", cfg.Marking.Deliminator)
	require.Equal(t, PolicyLast, cfg.Marking.GradingPolicy)
	require.Equal(t, int64(10), cfg.Execution.TimeoutSecs)
}

func TestParseRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Marking.MarkingScheme = SchemePercentage
	cfg.Project.SubmissionMode = ModeGatlam
	cfg.Security.PasswordEnabled = true
	cfg.Security.PasswordPin = "1234"

	data, err := cfg.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data, newValidate())
	require.NoError(t, err)
	require.Equal(t, cfg, parsed)
}

func TestParseKeepsDefaultsForOmittedFields(t *testing.T) {
	parsed, err := Parse([]byte(`{"marking":{"marking_scheme":"regex","deliminator":"###"}}`), newValidate())
	require.NoError(t, err)
	require.Equal(t, SchemeRegex, parsed.Marking.MarkingScheme)
	require.Equal(t, "###", parsed.Marking.Deliminator)
	// untouched groups fall back to defaults
	require.Equal(t, Default().Execution, parsed.Execution)
	require.Equal(t, Default().Gatlam, parsed.Gatlam)
}

func TestParseRejectsUnknownEnumTag(t *testing.T) {
	_, err := Parse([]byte(`{"marking":{"marking_scheme":"fuzzy"}}`), newValidate())
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestParseRejectsEmptyDelimiter(t *testing.T) {
	_, err := Parse([]byte(`{"marking":{"deliminator":""}}`), newValidate())
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestParseRejectsBadWeightSum(t *testing.T) {
	_, err := Parse([]byte(`{"gatlam":{"omega1":0.5,"omega2":0.5,"omega3":0.5}}`), newValidate())
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestValidateRejectsPasswordWithoutPin(t *testing.T) {
	cfg := Default()
	cfg.Security.PasswordEnabled = true
	require.ErrorIs(t, cfg.Validate(newValidate()), ErrConfigInvalid)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"), newValidate())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
