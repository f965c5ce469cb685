package strategy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/strategy"
)

func draftWithRules(t *testing.T) *strategy.Definition {
	t.Helper()
	d := strategy.New("uniform scan", strategy.TypeUniformGrid, "alice")
	d.Rules = []strategy.RuleConfig{{
		RuleType:   "uniformGrid",
		Parameters: map[string]any{"gridSpacing": float64(2)},
		Weight:     1,
		Enabled:    true,
	}}
	return d
}

func TestNewDefinitionDefaults(t *testing.T) {
	d := strategy.New("test", strategy.TypeCustom, "bob")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Equal(t, strategy.StateDraft, d.LifecycleState)
	assert.Equal(t, strategy.SchemaVersion, d.SchemaVersion)
	assert.True(t, d.Mutable())
}

func TestValidate(t *testing.T) {
	d := draftWithRules(t)
	assert.NoError(t, d.Validate())

	d.Name = ""
	d.StrategyType = "bogus"
	d.Rules[0].RuleType = ""
	d.Rules[0].Weight = -1
	err := d.Validate()
	require.Error(t, err)
	assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))
	assert.Len(t, errcode.AsError(err).FieldErrors, 4)
}

func TestConditionalLogicMatches(t *testing.T) {
	threshold := 0.5
	cond := &strategy.ConditionalLogic{
		WaferSize:              "300mm",
		DefectDensityThreshold: &threshold,
		CustomConditions:       map[string]any{"lot": "A"},
	}

	match := strategy.ExecContext{
		WaferSize:     "300mm",
		DefectDensity: 0.5, // at the threshold fires the rule
		ProcessParams: map[string]any{"lot": "A"},
	}
	assert.True(t, cond.Matches(match))

	below := match
	below.DefectDensity = 0.49
	assert.False(t, cond.Matches(below))

	wrongSize := match
	wrongSize.WaferSize = "200mm"
	assert.False(t, cond.Matches(wrongSize))

	wrongCustom := match
	wrongCustom.ProcessParams = map[string]any{"lot": "B"}
	assert.False(t, cond.Matches(wrongCustom))

	var nilCond *strategy.ConditionalLogic
	assert.True(t, nilCond.Matches(strategy.ExecContext{}))
}

func TestLifecyclePromotionPath(t *testing.T) {
	d := draftWithRules(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.Transition(strategy.StateReview, "rev", now))
	assert.Equal(t, "rev", d.ReviewedBy)
	require.NotNil(t, d.ReviewedAt)
	assert.Equal(t, now, *d.ReviewedAt)

	require.NoError(t, d.Transition(strategy.StateApproved, "appr", now))
	assert.Equal(t, "appr", d.ApprovedBy)
	require.NotNil(t, d.ApprovedAt)
	assert.False(t, d.Mutable())

	require.NoError(t, d.Transition(strategy.StateActive, "appr", now))
	require.NoError(t, d.Transition(strategy.StateDeprecated, "appr", now))

	// Deprecated is terminal.
	err := d.Transition(strategy.StateActive, "appr", now)
	require.Error(t, err)
	assert.Equal(t, errcode.LifecycleViolation, errcode.CodeOf(err))
}

func TestLifecycleSkippingStatesFails(t *testing.T) {
	d := draftWithRules(t)
	err := d.Transition(strategy.StateApproved, "x", time.Now())
	require.Error(t, err)
	assert.Equal(t, errcode.LifecycleViolation, errcode.CodeOf(err))
}

func TestLifecycleReviewRequiresRules(t *testing.T) {
	d := strategy.New("empty", strategy.TypeCustom, "alice")
	err := d.Transition(strategy.StateReview, "rev", time.Now())
	require.Error(t, err)
	assert.Equal(t, errcode.LifecycleViolation, errcode.CodeOf(err))
}

func TestRetractClearsAuditTrail(t *testing.T) {
	d := draftWithRules(t)
	now := time.Now().UTC()
	require.NoError(t, d.Transition(strategy.StateReview, "rev", now))
	require.NoError(t, d.Transition(strategy.StateApproved, "appr", now))

	require.NoError(t, d.Transition(strategy.StateDraft, "anyone", now))
	assert.Equal(t, strategy.StateDraft, d.LifecycleState)
	assert.Empty(t, d.ReviewedBy)
	assert.Nil(t, d.ReviewedAt)
	assert.Empty(t, d.ApprovedBy)
	assert.Nil(t, d.ApprovedAt)

	// Active strategies cannot be retracted.
	require.NoError(t, d.Transition(strategy.StateReview, "rev", now))
	require.NoError(t, d.Transition(strategy.StateApproved, "appr", now))
	require.NoError(t, d.Transition(strategy.StateActive, "appr", now))
	err := d.Transition(strategy.StateDraft, "anyone", now)
	require.Error(t, err)
}

func TestBump(t *testing.T) {
	for _, tc := range []struct {
		level strategy.BumpLevel
		want  string
	}{
		{strategy.BumpPatch, "1.2.4"},
		{strategy.BumpMinor, "1.3.0"},
		{strategy.BumpMajor, "2.0.0"},
	} {
		got, err := strategy.Bump("1.2.3", tc.level)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := strategy.Bump("not-a-version", strategy.BumpPatch)
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, strategy.CompareVersions("1.2.3", "1.10.0"))
	assert.Equal(t, 1, strategy.CompareVersions("2.0.0", "1.99.99"))
	assert.Equal(t, 0, strategy.CompareVersions("1.0.0", "1.0.0"))
	assert.Equal(t, -1, strategy.CompareVersions("garbage", "1.0.0"))
}

func TestForkKeepsIDBumpsVersion(t *testing.T) {
	d := draftWithRules(t)
	now := time.Now().UTC()
	require.NoError(t, d.Transition(strategy.StateReview, "rev", now))
	require.NoError(t, d.Transition(strategy.StateApproved, "appr", now))

	fork, err := d.Fork(strategy.BumpMinor, "carol")
	require.NoError(t, err)
	assert.Equal(t, d.ID, fork.ID)
	assert.Equal(t, "1.1.0", fork.Version)
	assert.Equal(t, strategy.StateDraft, fork.LifecycleState)
	assert.Equal(t, "carol", fork.Author)
	assert.Equal(t, d.CreatedAt, fork.CreatedAt)
	assert.Empty(t, fork.ApprovedBy)
}

func TestCloneIsDeep(t *testing.T) {
	d := draftWithRules(t)
	c := d.Clone("copy", "dave")

	assert.NotEqual(t, d.ID, c.ID)
	assert.Equal(t, "1.0.0", c.Version)

	c.Rules[0].Parameters["gridSpacing"] = float64(99)
	assert.Equal(t, float64(2), d.Rules[0].Parameters["gridSpacing"])
}

func TestEnabledRules(t *testing.T) {
	d := draftWithRules(t)
	d.Rules = append(d.Rules, strategy.RuleConfig{RuleType: "fixedPoint", Enabled: false})
	enabled := d.EnabledRules()
	require.Len(t, enabled, 1)
	assert.Equal(t, "uniformGrid", enabled[0].RuleType)
}
