package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectArm_ConvergesToRewardedArm(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)

	for i := 0; i < 100; i++ {
		arm := l.SelectArm(Context{})
		reward := 0.0
		if arm == StrategyFTSHeavy {
			reward = 1.0
		}
		l.UpdateReward(arm, Context{}, reward)
	}

	hits := 0
	const trials = 500
	for i := 0; i < trials; i++ {
		if l.SelectArm(Context{}) == StrategyFTSHeavy {
			hits++
		}
	}
	assert.Greater(t, float64(hits)/float64(trials), 0.85)
}

func TestUCB1_TriesEveryArmAtLeastOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmUCB1
	l := New(cfg)

	seen := map[Strategy]bool{}
	for i := 0; i < len(Strategies); i++ {
		arm := l.SelectArm(Context{})
		seen[arm] = true
		l.UpdateReward(arm, Context{}, 0.5)
	}
	assert.Len(t, seen, len(Strategies))
}

func TestUpdateReward_ClampsToUnitInterval(t *testing.T) {
	l := New(DefaultConfig())
	l.UpdateReward(StrategyBalanced, Context{}, 5.0)
	l.UpdateReward(StrategyBalanced, Context{}, -3.0)
	arms := l.Arms()
	arm := arms[StrategyBalanced]
	assert.Equal(t, 2, arm.PullCount)
	assert.Equal(t, 1.0, arm.CumulativeReward)
}

func TestExportImport_RoundTrips(t *testing.T) {
	l := New(DefaultConfig())
	l.UpdateReward(StrategyRecencyFocused, Context{}, 0.8)
	data, err := l.Export()
	require.NoError(t, err)

	l2 := New(DefaultConfig())
	require.NoError(t, l2.Import(data))
	arms := l2.Arms()
	assert.Equal(t, 1, arms[StrategyRecencyFocused].PullCount)
	assert.InDelta(t, 0.8, arms[StrategyRecencyFocused].CumulativeReward, 1e-9)
}

func TestReset_ClearsAllArms(t *testing.T) {
	l := New(DefaultConfig())
	l.UpdateReward(StrategyBalanced, Context{}, 1.0)
	l.Reset()
	arms := l.Arms()
	for _, s := range Strategies {
		assert.Zero(t, arms[s].PullCount)
	}
}

func TestSlidingWindow_BoundsHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 10
	l := New(cfg)
	for i := 0; i < 50; i++ {
		l.UpdateReward(StrategyBalanced, Context{}, 1.0)
	}
	arms := l.Arms()
	assert.LessOrEqual(t, arms[StrategyBalanced].PullCount, 10)
}
