package capcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLateWhenConfirmAtOrAfterEnd(t *testing.T) {
	p := Params{ConfirmTS: 4620, EndTS: 4600, PriceCap: 0.55, MinTicks: 5, CurrentTS: 4620}
	res := Evaluate(p, nil)
	assert.Equal(t, Late, res.Status)

	p.ConfirmTS = 4600
	res = Evaluate(p, nil)
	assert.Equal(t, Late, res.Status, "confirm_ts == end_ts is LATE, strictly <")
}

func TestDayWinScenarioFromSpec(t *testing.T) {
	p := Params{ConfirmTS: 2120, EndTS: 4600, PriceCap: 0.55, MinTicks: 5, CurrentTS: 2124}
	ticks := []Tick{
		{2120, 0.54}, {2121, 0.53}, {2122, 0.52}, {2123, 0.51}, {2124, 0.50},
	}
	res := Evaluate(p, ticks)
	require.Equal(t, Pass, res.Status)
	assert.Equal(t, int64(2120), *res.FirstPassTS)
	assert.Equal(t, 0.54, *res.PriceAtPass)
}

func TestPreConfirmTicksIgnored(t *testing.T) {
	var ticks []Tick
	for ts := int64(1100); ts <= 1149; ts++ {
		ticks = append(ticks, Tick{TS: ts, Price: 0.50})
	}
	for ts := int64(1200); ts <= 1219; ts++ {
		ticks = append(ticks, Tick{TS: ts, Price: 0.60})
	}
	p := Params{ConfirmTS: 1200, EndTS: 1300, PriceCap: 0.55, MinTicks: 5, CurrentTS: 1300}
	res := Evaluate(p, ticks)
	assert.Equal(t, Fail, res.Status, "50 pre-confirm ticks must not count toward the run")
}

func TestPendingBeforeEndWithoutQualifyingRun(t *testing.T) {
	p := Params{ConfirmTS: 1000, EndTS: 2000, PriceCap: 0.55, MinTicks: 5, CurrentTS: 1500}
	ticks := []Tick{{1000, 0.5}, {1001, 0.5}}
	res := Evaluate(p, ticks)
	assert.Equal(t, Pending, res.Status)
	assert.Equal(t, 2, res.ConsecutiveTicks)
}

func TestExactlyAtCapCounts(t *testing.T) {
	p := Params{ConfirmTS: 0, EndTS: 100, PriceCap: 0.55, MinTicks: 2, CurrentTS: 2}
	ticks := []Tick{{0, 0.55}, {1, 0.55}}
	res := Evaluate(p, ticks)
	assert.Equal(t, Pass, res.Status)
}

func TestTickAtConfirmTSIsFirstEligible(t *testing.T) {
	p := Params{ConfirmTS: 100, EndTS: 200, PriceCap: 0.55, MinTicks: 1, CurrentTS: 100}
	res := Evaluate(p, []Tick{{100, 0.1}})
	assert.Equal(t, Pass, res.Status)
	assert.Equal(t, int64(100), *res.FirstPassTS)
}

func TestAboveCapResetsRun(t *testing.T) {
	p := Params{ConfirmTS: 0, EndTS: 1000, PriceCap: 0.5, MinTicks: 3, CurrentTS: 500}
	ticks := []Tick{{0, 0.4}, {1, 0.4}, {2, 0.6}, {3, 0.4}, {4, 0.4}}
	res := Evaluate(p, ticks)
	assert.Equal(t, Pending, res.Status)
	assert.Equal(t, 2, res.ConsecutiveTicks)
}

func TestIdempotentReEvaluation(t *testing.T) {
	p := Params{ConfirmTS: 0, EndTS: 1000, PriceCap: 0.5, MinTicks: 2, CurrentTS: 500}
	ticks := []Tick{{0, 0.4}, {1, 0.4}}
	first := Evaluate(p, ticks)
	second := Evaluate(p, ticks)
	assert.Equal(t, first, second)
}
