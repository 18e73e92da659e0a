package pacing

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/pacer/pkg/outcome"
)

func testController() *Controller {
	return NewController(
		WithBounds(100*time.Millisecond, 30*time.Second),
		WithGain(0.3),
		WithInitialDelay(time.Second),
	)
}

func TestController_SuccessConvergesTowardFloor(t *testing.T) {
	// Given a controller with a 1s initial delay and 100ms floor
	c := testController()
	floor := 100 * time.Millisecond

	// When a long run of successes is recorded
	previous := c.NextDelay("listSites")
	for i := 0; i < 100; i++ {
		c.RecordOutcome("listSites", 50*time.Millisecond, outcome.Success)
		current := c.NextDelay("listSites")

		// Then the delay is non-increasing and never below the floor
		assert.LessOrEqual(t, current, previous, "delay must be non-increasing on success")
		assert.GreaterOrEqual(t, current, floor, "delay must never drop below the floor")
		previous = current
	}

	// And it converges to the floor without oscillation
	assert.InDelta(t, floor.Seconds(), previous.Seconds(), 0.001)
}

func TestController_RateLimitedStrictlyIncreases(t *testing.T) {
	// Given a fresh class at its initial delay
	c := testController()
	before := c.NextDelay("listDevices")

	// When a rate-limited outcome is recorded
	c.RecordOutcome("listDevices", 10*time.Millisecond, outcome.RateLimited)
	after := c.NextDelay("listDevices")

	// Then the delay strictly increases
	assert.Greater(t, after, before)
}

func TestController_RateLimitedCappedAtCeiling(t *testing.T) {
	// Given a controller with a 30s ceiling
	c := testController()

	// When rate limiting is recorded far past the doubling horizon
	for i := 0; i < 20; i++ {
		c.RecordOutcome("listSites", 0, outcome.RateLimited)
	}

	// Then the delay stays capped at the ceiling
	assert.Equal(t, 30*time.Second, c.NextDelay("listSites"))
}

func TestController_TransientIncreaseIsModerate(t *testing.T) {
	// Given a class at its 1s initial delay
	c := testController()

	// When one transient network error is recorded
	c.RecordOutcome("listSites", 0, outcome.TransientNetworkError)

	// Then the delay grows by the moderate factor, less than doubling
	assert.InDelta(t, 1.5, c.NextDelay("listSites").Seconds(), 0.001)
}

func TestController_PermanentErrorLeavesDelayAlone(t *testing.T) {
	// Given a class at its initial delay
	c := testController()
	before := c.NextDelay("getSite")

	// When a permanent error is recorded
	c.RecordOutcome("getSite", 0, outcome.PermanentError)

	// Then the pacing state is unchanged
	assert.Equal(t, before, c.NextDelay("getSite"))
}

func TestController_ReferenceScenario(t *testing.T) {
	// Given class "listSites": delay 1.0s, gain 0.3, ceiling 30s, floor 0.1s
	c := testController()
	require.Equal(t, time.Second, c.NextDelay("listSites"))

	// When a rate-limited outcome arrives
	c.RecordOutcome("listSites", 0, outcome.RateLimited)

	// Then the delay doubles to 2.0s
	assert.InDelta(t, 2.0, c.NextDelay("listSites").Seconds(), 0.0001)

	// When a subsequent success arrives
	c.RecordOutcome("listSites", 0, outcome.Success)

	// Then delay = 2.0 - 0.3*(2.0-0.1) = 1.43s
	assert.InDelta(t, 1.43, c.NextDelay("listSites").Seconds(), 0.0001)
}

func TestController_InvalidGainRepairedToDefault(t *testing.T) {
	invalidGains := []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -0.5, 1, 1.7}

	for _, gain := range invalidGains {
		// Given a controller seeded with an invalid persisted gain
		c := testController()
		c.Seed(map[string]DelayState{
			"listSites": {DelaySeconds: 1.0, Gain: gain},
		})

		// When outcomes are recorded
		c.RecordOutcome("listSites", 0, outcome.RateLimited)
		c.RecordOutcome("listSites", 0, outcome.Success)
		delay := c.NextDelay("listSites")

		// Then the default gain applies and the delay stays finite and positive
		assert.False(t, math.IsNaN(delay.Seconds()), "gain %v produced NaN", gain)
		assert.False(t, math.IsInf(delay.Seconds(), 0), "gain %v produced Inf", gain)
		assert.Greater(t, delay, time.Duration(0), "gain %v produced non-positive delay", gain)
		// 2.0 - 0.3*(2.0-0.1) = 1.43 proves the 0.3 default was substituted
		assert.InDelta(t, 1.43, delay.Seconds(), 0.0001, "gain %v not repaired to default", gain)
	}
}

func TestController_InvalidConfiguredGainRepaired(t *testing.T) {
	// Given a controller constructed with an out-of-range gain
	c := NewController(
		WithBounds(100*time.Millisecond, 30*time.Second),
		WithGain(42),
		WithInitialDelay(time.Second),
	)

	// When a success is recorded
	c.RecordOutcome("listSites", 0, outcome.Success)

	// Then pacing behaves per the 0.3 default: 1.0 - 0.3*(1.0-0.1) = 0.73
	assert.InDelta(t, 0.73, c.NextDelay("listSites").Seconds(), 0.0001)
}

func TestController_SeedRepairsCorruptedDelay(t *testing.T) {
	// Given persisted state with NaN and negative delays
	c := testController()
	c.Seed(map[string]DelayState{
		"a": {DelaySeconds: math.NaN(), Gain: 0.3},
		"b": {DelaySeconds: -5, Gain: 0.3},
		"c": {DelaySeconds: 1e9, Gain: 0.3},
	})

	// Then every class yields a finite delay inside the bounds
	for _, class := range []string{"a", "b", "c"} {
		delay := c.NextDelay(class)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond, "class %s", class)
		assert.LessOrEqual(t, delay, 30*time.Second, "class %s", class)
	}
}

func TestController_ClassesAreIndependent(t *testing.T) {
	// Given two classes with different outcome histories
	c := testController()
	c.RecordOutcome("slow", 0, outcome.RateLimited)
	c.RecordOutcome("fast", 0, outcome.Success)

	// Then their delay states do not interfere
	assert.InDelta(t, 2.0, c.NextDelay("slow").Seconds(), 0.0001)
	assert.InDelta(t, 0.73, c.NextDelay("fast").Seconds(), 0.0001)
}

func TestController_SnapshotSeedRoundTrip(t *testing.T) {
	// Given a controller with recorded history
	original := testController()
	original.RecordOutcome("listSites", 120*time.Millisecond, outcome.RateLimited)
	original.RecordOutcome("listSites", 80*time.Millisecond, outcome.Success)

	// When its snapshot seeds a fresh controller
	restored := testController()
	restored.Seed(original.Snapshot())

	// Then the restored delay matches and the history carries over
	assert.Equal(t, original.NextDelay("listSites"), restored.NextDelay("listSites"))
	snapshot := restored.Snapshot()
	require.Contains(t, snapshot, "listSites")
	assert.Len(t, snapshot["listSites"].History, 2)
}

func TestController_HistoryIsBounded(t *testing.T) {
	// Given far more outcomes than the history window
	c := testController()
	for i := 0; i < historyLimit*3; i++ {
		c.RecordOutcome("listSites", 0, outcome.Success)
	}

	// Then the rolling history holds only the most recent window
	snapshot := c.Snapshot()
	assert.Len(t, snapshot["listSites"].History, historyLimit)
}

func TestController_ConcurrentClassesDoNotRace(t *testing.T) {
	// Given many goroutines hammering separate and shared classes
	c := testController()
	classes := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			class := classes[n%len(classes)]
			for j := 0; j < 200; j++ {
				c.RecordOutcome(class, time.Millisecond, outcome.Success)
				_ = c.NextDelay(class)
			}
		}(i)
	}
	wg.Wait()

	// Then every class converged to the floor without corruption
	for _, class := range classes {
		assert.InDelta(t, 0.1, c.NextDelay(class).Seconds(), 0.001)
	}
}
