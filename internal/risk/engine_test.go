package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func testEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var t0 = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

func knownContext() Context {
	// A fully benign vector: known IP, fingerprint present, no failures,
	// daytime hour.
	return Context{
		UserID:            uuid.New(),
		TenantID:          uuid.New(),
		IP:                "10.0.0.1",
		DeviceFingerprint: "fp-1",
		LocalHour:         10,
		PreviousLogins: []LoginAttempt{
			{Timestamp: t0.Add(-time.Hour), IP: "10.0.0.1", Success: true},
		},
		Timestamp: t0,
	}
}

func TestAssessBenign(t *testing.T) {
	a := testEngine().Assess(knownContext())
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Empty(t, a.Signals)
}

func TestAssessSignalSum(t *testing.T) {
	// Missing fingerprint + unseen IP + four recent failures:
	// 0.2 + 0.3 + 0.4 = 0.9 (Critical).
	ctx := knownContext()
	ctx.DeviceFingerprint = ""
	ctx.IP = "203.0.113.7"
	ctx.PreviousLogins = []LoginAttempt{
		{Timestamp: t0.Add(-4 * time.Minute), IP: "10.0.0.1", Success: false},
		{Timestamp: t0.Add(-3 * time.Minute), IP: "10.0.0.1", Success: false},
		{Timestamp: t0.Add(-2 * time.Minute), IP: "10.0.0.1", Success: false},
		{Timestamp: t0.Add(-1 * time.Minute), IP: "10.0.0.1", Success: false},
	}

	a := testEngine().Assess(ctx)
	assert.InDelta(t, 0.9, a.Score, 1e-9)
	assert.Equal(t, LevelCritical, a.Level)
	assert.ElementsMatch(t, []string{"new_ip", "missing_fingerprint", "failure_burst"}, a.Signals)
}

func TestAssessDeterministic(t *testing.T) {
	ctx := knownContext()
	ctx.DeviceFingerprint = ""
	engine := testEngine()

	first := engine.Assess(ctx)
	second := engine.Assess(ctx)
	assert.Equal(t, first, second)
}

func TestAssessClamped(t *testing.T) {
	prev := t0.Add(-30 * time.Minute)
	ctx := Context{
		IP:                  "203.0.113.7",
		DeviceFingerprint:   "",
		Geolocation:         &Geolocation{Latitude: 51.5, Longitude: -0.12},  // London
		PreviousGeolocation: &Geolocation{Latitude: 35.67, Longitude: 139.65}, // Tokyo
		PreviousLoginAt:     &prev,
		LocalHour:           3,
		PreviousLogins: []LoginAttempt{
			{IP: "10.0.0.1", Success: false},
			{IP: "10.0.0.1", Success: false},
			{IP: "10.0.0.1", Success: false},
			{IP: "10.0.0.1", Success: false},
		},
		Timestamp: t0,
	}

	a := testEngine().Assess(ctx)
	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, LevelCritical, a.Level)
	assert.Contains(t, a.Signals, "impossible_travel")
	assert.Contains(t, a.Signals, "off_hours")
}

func TestAssessMonotonic(t *testing.T) {
	// Adding a positive signal never decreases the score.
	base := knownContext()
	withSignal := base
	withSignal.DeviceFingerprint = ""

	engine := testEngine()
	assert.GreaterOrEqual(t, engine.Assess(withSignal).Score, engine.Assess(base).Score)
}

func TestImpossibleTravelRequiresInputs(t *testing.T) {
	ctx := knownContext()
	ctx.Geolocation = &Geolocation{Latitude: 51.5, Longitude: -0.12}
	// No previous location or timestamp: the optional signal is skipped.
	a := testEngine().Assess(ctx)
	assert.NotContains(t, a.Signals, "impossible_travel")
}

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelLow},
		{0.29, LevelLow},
		{0.3, LevelMedium},
		{0.59, LevelMedium},
		{0.6, LevelHigh},
		{0.79, LevelHigh},
		{0.8, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyScore(tt.score), "score %v", tt.score)
	}
}

func TestOffHoursBoundaries(t *testing.T) {
	engine := testEngine()

	at := func(hour int) float64 {
		ctx := knownContext()
		ctx.LocalHour = hour
		return engine.Assess(ctx).Score
	}

	assert.Equal(t, 0.0, at(1))
	assert.InDelta(t, 0.2, at(2), 1e-9)
	assert.InDelta(t, 0.2, at(4), 1e-9)
	assert.Equal(t, 0.0, at(5))
}
