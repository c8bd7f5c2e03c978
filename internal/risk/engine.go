// Package risk produces a bounded score and a categorical level from a
// vector of login signals. Scoring is deterministic: identical signal
// vectors always produce identical scores.
package risk

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Level is the categorical classification of a score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Signal weights. Additive, clamped to [0,1].
const (
	weightNewIP              = 0.3
	weightMissingFingerprint = 0.2
	weightFailureBurst       = 0.4
	weightImpossibleTravel   = 0.5
	weightOffHours           = 0.2

	failureBurstThreshold = 3
	impossibleSpeedKMH    = 900.0
)

// LoginAttempt is one entry of the recent-login history fed to Assess.
type LoginAttempt struct {
	Timestamp time.Time
	IP        string
	Success   bool
}

// Geolocation is the optional coordinate pair for travel analysis.
type Geolocation struct {
	Latitude  float64
	Longitude float64
}

// Context is the full signal vector. PreviousLogins is the only history
// the engine sees; there is no hidden state.
type Context struct {
	UserID            uuid.UUID
	TenantID          uuid.UUID
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Geolocation       *Geolocation
	// PreviousGeolocation pairs with PreviousLoginAt for travel speed.
	PreviousGeolocation *Geolocation
	PreviousLoginAt     *time.Time
	// LocalHour is the caller-resolved local hour [0,24); negative means
	// unknown and skips the off-hours signal.
	LocalHour      int
	PreviousLogins []LoginAttempt
	Timestamp      time.Time
}

// Assessment is the engine's verdict.
type Assessment struct {
	Score   float64
	Level   Level
	Signals []string
}

// Engine scores login contexts.
type Engine struct {
	log *slog.Logger
}

func NewEngine(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// Assess computes the additive score and its level.
func (e *Engine) Assess(ctx Context) Assessment {
	var score float64
	var signals []string

	if isNewIP(ctx.IP, ctx.PreviousLogins) {
		score += weightNewIP
		signals = append(signals, "new_ip")
	}

	if ctx.DeviceFingerprint == "" {
		score += weightMissingFingerprint
		signals = append(signals, "missing_fingerprint")
	}

	if recentFailures(ctx.PreviousLogins) > failureBurstThreshold {
		score += weightFailureBurst
		signals = append(signals, "failure_burst")
	}

	if impossibleTravel(ctx) {
		score += weightImpossibleTravel
		signals = append(signals, "impossible_travel")
	}

	if ctx.LocalHour >= 2 && ctx.LocalHour < 5 {
		score += weightOffHours
		signals = append(signals, "off_hours")
	}

	if score > 1 {
		score = 1
	}

	a := Assessment{Score: score, Level: ClassifyScore(score), Signals: signals}
	if a.Level == LevelHigh || a.Level == LevelCritical {
		e.log.Warn("elevated_risk_assessment",
			"user_id", ctx.UserID,
			"tenant_id", ctx.TenantID,
			"score", a.Score,
			"level", a.Level,
			"signals", a.Signals,
		)
	}
	return a
}

// ClassifyScore maps a score to its level.
func ClassifyScore(score float64) Level {
	switch {
	case score < 0.3:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// isNewIP reports whether the current IP appears in no recent successful
// login.
func isNewIP(ip string, history []LoginAttempt) bool {
	if ip == "" {
		return true
	}
	for _, attempt := range history {
		if attempt.Success && attempt.IP == ip {
			return false
		}
	}
	return true
}

func recentFailures(history []LoginAttempt) int {
	n := 0
	for _, attempt := range history {
		if !attempt.Success {
			n++
		}
	}
	return n
}

// impossibleTravel checks whether reaching the current location from the
// previous one would require exceeding 900 km/h.
func impossibleTravel(ctx Context) bool {
	if ctx.Geolocation == nil || ctx.PreviousGeolocation == nil || ctx.PreviousLoginAt == nil {
		return false
	}
	elapsed := ctx.Timestamp.Sub(*ctx.PreviousLoginAt).Hours()
	if elapsed <= 0 {
		return false
	}
	distance := haversineKM(*ctx.PreviousGeolocation, *ctx.Geolocation)
	return distance/elapsed > impossibleSpeedKMH
}

// haversineKM is the great-circle distance between two coordinates.
func haversineKM(a, b Geolocation) float64 {
	const earthRadiusKM = 6371.0
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
