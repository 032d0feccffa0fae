// Package analysis computes per-pitch metrics from a finished pitch's
// observation list; writing them into the pitch manifest is left to the
// recording package. It has no feedback path into capture or recording: it
// only reads PitchEndEvent.
package analysis

import (
	"math"

	"pitchtracker/internal/eventbus"
)

// Metrics is the pitch_NNN/manifest.json "analysis" object.
type Metrics struct {
	SpeedMph            float64 `json:"speed_mph"`
	HorizontalBreakFt    float64 `json:"horizontal_break_ft"`
	VerticalBreakFt      float64 `json:"vertical_break_ft"`
	TrajectoryRMSEFt     float64 `json:"trajectory_rmse_ft"`
	InlierRatio          float64 `json:"inlier_ratio"`
	ObservationCount      int     `json:"observation_count"`
}

// ftPerSecToMph converts feet-per-second to miles per hour (1 mph = 1.46667 ft/s).
const ftPerSecToMph = 1 / 1.466667

// inlierResidualFt bounds how far an observation may fall from the fitted
// straight-line trajectory and still count as an inlier, for inlier_ratio.
const inlierResidualFt = 0.5

// Compute derives Metrics from a finished pitch's observation list.
// Observations must be ordered by t_ref_ns (guaranteed by the pitch state
// machine/pairer).
func Compute(observations []eventbus.StereoObservationRecord) Metrics {
	n := len(observations)
	if n < 2 {
		return Metrics{ObservationCount: n}
	}

	first, last := observations[0], observations[n-1]
	dt := float64(last.TRefNs-first.TRefNs) / 1e9

	speedFtPerSec := 0.0
	if dt > 0 {
		speedFtPerSec = distance(first.XYZFt, last.XYZFt) / dt
	}

	fitted := fitLine(observations)
	rmse, inliers := residuals(observations, fitted)

	return Metrics{
		SpeedMph:          speedFtPerSec * ftPerSecToMph,
		HorizontalBreakFt: horizontalBreak(observations, fitted),
		VerticalBreakFt:   verticalBreak(observations, fitted),
		TrajectoryRMSEFt:  rmse,
		InlierRatio:       float64(inliers) / float64(n),
		ObservationCount:  n,
	}
}

// linearFit is a least-squares fit of X and Y as linear functions of Z,
// the pitch's primary axis of travel (depth from the rig toward the
// plate).
type linearFit struct {
	xSlope, xIntercept float64
	ySlope, yIntercept float64
}

func fitLine(obs []eventbus.StereoObservationRecord) linearFit {
	n := float64(len(obs))
	var sumZ, sumX, sumY, sumZZ, sumZX, sumZY float64
	for _, o := range obs {
		z, x, y := o.XYZFt[2], o.XYZFt[0], o.XYZFt[1]
		sumZ += z
		sumX += x
		sumY += y
		sumZZ += z * z
		sumZX += z * x
		sumZY += z * y
	}
	denom := n*sumZZ - sumZ*sumZ
	if denom == 0 {
		return linearFit{xIntercept: sumX / n, yIntercept: sumY / n}
	}
	xSlope := (n*sumZX - sumZ*sumX) / denom
	ySlope := (n*sumZY - sumZ*sumY) / denom
	return linearFit{
		xSlope:     xSlope,
		xIntercept: (sumX - xSlope*sumZ) / n,
		ySlope:     ySlope,
		yIntercept: (sumY - ySlope*sumZ) / n,
	}
}

func (f linearFit) predict(z float64) (x, y float64) {
	return f.xSlope*z + f.xIntercept, f.ySlope*z + f.yIntercept
}

func residuals(obs []eventbus.StereoObservationRecord, fit linearFit) (rmse float64, inliers int) {
	var sumSq float64
	for _, o := range obs {
		px, py := fit.predict(o.XYZFt[2])
		dx, dy := o.XYZFt[0]-px, o.XYZFt[1]-py
		r := math.Hypot(dx, dy)
		sumSq += r * r
		if r <= inlierResidualFt {
			inliers++
		}
	}
	return math.Sqrt(sumSq / float64(len(obs))), inliers
}

// horizontalBreak/verticalBreak report how far the actual trajectory
// deviates from the least-squares straight-line fit of X and Y against Z,
// at the point of maximum deviation — the conventional "pitch break"
// metric (gravity and spin-induced movement relative to a no-spin path).
func horizontalBreak(obs []eventbus.StereoObservationRecord, fit linearFit) float64 {
	return maxDeviation(obs, fit, 0)
}

func verticalBreak(obs []eventbus.StereoObservationRecord, fit linearFit) float64 {
	return maxDeviation(obs, fit, 1)
}

func maxDeviation(obs []eventbus.StereoObservationRecord, fit linearFit, axis int) float64 {
	var maxAbs, signed float64
	for _, o := range obs {
		px, py := fit.predict(o.XYZFt[2])
		pred := [2]float64{px, py}
		actual := o.XYZFt[axis]
		dev := actual - pred[axis]
		if math.Abs(dev) > maxAbs {
			maxAbs = math.Abs(dev)
			signed = dev
		}
	}
	return signed
}

func distance(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
