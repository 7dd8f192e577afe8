// Package geofence decides whether a reported position counts as "at the school".
package geofence

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusMeters = 6371000

// DefaultWeakSignalMeters is the accuracy above which a fix is flagged as weak.
const DefaultWeakSignalMeters = 100

// ErrInvalidRadius is returned for a fence whose radius is not positive.
var ErrInvalidRadius = errors.New("geofence radius must be positive")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fix is a single position report. Accuracy is the reported radius of
// uncertainty in meters; zero means unknown.
type Fix struct {
	Point
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Fence is a circle around the school.
type Fence struct {
	Center Point   `json:"center"`
	Radius float64 `json:"radius"`
}

// Validate checks the fence can be evaluated against.
func (f Fence) Validate() error {
	if !(f.Radius > 0) {
		return ErrInvalidRadius
	}
	return nil
}

// Evaluation is the outcome of checking one fix against a fence.
type Evaluation struct {
	DistanceMeters float64 `json:"distanceMeters"`
	InRange        bool    `json:"inRange"`
	Radius         float64 `json:"radius"`
	Accuracy       float64 `json:"accuracy,omitempty"`
	WeakSignal     bool    `json:"weakSignal"`
}

// Distance returns the great-circle distance in meters using the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// Evaluator checks fixes against a fence.
type Evaluator struct {
	WeakSignalMeters float64
}

// NewEvaluator returns an evaluator flagging fixes whose accuracy is worse than
// weakSignalMeters. A non-positive threshold uses DefaultWeakSignalMeters.
func NewEvaluator(weakSignalMeters float64) Evaluator {
	if weakSignalMeters <= 0 {
		weakSignalMeters = DefaultWeakSignalMeters
	}
	return Evaluator{WeakSignalMeters: weakSignalMeters}
}

// Evaluate measures the fix against the fence. The boundary counts as inside.
// A weak signal is reported but still evaluated.
func (e Evaluator) Evaluate(fix Fix, fence Fence) Evaluation {
	threshold := e.WeakSignalMeters
	if threshold <= 0 {
		threshold = DefaultWeakSignalMeters
	}
	d := Distance(fix.Point, fence.Center)
	return Evaluation{
		DistanceMeters: d,
		InRange:        d <= fence.Radius,
		Radius:         fence.Radius,
		Accuracy:       fix.Accuracy,
		WeakSignal:     fix.Accuracy > threshold,
	}
}

// Evaluate uses the default weak-signal threshold.
func Evaluate(fix Fix, fence Fence) Evaluation {
	return NewEvaluator(DefaultWeakSignalMeters).Evaluate(fix, fence)
}

// Describe renders an evaluation for the person holding the device.
func (ev Evaluation) Describe() string {
	if ev.InRange {
		msg := fmt.Sprintf("Inside the school area (%dm from the centre).", int(math.Round(ev.DistanceMeters)))
		if ev.WeakSignal {
			msg += fmt.Sprintf(" GPS signal is weak (±%dm).", int(math.Round(ev.Accuracy)))
		}
		return msg
	}
	return fmt.Sprintf("You are %dm from the school. You must be within %dm.",
		int(math.Round(ev.DistanceMeters)), int(math.Round(ev.Radius)))
}

// ErrorKind classifies why no position could be obtained.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	Unavailable
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case Unavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// PositionError means the geofence could not be evaluated at all.
type PositionError struct {
	Kind ErrorKind
}

func (e *PositionError) Error() string {
	switch e.Kind {
	case PermissionDenied:
		return "Location permission was denied. Allow location access for this app and try again."
	case Unavailable:
		return "Location signal is unavailable. Move to an open area or enable GPS and try again."
	case Timeout:
		return "Timed out waiting for a location fix. Please try again."
	}
	return "Location could not be determined."
}

// ParsePositionErrorCode maps W3C geolocation codes (1, 2, 3) and their names to a
// PositionError.
func ParsePositionErrorCode(code string) (*PositionError, error) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "1", "permission_denied", "permission-denied":
		return &PositionError{Kind: PermissionDenied}, nil
	case "2", "position_unavailable", "unavailable":
		return &PositionError{Kind: Unavailable}, nil
	case "3", "timeout":
		return &PositionError{Kind: Timeout}, nil
	}
	if _, err := strconv.Atoi(code); err == nil {
		return nil, fmt.Errorf("unknown position error code %s", code)
	}
	return nil, fmt.Errorf("unknown position error %q", code)
}
