// Package kinematics implements closed-form forward and inverse kinematics
// for the robot's 5-DOF arms. The solver is geometric: shoulder yaw from the
// transverse-plane projection, elbow from the law of cosines in the sagittal
// plane. Interfaces speak degrees; the math runs in radians.
package kinematics

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnreachable reports a target outside the arm's kinematic envelope or
// with no valid triangle solution.
var ErrUnreachable = errors.New("target unreachable")

// Side selects which arm a solution is for. The right arm mirrors shoulder
// yaw.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Point is a position in meters, in the arm-base frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Range is an inclusive angular limit in degrees.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) clamp(v float64) (float64, float64) {
	switch {
	case v < r.Min:
		return r.Min, r.Min - v
	case v > r.Max:
		return r.Max, v - r.Max
	}
	return v, 0
}

// JointAngles is one arm pose in degrees. Elbow is flexion from the straight
// arm: 0 fully extended.
type JointAngles struct {
	ShoulderPitch float64
	ShoulderRoll  float64
	ShoulderYaw   float64
	Elbow         float64
	Wrist         float64
}

// Limits holds per-joint angular limits for one arm side.
type Limits struct {
	ShoulderPitch Range `json:"shoulder_pitch"`
	ShoulderRoll  Range `json:"shoulder_roll"`
	ShoulderYaw   Range `json:"shoulder_yaw"`
	Elbow         Range `json:"elbow"`
	Wrist         Range `json:"wrist"`
}

// Geometry describes one arm: link lengths in meters plus joint limits.
// Immutable; left and right are mirrored instances sharing the same values.
type Geometry struct {
	ShoulderOffset float64 `json:"shoulder_offset"`
	UpperArm       float64 `json:"upper_arm"`
	Forearm        float64 `json:"forearm"`
	Hand           float64 `json:"hand"`
	Limits         Limits  `json:"limits"`
}

// DefaultGeometry returns the stock arm dimensions and limits.
func DefaultGeometry() Geometry {
	return Geometry{
		ShoulderOffset: 0.05,
		UpperArm:       0.25,
		Forearm:        0.20,
		Hand:           0.10,
		Limits: Limits{
			ShoulderPitch: Range{Min: -90, Max: 180},
			ShoulderRoll:  Range{Min: -90, Max: 90},
			ShoulderYaw:   Range{Min: -90, Max: 90},
			Elbow:         Range{Min: 0, Max: 150},
			Wrist:         Range{Min: -90, Max: 90},
		},
	}
}

// MaxReach is the fully extended arm length.
func (g Geometry) MaxReach() float64 {
	return g.UpperArm + g.Forearm + g.Hand
}

// Validate rejects degenerate geometries at startup.
func (g Geometry) Validate() error {
	if g.UpperArm <= 0 || g.Forearm <= 0 || g.Hand < 0 {
		return fmt.Errorf("invalid link lengths: upper=%v forearm=%v hand=%v", g.UpperArm, g.Forearm, g.Hand)
	}
	for name, r := range map[string]Range{
		"shoulder_pitch": g.Limits.ShoulderPitch,
		"shoulder_roll":  g.Limits.ShoulderRoll,
		"shoulder_yaw":   g.Limits.ShoulderYaw,
		"elbow":          g.Limits.Elbow,
		"wrist":          g.Limits.Wrist,
	} {
		if r.Min > r.Max {
			return fmt.Errorf("invalid %s limits: min %v > max %v", name, r.Min, r.Max)
		}
	}
	return nil
}

// Solution is a solved arm pose. Approximate is set when a joint had to be
// clamped by more than the solver tolerance; the pose is still usable, the
// caller decides whether to proceed.
type Solution struct {
	Angles      JointAngles
	Approximate bool
}

// Solver solves arm poses for a fixed geometry.
type Solver struct {
	geo Geometry

	// cosTolerance forgives law-of-cosines results slightly past ±1 before
	// declaring the triangle invalid.
	cosTolerance float64

	// clampTolerance is how many degrees of limit clamping a solution
	// absorbs before it is flagged approximate.
	clampTolerance float64
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithClampTolerance sets the clamp allowance in degrees before a solution
// is flagged approximate.
func WithClampTolerance(deg float64) SolverOption {
	return func(s *Solver) { s.clampTolerance = deg }
}

// NewSolver builds a solver for one arm geometry.
func NewSolver(geo Geometry, opts ...SolverOption) *Solver {
	s := &Solver{
		geo:            geo,
		cosTolerance:   1e-9,
		clampTolerance: 0.5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Geometry returns the solver's arm geometry.
func (s *Solver) Geometry() Geometry { return s.geo }

// Forward computes the hand position for a pose. The side mirrors shoulder
// yaw the same way Solve does, so Forward(Solve(p)) reproduces p.
func (s *Solver) Forward(a JointAngles, side Side) Point {
	sp := rad(a.ShoulderPitch)
	sr := rad(a.ShoulderRoll)
	sy := rad(a.ShoulderYaw)
	if side == Right {
		sy = -sy
	}
	// Elbow flexion folds the forearm back from the straight arm.
	fore := sr - rad(a.Elbow)

	l2 := s.geo.Forearm + s.geo.Hand
	reach := (s.geo.UpperArm*math.Cos(sr) + l2*math.Cos(fore)) * math.Cos(sp)
	height := s.geo.UpperArm*math.Sin(sr) + l2*math.Sin(fore)

	return Point{
		X: reach * math.Cos(sy),
		Y: reach * math.Sin(sy),
		Z: height,
	}
}

// Solve computes joint angles that place the hand at the target point.
// It fails with ErrUnreachable when the target lies outside the envelope or
// the sagittal triangle has no solution. Angles beyond joint limits are
// clamped; clamping past the solver tolerance flags the solution approximate
// instead of failing, since a near miss is still a safe pose.
func (s *Solver) Solve(target Point, side Side) (Solution, error) {
	dist := math.Sqrt(target.X*target.X + target.Y*target.Y + target.Z*target.Z)
	if dist > s.geo.MaxReach() {
		return Solution{}, fmt.Errorf("%w: distance %.3fm exceeds reach %.3fm", ErrUnreachable, dist, s.geo.MaxReach())
	}

	l1 := s.geo.UpperArm
	l2 := s.geo.Forearm + s.geo.Hand
	minReach := math.Abs(l1 - l2)
	if dist < minReach {
		return Solution{}, fmt.Errorf("%w: distance %.3fm below minimum reach %.3fm", ErrUnreachable, dist, minReach)
	}

	yaw := deg(math.Atan2(target.Y, target.X))
	if side == Right {
		yaw = -yaw
	}

	horizontal := math.Hypot(target.X, target.Y)
	r := math.Hypot(horizontal, target.Z)
	if r > l1+l2 || r < minReach {
		return Solution{}, fmt.Errorf("%w: no sagittal-plane solution at %.3fm", ErrUnreachable, r)
	}

	cosElbow := (l1*l1 + l2*l2 - r*r) / (2 * l1 * l2)
	cosElbow, err := clampCosine(cosElbow, s.cosTolerance)
	if err != nil {
		return Solution{}, err
	}
	// Interior elbow angle to flexion-from-straight.
	elbow := 180 - deg(math.Acos(cosElbow))

	alpha := math.Atan2(target.Z, horizontal)
	cosBeta := (l1*l1 + r*r - l2*l2) / (2 * l1 * r)
	cosBeta, err = clampCosine(cosBeta, s.cosTolerance)
	if err != nil {
		return Solution{}, err
	}
	roll := deg(alpha + math.Acos(cosBeta))

	angles := JointAngles{
		ShoulderPitch: 0,
		ShoulderRoll:  roll,
		ShoulderYaw:   yaw,
		Elbow:         elbow,
		Wrist:         0,
	}
	return s.clampToLimits(angles), nil
}

// SolveWithOrientation solves for a hand approaching at the given angle in
// the sagittal plane (0 = horizontal), pointing the wrist along the approach.
func (s *Solver) SolveWithOrientation(target Point, side Side, approachDeg float64) (Solution, error) {
	ar := rad(approachDeg)
	adjusted := Point{
		X: target.X - s.geo.Hand*math.Cos(ar),
		Y: target.Y,
		Z: target.Z - s.geo.Hand*math.Sin(ar),
	}
	sol, err := s.Solve(adjusted, side)
	if err != nil {
		return Solution{}, err
	}
	wrist, over := s.geo.Limits.Wrist.clamp(approachDeg)
	sol.Angles.Wrist = wrist
	if over > s.clampTolerance {
		sol.Approximate = true
	}
	return sol, nil
}

func (s *Solver) clampToLimits(a JointAngles) Solution {
	var worst float64
	var over float64

	a.ShoulderPitch, over = s.geo.Limits.ShoulderPitch.clamp(a.ShoulderPitch)
	worst = math.Max(worst, over)
	a.ShoulderRoll, over = s.geo.Limits.ShoulderRoll.clamp(a.ShoulderRoll)
	worst = math.Max(worst, over)
	a.ShoulderYaw, over = s.geo.Limits.ShoulderYaw.clamp(a.ShoulderYaw)
	worst = math.Max(worst, over)
	a.Elbow, over = s.geo.Limits.Elbow.clamp(a.Elbow)
	worst = math.Max(worst, over)
	a.Wrist, over = s.geo.Limits.Wrist.clamp(a.Wrist)
	worst = math.Max(worst, over)

	return Solution{Angles: a, Approximate: worst > s.clampTolerance}
}

func clampCosine(v, tol float64) (float64, error) {
	if v > 1+tol || v < -1-tol {
		return 0, fmt.Errorf("%w: degenerate triangle (cos %.6f)", ErrUnreachable, v)
	}
	return math.Max(-1, math.Min(1, v)), nil
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
