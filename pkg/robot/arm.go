package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/actuator"
	"github.com/artisanbot/artisan/pkg/kinematics"
)

// jointCommander is the slice of the actuator controller the arm needs.
// Narrow so tests can drive an Arm with a fake.
type jointCommander interface {
	SetJointAngle(ctx context.Context, name actuator.JointName, angleDeg float64, d time.Duration) (bool, error)
	ConfirmPose(ctx context.Context, joints []actuator.JointName, tolDeg float64) (bool, error)
	Spec(name actuator.JointName) (actuator.JointSpec, bool)
	EmergencyStop()
}

// armJoints maps one side to its joint names.
type armJoints struct {
	pitch, roll, yaw, elbow, wrist actuator.JointName
	fingers, thumb                 actuator.JointName
}

func jointsFor(side kinematics.Side) armJoints {
	if side == kinematics.Right {
		return armJoints{
			pitch:   actuator.RightShoulderPitch,
			roll:    actuator.RightShoulderRoll,
			yaw:     actuator.RightShoulderYaw,
			elbow:   actuator.RightElbow,
			wrist:   actuator.RightWrist,
			fingers: actuator.RightHandFingers,
			thumb:   actuator.RightHandThumb,
		}
	}
	return armJoints{
		pitch:   actuator.LeftShoulderPitch,
		roll:    actuator.LeftShoulderRoll,
		yaw:     actuator.LeftShoulderYaw,
		elbow:   actuator.LeftElbow,
		wrist:   actuator.LeftWrist,
		fingers: actuator.LeftHandFingers,
		thumb:   actuator.LeftHandThumb,
	}
}

// Arm binds one side's joints to the kinematic solver. It satisfies the
// sequencer's motion interface.
type Arm struct {
	ctl    jointCommander
	solver *kinematics.Solver
	side   kinematics.Side
	joints armJoints
	log    *logrus.Entry
}

// NewArm builds the motion adapter for one side.
func NewArm(ctl jointCommander, solver *kinematics.Solver, side kinematics.Side, log *logrus.Entry) *Arm {
	if log == nil {
		log = logrus.WithField("arm", side)
	}
	return &Arm{
		ctl:    ctl,
		solver: solver,
		side:   side,
		joints: jointsFor(side),
		log:    log,
	}
}

// Side returns which arm this is.
func (a *Arm) Side() kinematics.Side { return a.side }

// MoveTo solves the target and commands every arm joint over the duration.
// Unreachable targets fail before any joint moves.
func (a *Arm) MoveTo(ctx context.Context, target kinematics.Point, d time.Duration) error {
	sol, err := a.solver.Solve(target, a.side)
	if err != nil {
		return fmt.Errorf("move %s arm: %w", a.side, err)
	}
	if sol.Approximate {
		a.log.WithField("target", target).Warn("target approximated at joint limits")
	}
	return a.command(ctx, sol.Angles, d)
}

func (a *Arm) command(ctx context.Context, angles kinematics.JointAngles, d time.Duration) error {
	for _, jc := range []struct {
		name  actuator.JointName
		angle float64
	}{
		{a.joints.pitch, angles.ShoulderPitch},
		{a.joints.roll, angles.ShoulderRoll},
		{a.joints.yaw, angles.ShoulderYaw},
		{a.joints.elbow, angles.Elbow},
		{a.joints.wrist, angles.Wrist},
	} {
		if _, err := a.ctl.SetJointAngle(ctx, jc.name, jc.angle, d); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmArrival checks position feedback on the arm joints against the last
// commanded pose.
func (a *Arm) ConfirmArrival(ctx context.Context, tolDeg float64) (bool, error) {
	names := []actuator.JointName{
		a.joints.pitch, a.joints.roll, a.joints.yaw, a.joints.elbow, a.joints.wrist,
	}
	return a.ctl.ConfirmPose(ctx, names, tolDeg)
}

// SetGripper drives fingers and thumb to a closure fraction: 0 fully open,
// 1 fully closed against the joint limits.
func (a *Arm) SetGripper(ctx context.Context, closure float64, d time.Duration) error {
	if closure < 0 {
		closure = 0
	} else if closure > 1 {
		closure = 1
	}
	for _, name := range []actuator.JointName{a.joints.fingers, a.joints.thumb} {
		spec, ok := a.ctl.Spec(name)
		if !ok {
			return fmt.Errorf("gripper joint %s not configured", name)
		}
		angle := spec.MinAngle + closure*(spec.MaxAngle-spec.MinAngle)
		if _, err := a.ctl.SetJointAngle(ctx, name, angle, d); err != nil {
			return err
		}
	}
	return nil
}

// Neutral returns every arm joint to its configured neutral angle.
func (a *Arm) Neutral(ctx context.Context, d time.Duration) error {
	names := []actuator.JointName{
		a.joints.pitch, a.joints.roll, a.joints.yaw, a.joints.elbow, a.joints.wrist,
		a.joints.fingers, a.joints.thumb,
	}
	for _, name := range names {
		spec, ok := a.ctl.Spec(name)
		if !ok {
			continue
		}
		if _, err := a.ctl.SetJointAngle(ctx, name, spec.Neutral, d); err != nil {
			return err
		}
	}
	return nil
}

// EmergencyStop neutralizes the whole actuation system, not just this arm.
func (a *Arm) EmergencyStop() {
	a.ctl.EmergencyStop()
}
