package lib

import "fmt"

// MotorID names one of the robot's three motors.
type MotorID int

const (
	MotorLeft MotorID = iota
	MotorRight
	MotorScan
)

func (m MotorID) String() string {
	switch m {
	case MotorLeft:
		return "LEFT"
	case MotorRight:
		return "RIGHT"
	case MotorScan:
		return "SCAN"
	default:
		return fmt.Sprintf("MotorID(%d)", int(m))
	}
}

// Actuator drives the wheel motors and the scan motor.
//
// Speeds are in controller units (degrees per second on an EV3
// drivetrain); angles are in degrees relative to the zeroed scan position.
type Actuator interface {
	SetMotorSpeed(id MotorID, speed float64) error
	RunMotorToAngle(id MotorID, angle, speed float64, wait bool) error
}

// LightSensor returns the ambient light level seen by the downward sensor, in
// percent.
type LightSensor interface {
	ReadAmbientLight() (float64, error)
}

// DistanceSensor returns the forward distance in millimetres.
type DistanceSensor interface {
	ReadDistance() (float64, error)
}

// Telemetry streams named parameters and console messages to a remote logger.
// Delivery is best effort and never reported back to the caller.
type Telemetry interface {
	LogParams(names []string, values []any)
	Print(message string)
}

// Direction is a lateral direction relative to the robot's heading.
type Direction string

const (
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

// Sign returns -1 for Left and +1 for Right, matching lane index order.
func (d Direction) Sign() int {
	if d == Left {
		return -1
	}
	return 1
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Left || d == Right
}
