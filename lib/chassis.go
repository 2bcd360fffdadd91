package lib

import (
	"fmt"
	"math"
)

// ChassisConfig maps controller speeds onto the drivetrain.
type ChassisConfig struct {
	// SpeedScale converts controller units into wheel mm/s.
	SpeedScale float64 `yaml:"speed_scale"`
}

// DefaultChassisConfig maps the 800 unit top profile onto 400 mm/s.
func DefaultChassisConfig() ChassisConfig {
	return ChassisConfig{SpeedScale: 0.5}
}

// wheelDriver is the part of Roomba the chassis drives.
type wheelDriver interface {
	SetWheelSpeed(motor MotorID, velocity int16) error
	Stop() error
}

// servoDriver is the part of SensorHead the chassis drives.
type servoDriver interface {
	MoveTo(angle, speed float64, wait bool) error
}

// Chassis is the Actuator combining the wheel base and the scan servo.
type Chassis struct {
	config ChassisConfig
	wheels wheelDriver
	servo  servoDriver
}

// NewChassis creates a chassis over a wheel base and a scan servo.
func NewChassis(config ChassisConfig, wheels wheelDriver, servo servoDriver) (*Chassis, error) {
	if config.SpeedScale <= 0 {
		return nil, fmt.Errorf("speed_scale must be > 0, got %v", config.SpeedScale)
	}
	return &Chassis{config: config, wheels: wheels, servo: servo}, nil
}

// SetMotorSpeed implements Actuator.
func (c *Chassis) SetMotorSpeed(id MotorID, speed float64) error {
	switch id {
	case MotorLeft, MotorRight:
		v := math.Round(speed * c.config.SpeedScale)
		v = clamp(v, -float64(MaxWheelSpeed), float64(MaxWheelSpeed))
		return c.wheels.SetWheelSpeed(id, int16(v))
	default:
		return fmt.Errorf("motor %s does not support speed control", id)
	}
}

// RunMotorToAngle implements Actuator.
func (c *Chassis) RunMotorToAngle(id MotorID, angle, speed float64, wait bool) error {
	if id != MotorScan {
		return fmt.Errorf("motor %s does not support angle control", id)
	}
	return c.servo.MoveTo(angle, speed, wait)
}

// Stop halts the wheels.
func (c *Chassis) Stop() error {
	return c.wheels.Stop()
}
