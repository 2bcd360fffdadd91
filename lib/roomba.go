package lib

import (
	"fmt"
	"sync"
	"time"
)

const (
	StraightRadius int16 = 32767
	MaxWheelSpeed  int16 = 500 // mm/s
)

type RoombaCommands struct {
	CmdStart       byte
	CmdSafe        byte
	CmdDrive       byte
	CmdDriveDirect byte
}

type Roomba struct {
	Options PortOptions
	Cmds    RoombaCommands

	// CommandDelay is the pause after mode commands.
	CommandDelay time.Duration

	mu     sync.Mutex
	port   serialPorter
	wheels [2]int16 // left, right in mm/s
}

func NewRoomba(opts PortOptions) *Roomba {
	return &Roomba{
		Options:      opts,
		CommandDelay: 100 * time.Millisecond,
		Cmds: RoombaCommands{
			CmdStart:       128, // Start command
			CmdSafe:        131, // Safe mode
			CmdDrive:       137, // Control wheels
			CmdDriveDirect: 145, // Control each wheel
		},
	}
}

// newRoombaOnPort wraps an already open port.
func newRoombaOnPort(port serialPorter) *Roomba {
	r := NewRoomba(PortOptions{})
	r.port = port
	r.CommandDelay = 0
	return r
}

func (r *Roomba) Connect() error {
	port, err := openSerial(r.Options)
	if err != nil {
		return err
	}

	// Reset the Roomba by toggling RTS (if supported)
	// Note: This may not work on all serial adapters
	port.SetRTS(false)
	time.Sleep(100 * time.Millisecond)
	port.SetRTS(true)
	time.Sleep(2 * time.Second)

	r.mu.Lock()
	r.port = port
	r.mu.Unlock()
	return nil
}

func (r *Roomba) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port != nil {
		return r.port.Close()
	}
	return nil
}

func (r *Roomba) write(command []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return fmt.Errorf("roomba is not connected")
	}
	_, err := r.port.Write(command)
	return err
}

func (r *Roomba) sendCommand(cmd byte) error {
	err := r.write([]byte{cmd})
	time.Sleep(r.CommandDelay) // Give the Roomba time to process
	return err
}

func (r *Roomba) Start() error {
	return r.sendCommand(r.Cmds.CmdStart)
}

func (r *Roomba) SafeMode() error {
	return r.sendCommand(r.Cmds.CmdSafe)
}

// Drive controls the Roomba's movement
// velocity: -500 to 500 mm/s
// radius: -2000 to 2000 mm, special cases: 32767=straight, 1=counterclockwise, -1=clockwise
func (r *Roomba) Drive(velocity int16, radius int16) error {
	command := []byte{
		r.Cmds.CmdDrive,
		byte(velocity >> 8),   // Velocity high byte
		byte(velocity & 0xFF), // Velocity low byte
		byte(radius >> 8),     // Radius high byte
		byte(radius & 0xFF),   // Radius low byte
	}
	return r.write(command)
}

// DriveDirect sets each wheel's velocity in mm/s, clamped to ±500.
func (r *Roomba) DriveDirect(right, left int16) error {
	right, left = clampWheel(right), clampWheel(left)
	command := []byte{
		r.Cmds.CmdDriveDirect,
		byte(right >> 8), // Right velocity high byte
		byte(right & 0xFF),
		byte(left >> 8), // Left velocity high byte
		byte(left & 0xFF),
	}
	return r.write(command)
}

// SetWheelSpeed updates one wheel and resends both velocities.
func (r *Roomba) SetWheelSpeed(motor MotorID, velocity int16) error {
	r.mu.Lock()
	switch motor {
	case MotorLeft:
		r.wheels[0] = clampWheel(velocity)
	case MotorRight:
		r.wheels[1] = clampWheel(velocity)
	default:
		r.mu.Unlock()
		return fmt.Errorf("roomba has no %s motor", motor)
	}
	left, right := r.wheels[0], r.wheels[1]
	r.mu.Unlock()

	return r.DriveDirect(right, left)
}

func (r *Roomba) Stop() error {
	r.mu.Lock()
	r.wheels = [2]int16{}
	r.mu.Unlock()
	return r.Drive(0, 0)
}

func clampWheel(v int16) int16 {
	if v > MaxWheelSpeed {
		return MaxWheelSpeed
	}
	if v < -MaxWheelSpeed {
		return -MaxWheelSpeed
	}
	return v
}
