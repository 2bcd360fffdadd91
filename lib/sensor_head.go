package lib

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SensorHead talks to the microcontroller carrying the scan servo and the
// ultrasonic sensor. Every request is one ASCII line and is answered by one
// line: "OK", a number, or "ERR <reason>".
//
//	ZERO                      reset the scan angle to the current position
//	MOVE <angle> <speed> <w>  aim the servo; w=1 replies once it has arrived
//	DIST                      distance in mm
//	LIGHT                     reflected light in percent
//
// MOVE is always sent with w=0. The port is shared by every loop, so waiting
// for the servo happens off the line.
type SensorHead struct {
	Options PortOptions

	mu     sync.Mutex
	port   serialPorter
	reader *bufio.Reader
	clock  Clock
	angle  float64 // last commanded scan angle
}

// NewSensorHead creates a sensor head on the given serial options.
func NewSensorHead(opts PortOptions) *SensorHead {
	return &SensorHead{Options: opts, clock: RealClock{}}
}

// newSensorHeadOnPort wraps an already open port.
func newSensorHeadOnPort(port serialPorter, clock Clock) *SensorHead {
	return &SensorHead{port: port, reader: bufio.NewReader(port), clock: clock}
}

// Connect opens the serial port and zeroes the scan angle.
func (h *SensorHead) Connect() error {
	port, err := openSerial(h.Options)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.port = port
	h.reader = bufio.NewReader(port)
	h.mu.Unlock()

	return h.Zero()
}

// Close closes the serial port.
func (h *SensorHead) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port != nil {
		return h.port.Close()
	}
	return nil
}

func (h *SensorHead) request(command string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roundTrip(command)
}

// roundTrip sends command and reads its reply. h.mu must be held.
func (h *SensorHead) roundTrip(command string) (string, error) {
	if h.port == nil {
		return "", fmt.Errorf("sensor head is not connected")
	}
	if _, err := h.port.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("writing %q: %w", command, err)
	}
	line, err := h.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply to %q: %w", command, err)
	}
	line = strings.TrimSpace(line)
	if reason, ok := strings.CutPrefix(line, "ERR"); ok {
		return "", fmt.Errorf("sensor head rejected %q: %s", command, strings.TrimSpace(reason))
	}
	return line, nil
}

func (h *SensorHead) expectOK(command string) error {
	return checkOK(command, h.request)
}

func checkOK(command string, send func(string) (string, error)) error {
	reply, err := send(command)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("unexpected reply to %q: %q", command, reply)
	}
	return nil
}

func (h *SensorHead) number(command string) (float64, error) {
	reply, err := h.request(command)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reply to %q: %w", command, err)
	}
	return v, nil
}

// Zero makes the current servo position angle 0.
func (h *SensorHead) Zero() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkOK("ZERO", h.roundTrip); err != nil {
		return err
	}
	h.angle = 0
	return nil
}

// MoveTo aims the servo at angle degrees at speed degrees per second. With
// wait set the call returns once the servo should have arrived, judged from
// the travel from the last commanded angle. Other requests are served while
// it waits.
func (h *SensorHead) MoveTo(angle, speed float64, wait bool) error {
	if speed <= 0 {
		return fmt.Errorf("servo speed must be > 0, got %v", speed)
	}

	h.mu.Lock()
	from := h.angle
	err := checkOK(fmt.Sprintf("MOVE %s %s 0", formatFloat(angle), formatFloat(speed)), h.roundTrip)
	if err == nil {
		h.angle = angle
	}
	clock := h.clock
	h.mu.Unlock()
	if err != nil {
		return err
	}

	if travel := travelTime(angle-from, speed); wait && travel > 0 {
		<-clock.After(travel)
	}
	return nil
}

// travelTime is how long the servo takes to turn delta degrees.
func travelTime(delta, speed float64) time.Duration {
	return time.Duration(math.Abs(delta) / speed * float64(time.Second))
}

// ReadDistance implements DistanceSensor.
func (h *SensorHead) ReadDistance() (float64, error) {
	return h.number("DIST")
}

// ReadAmbientLight implements LightSensor using the head's own light sensor.
func (h *SensorHead) ReadAmbientLight() (float64, error) {
	return h.number("LIGHT")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
