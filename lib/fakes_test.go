package lib

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var errSensor = errors.New("sensor unplugged")

// fakeLight returns readings in order, repeating the last one.
type fakeLight struct {
	mu       sync.Mutex
	readings []float64
	calls    int
	failAt   int // 1-based call that fails, 0 never
}

func (f *fakeLight) ReadAmbientLight() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		return 0, errSensor
	}
	if len(f.readings) == 0 {
		return 0, nil
	}
	i := min(f.calls-1, len(f.readings)-1)
	return f.readings[i], nil
}

func (f *fakeLight) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = []float64{v}
	f.calls = 0
}

// fakeDistance returns a fixed distance, optionally keyed by the last aimed
// scan angle.
type fakeDistance struct {
	mu       sync.Mutex
	value    float64
	byAngle  map[float64]float64
	actuator *fakeActuator
	err      error
	calls    int
}

func (f *fakeDistance) ReadDistance() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if f.actuator != nil && f.byAngle != nil {
		if v, ok := f.byAngle[f.actuator.lastAngle()]; ok {
			return v, nil
		}
	}
	return f.value, nil
}

func (f *fakeDistance) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

type angleCall struct {
	angle, speed float64
	wait         bool
}

// fakeActuator records every command.
type fakeActuator struct {
	mu       sync.Mutex
	speeds   map[MotorID]float64
	history  []map[MotorID]float64
	angles   []angleCall
	speedErr error
	delay    time.Duration // per speed command
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{speeds: map[MotorID]float64{}}
}

func (f *fakeActuator) SetMotorSpeed(id MotorID, speed float64) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speedErr != nil {
		return f.speedErr
	}
	f.speeds[id] = speed
	if id == MotorRight {
		f.history = append(f.history, map[MotorID]float64{
			MotorLeft:  f.speeds[MotorLeft],
			MotorRight: f.speeds[MotorRight],
		})
	}
	return nil
}

func (f *fakeActuator) RunMotorToAngle(id MotorID, angle, speed float64, wait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != MotorScan {
		return errors.New("not a scan motor")
	}
	f.angles = append(f.angles, angleCall{angle: angle, speed: speed, wait: wait})
	return nil
}

func (f *fakeActuator) wheels() (left, right float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speeds[MotorLeft], f.speeds[MotorRight]
}

func (f *fakeActuator) lastAngle() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.angles) == 0 {
		return 0
	}
	return f.angles[len(f.angles)-1].angle
}

// recordTelemetry keeps everything it is given.
type recordTelemetry struct {
	mu       sync.Mutex
	params   [][]string
	values   [][]any
	messages []string
}

func (r *recordTelemetry) LogParams(names []string, values []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, names)
	r.values = append(r.values, values)
}

func (r *recordTelemetry) Print(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordTelemetry) messageList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recordTelemetry) paramCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.params)
}

// fakePort is an in-memory serial port. Reads are served from replies.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies *bytes.Buffer
	closed  bool
}

func newFakePort(replies string) *fakePort {
	return &fakePort{replies: bytes.NewBufferString(replies)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replies.Len() == 0 {
		return 0, io.EOF
	}
	return p.replies.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}
