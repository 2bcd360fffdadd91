package lib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorHead_ReadDistance(t *testing.T) {
	port := newFakePort("412.5\n")
	h := newSensorHeadOnPort(port, RealClock{})

	d, err := h.ReadDistance()
	require.NoError(t, err)
	assert.Equal(t, 412.5, d)
	assert.Equal(t, "DIST\n", string(port.bytes()))
}

func TestSensorHead_ReadAmbientLight(t *testing.T) {
	port := newFakePort(" 27 \r\n")
	h := newSensorHeadOnPort(port, RealClock{})

	v, err := h.ReadAmbientLight()
	require.NoError(t, err)
	assert.Equal(t, 27.0, v)
	assert.Equal(t, "LIGHT\n", string(port.bytes()))
}

func TestSensorHead_MoveTo(t *testing.T) {
	port := newFakePort("OK\nOK\n")
	h := newSensorHeadOnPort(port, RealClock{})

	require.NoError(t, h.MoveTo(-62, 200, false))
	require.NoError(t, h.MoveTo(55.5, 500, false))
	assert.Equal(t, "MOVE -62 200 0\nMOVE 55.5 500 0\n", string(port.bytes()))
	assert.Error(t, h.MoveTo(10, 0, false))
}

func TestSensorHead_MoveToWaitLeavesPortFree(t *testing.T) {
	clock := NewManualClock(t0)
	port := newFakePort("OK\n27\n")
	h := newSensorHeadOnPort(port, clock)

	done := make(chan error, 1)
	go func() { done <- h.MoveTo(60, 500, true) }()
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)

	// The light sensor stays readable while the servo travels.
	v, err := h.ReadAmbientLight()
	require.NoError(t, err)
	assert.Equal(t, 27.0, v)
	assert.Equal(t, "MOVE 60 500 0\nLIGHT\n", string(port.bytes()))

	// 60 degrees at 500 deg/s takes 120ms.
	clock.Advance(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("MoveTo returned before the servo arrived")
	default:
	}
	clock.Advance(20 * time.Millisecond)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("MoveTo did not return")
	}
}

func TestSensorHead_ZeroResetsTravel(t *testing.T) {
	clock := NewManualClock(t0)
	port := newFakePort("OK\nOK\nOK\n")
	h := newSensorHeadOnPort(port, clock)

	require.NoError(t, h.MoveTo(40, 200, false))
	require.NoError(t, h.Zero())
	// Already at the zeroed position, so no travel to wait for.
	require.NoError(t, h.MoveTo(0, 200, true))
	assert.Equal(t, 0, clock.Waiters())
}

func TestSensorHead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		replies string
		call    func(h *SensorHead) error
		want    string
	}{
		{"rejected", "ERR servo stalled\n", func(h *SensorHead) error { return h.Zero() }, "servo stalled"},
		{"unexpected", "BUSY\n", func(h *SensorHead) error { return h.Zero() }, "unexpected reply"},
		{"not a number", "far\n", func(h *SensorHead) error { _, err := h.ReadDistance(); return err }, "parsing reply"},
		{"no reply", "", func(h *SensorHead) error { _, err := h.ReadDistance(); return err }, "reading reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSensorHeadOnPort(newFakePort(tt.replies), RealClock{})
			err := tt.call(h)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSensorHead_NotConnected(t *testing.T) {
	h := NewSensorHead(PortOptions{})
	_, err := h.ReadDistance()
	assert.Error(t, err)
	assert.NoError(t, h.Close())
}
