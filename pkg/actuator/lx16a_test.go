package actuator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLine scripts one side of the serial link: writes are recorded, reads
// drain a canned response. An empty response behaves like a line timeout.
type fakeLine struct {
	mu       sync.Mutex
	written  bytes.Buffer
	response bytes.Buffer
}

func (f *fakeLine) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeLine) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.response.Len() == 0 {
		// go.bug.st/serial reports a read timeout as n==0, nil.
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return f.response.Read(p)
}

func (f *fakeLine) SetReadTimeout(t time.Duration) error { return nil }
func (f *fakeLine) Close() error                         { return nil }

func (f *fakeLine) queueResponse(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response.Write(frame)
}

func (f *fakeLine) sent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func TestLXFrameChecksum(t *testing.T) {
	// Position read request for servo 1: id + len + cmd = 1+3+28, complemented.
	frame := lxFrame(1, lxCmdPosRead)
	want := []byte{0x55, 0x55, 0x01, 0x03, 0x1c, 0xdf}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = %x, want %x", frame, want)
	}
}

func TestMoveWritesTimedMoveFrame(t *testing.T) {
	line := &fakeLine{}
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	if err := bus.Move(context.Background(), 5, 120, time.Second); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	// 120 degrees is position 500; 1s is 1000ms.
	want := lxFrame(5, lxCmdMoveTimeWrite, 0xf4, 0x01, 0xe8, 0x03)
	if !bytes.Equal(line.sent(), want) {
		t.Errorf("sent = %x, want %x", line.sent(), want)
	}
}

func TestReadPosition(t *testing.T) {
	line := &fakeLine{}
	// Servo reports position 500 = 120 degrees.
	line.queueResponse(lxFrame(5, lxCmdPosRead, 0xf4, 0x01))
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	deg, err := bus.ReadPosition(context.Background(), 5)
	if err != nil {
		t.Fatalf("ReadPosition failed: %v", err)
	}
	if deg != 120 {
		t.Errorf("position = %v, want 120", deg)
	}
}

func TestReadPositionResyncsOnGarbage(t *testing.T) {
	line := &fakeLine{}
	line.queueResponse(append([]byte{0x00, 0x55, 0x12}, lxFrame(5, lxCmdPosRead, 0xf4, 0x01)...))
	bus := NewLX16ABus(line, 100*time.Millisecond)
	defer bus.Close()

	deg, err := bus.ReadPosition(context.Background(), 5)
	if err != nil {
		t.Fatalf("ReadPosition failed: %v", err)
	}
	if deg != 120 {
		t.Errorf("position = %v, want 120", deg)
	}
}

func TestReadPositionNegative(t *testing.T) {
	line := &fakeLine{}
	// Servos report small negative positions past the mechanical stop.
	line.queueResponse(lxFrame(5, lxCmdPosRead, 0xfb, 0xff)) // -5
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	deg, err := bus.ReadPosition(context.Background(), 5)
	if err != nil {
		t.Fatalf("ReadPosition failed: %v", err)
	}
	if deg != -5*lxAngleMax/lxPosMax {
		t.Errorf("position = %v, want %v", deg, -5*lxAngleMax/lxPosMax)
	}
}

func TestReadPositionTimeout(t *testing.T) {
	line := &fakeLine{}
	bus := NewLX16ABus(line, 20*time.Millisecond)
	defer bus.Close()

	_, err := bus.ReadPosition(context.Background(), 5)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestReadPositionBadChecksum(t *testing.T) {
	line := &fakeLine{}
	frame := lxFrame(5, lxCmdPosRead, 0xf4, 0x01)
	frame[len(frame)-1]++
	line.queueResponse(frame)
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	_, err := bus.ReadPosition(context.Background(), 5)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestReadPositionRejectsStaleReply(t *testing.T) {
	// A well-formed frame left over from an earlier transaction must not be
	// attributed to the current request.
	tests := []struct {
		name  string
		reply []byte
	}{
		{"wrong servo id", lxFrame(6, lxCmdPosRead, 0xf4, 0x01)},
		{"wrong command", lxFrame(5, lxCmdVinRead, 0xe8, 0x1c)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := &fakeLine{}
			line.queueResponse(tt.reply)
			bus := NewLX16ABus(line, 50*time.Millisecond)
			defer bus.Close()

			_, err := bus.ReadPosition(context.Background(), 5)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestReadVoltage(t *testing.T) {
	line := &fakeLine{}
	line.queueResponse(lxFrame(5, lxCmdVinRead, 0xe8, 0x1c)) // 7400mV
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	mv, err := bus.ReadVoltage(context.Background(), 5)
	if err != nil {
		t.Fatalf("ReadVoltage failed: %v", err)
	}
	if mv != 7400 {
		t.Errorf("voltage = %v, want 7400", mv)
	}
}

func TestStopNeverWaitsOnLine(t *testing.T) {
	line := &fakeLine{}
	bus := NewLX16ABus(line, 50*time.Millisecond)
	defer bus.Close()

	// Stop only enqueues, so it returns immediately even with nothing
	// draining the line yet.
	start := time.Now()
	if err := bus.Stop(context.Background(), 5); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("Stop blocked on the bus")
	}

	// The owner eventually puts the stop frame on the wire.
	want := lxFrame(5, lxCmdMoveStop)
	deadline := time.Now().Add(time.Second)
	for {
		if bytes.Equal(line.sent(), want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stop frame never sent, got %x", line.sent())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	line := &fakeLine{}
	bus := NewLX16ABus(line, 50*time.Millisecond)
	bus.Close()

	err := bus.Move(context.Background(), 5, 100, time.Second)
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("err = %v, want ErrBusClosed", err)
	}
}
