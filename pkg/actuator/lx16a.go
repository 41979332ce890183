package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// LX-16A command set (subset used here).
const (
	lxCmdMoveTimeWrite = 1
	lxCmdMoveStop      = 12
	lxCmdTempRead      = 26
	lxCmdVinRead       = 27
	lxCmdPosRead       = 28

	lxHeader = 0x55

	// Servo position units: 0..1000 spans 0..240 degrees.
	lxPosMax   = 1000
	lxAngleMax = 240.0

	lxMaxMoveMS = 30000
)

// SerialPort is the subset of go.bug.st/serial.Port the bus needs, so tests
// can substitute a fake line.
type SerialPort interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	Close() error
}

type lxReply struct {
	params []byte
	err    error
}

type lxRequest struct {
	frame      []byte
	respParams int          // -1 when no response is expected
	reply      chan lxReply // nil for fire-and-forget commands
}

// LX16ABus drives LewanSoul LX-16A servos on a shared half-duplex serial
// line. A single owner goroutine serializes all transactions; concurrent
// callers queue and never interleave frames. Every transaction is bounded by
// the bus timeout.
type LX16ABus struct {
	port      SerialPort
	timeout   time.Duration
	reqs      chan lxRequest
	closed    chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// OpenLX16ABus opens a serial port and starts the bus owner.
func OpenLX16ABus(portName string, baud int, timeout time.Duration) (*LX16ABus, error) {
	if baud <= 0 {
		baud = 115200
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open lx16a port %s: %w", portName, err)
	}
	return NewLX16ABus(port, timeout), nil
}

// NewLX16ABus wraps an already-open port. Used directly by tests.
func NewLX16ABus(port SerialPort, timeout time.Duration) *LX16ABus {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	b := &LX16ABus{
		port:    port,
		timeout: timeout,
		reqs:    make(chan lxRequest, 32),
		closed:  make(chan struct{}),
		log:     logrus.WithField("sub", "lx16a"),
	}
	port.SetReadTimeout(timeout)
	go b.run()
	return b
}

// run is the bus owner: one transaction at a time, in queue order.
func (b *LX16ABus) run() {
	for {
		select {
		case <-b.closed:
			return
		case req := <-b.reqs:
			params, err := b.transact(req)
			if req.reply != nil {
				req.reply <- lxReply{params: params, err: err}
			} else if err != nil {
				b.log.WithError(err).Warn("queued command failed")
			}
		}
	}
}

func (b *LX16ABus) transact(req lxRequest) ([]byte, error) {
	if _, err := b.port.Write(req.frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	if req.respParams < 0 {
		return nil, nil
	}
	return b.readFrame(req.frame[2], req.frame[4], req.respParams)
}

// readFrame reads one response frame with the expected parameter count. The
// port read timeout bounds the whole read. The frame must echo the requested
// servo id and command; a stale reply left over from a timed-out transaction
// would otherwise be attributed to this one.
func (b *LX16ABus) readFrame(id, cmd byte, nparams int) ([]byte, error) {
	want := 6 + nparams // header(2) + id + length + cmd + params + checksum
	buf := make([]byte, 0, want)
	tmp := make([]byte, want)
	deadline := time.Now().Add(b.timeout)

	for len(buf) < want {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		n, err := b.port.Read(tmp[:want-len(buf)])
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if n == 0 {
			// go.bug.st/serial signals a read timeout with n==0.
			return nil, ErrTimeout
		}
		buf = append(buf, tmp[:n]...)

		// Resynchronize on the double-0x55 header.
		for len(buf) >= 2 && !(buf[0] == lxHeader && buf[1] == lxHeader) {
			buf = buf[1:]
		}
	}

	if int(buf[3]) != nparams+3 {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedFrame, buf[3], nparams+3)
	}
	if sum := lxChecksum(buf[2 : want-1]); sum != buf[want-1] {
		return nil, fmt.Errorf("%w: bad checksum", ErrMalformedFrame)
	}
	if buf[2] != id || buf[4] != cmd {
		return nil, fmt.Errorf("%w: reply from id %d cmd %d, want id %d cmd %d",
			ErrMalformedFrame, buf[2], buf[4], id, cmd)
	}
	return buf[5 : 5+nparams], nil
}

// lxChecksum is the additive complement over id, length, command and params.
func lxChecksum(body []byte) byte {
	var sum int
	for _, v := range body {
		sum += int(v)
	}
	return byte(^sum)
}

func lxFrame(id, cmd byte, params ...byte) []byte {
	frame := make([]byte, 0, 6+len(params))
	frame = append(frame, lxHeader, lxHeader, id, byte(len(params)+3), cmd)
	frame = append(frame, params...)
	frame = append(frame, lxChecksum(frame[2:]))
	return frame
}

// submit queues a transaction and waits for its reply or the context.
func (b *LX16ABus) submit(ctx context.Context, req lxRequest) ([]byte, error) {
	select {
	case b.reqs <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-b.closed:
		return nil, ErrBusClosed
	}

	select {
	case rep := <-req.reply:
		return rep.params, rep.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-b.closed:
		return nil, ErrBusClosed
	}
}

// Move commands a timed move to an angle in degrees.
func (b *LX16ABus) Move(ctx context.Context, id int, angleDeg float64, d time.Duration) error {
	pos := int(angleDeg/lxAngleMax*lxPosMax + 0.5)
	if pos < 0 {
		pos = 0
	} else if pos > lxPosMax {
		pos = lxPosMax
	}
	ms := int(d / time.Millisecond)
	if ms < 0 {
		ms = 0
	} else if ms > lxMaxMoveMS {
		ms = lxMaxMoveMS
	}

	frame := lxFrame(byte(id), lxCmdMoveTimeWrite,
		byte(pos&0xff), byte(pos>>8), byte(ms&0xff), byte(ms>>8))
	_, err := b.submit(ctx, lxRequest{frame: frame, respParams: -1, reply: make(chan lxReply, 1)})
	return err
}

// ReadPosition returns the measured position in degrees.
func (b *LX16ABus) ReadPosition(ctx context.Context, id int) (float64, error) {
	frame := lxFrame(byte(id), lxCmdPosRead)
	params, err := b.submit(ctx, lxRequest{frame: frame, respParams: 2, reply: make(chan lxReply, 1)})
	if err != nil {
		return 0, err
	}
	// Position is signed: servos report small negative values past the stop.
	pos := int16(uint16(params[0]) | uint16(params[1])<<8)
	return float64(pos) * lxAngleMax / lxPosMax, nil
}

// ReadTemperature returns the servo temperature in degrees Celsius.
func (b *LX16ABus) ReadTemperature(ctx context.Context, id int) (int, error) {
	frame := lxFrame(byte(id), lxCmdTempRead)
	params, err := b.submit(ctx, lxRequest{frame: frame, respParams: 1, reply: make(chan lxReply, 1)})
	if err != nil {
		return 0, err
	}
	return int(params[0]), nil
}

// ReadVoltage returns the servo input voltage in millivolts.
func (b *LX16ABus) ReadVoltage(ctx context.Context, id int) (int, error) {
	frame := lxFrame(byte(id), lxCmdVinRead)
	params, err := b.submit(ctx, lxRequest{frame: frame, respParams: 2, reply: make(chan lxReply, 1)})
	if err != nil {
		return 0, err
	}
	return int(uint16(params[0]) | uint16(params[1])<<8), nil
}

// Stop halts a servo immediately. It only enqueues the stop frame and never
// waits on the line, so it stays callable while a transaction is in flight;
// the owner sends it as soon as the current transaction's timeout expires.
func (b *LX16ABus) Stop(ctx context.Context, id int) error {
	frame := lxFrame(byte(id), lxCmdMoveStop)
	select {
	case b.reqs <- lxRequest{frame: frame, respParams: -1}:
		return nil
	case <-b.closed:
		return ErrBusClosed
	default:
		return fmt.Errorf("stop servo %d: %w", id, ErrTimeout)
	}
}

// Close shuts the owner down and closes the port, unblocking any in-flight
// read.
func (b *LX16ABus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.port.Close()
	})
	return err
}
