//go:build linux

package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/clock"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// readTimeoutUsec bounds each blocking read so the reader notices Close.
const readTimeoutUsec = 200_000

// SocketCAN is a Collaborator on a Linux raw CAN socket.
type SocketCAN struct {
	cfg      SocketCANConfig
	fd       int
	clk      clock.Clock
	dispatch *dispatcher

	writeMu sync.Mutex
	wg      sync.WaitGroup
	once    sync.Once
}

// OpenSocketCAN binds a raw CAN socket to cfg.Interface and starts reading.
func OpenSocketCAN(cfg SocketCANConfig) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Interface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %w", ErrOpenFailed, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: bind %s: %w", ErrOpenFailed, cfg.Interface, err)
	}
	tv := unix.Timeval{Usec: readTimeoutUsec}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: read timeout: %w", ErrOpenFailed, err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &SocketCAN{
		cfg:      cfg,
		fd:       fd,
		clk:      clk,
		dispatch: newDispatcher(cfg.Metrics, cfg.Logger),
	}

	s.wg.Add(1)
	go s.readLoop()

	if cfg.Logger != nil {
		cfg.Logger.Info("socketcan opened", "interface", cfg.Interface, "bitrate", cfg.Bitrate)
	}
	return s, nil
}

// SendRequest writes a remote frame for id.
func (s *SocketCAN) SendRequest(ctx context.Context, id telemetry.DeviceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dispatch.closed() {
		return ErrClosed
	}

	frame := marshalCANFrame(id, true, s.cfg.requestLength(id), nil)

	s.writeMu.Lock()
	_, err := unix.Write(s.fd, frame[:])
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, id, err)
	}
	return nil
}

// readLoop reads until Close. Persistent read errors, such as the link
// going down, are retried with backoff rather than ending the reader.
func (s *SocketCAN) readLoop() {
	defer s.wg.Done()

	var backoff readBackoff
	buf := make([]byte, canFrameSize)
	for !s.dispatch.closed() {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if s.dispatch.closed() {
				return
			}
			delay := backoff.fail()
			if backoff.failures == 1 && s.cfg.Logger != nil {
				s.cfg.Logger.Error("socketcan read failed, retrying", "interface", s.cfg.Interface, "error", err)
			}
			select {
			case <-s.clk.After(delay):
			case <-s.dispatch.done:
				return
			}
			continue
		}
		if backoff.ok() && s.cfg.Logger != nil {
			s.cfg.Logger.Info("socketcan reads recovered", "interface", s.cfg.Interface)
		}

		if f, ok := unmarshalCANFrame(buf[:n], s.clk.Now()); ok {
			s.dispatch.dispatch(f)
		}
	}
}

// SetOnFrame sets the callback for observed frames.
func (s *SocketCAN) SetOnFrame(fn func(telemetry.Frame)) {
	s.dispatch.setOnFrame(fn)
}

// Close stops the reader and releases the socket. Safe to call twice.
func (s *SocketCAN) Close() error {
	var err error
	s.once.Do(func() {
		s.dispatch.close()
		s.wg.Wait()
		err = unix.Close(s.fd)
	})
	return err
}
