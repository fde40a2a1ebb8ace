package indicator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"attentrack/internal/config"

	"github.com/sourcegraph/conc"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	ErrUnavailable = errors.New("indicator device not configured")
	ErrClosed      = errors.New("indicator device closed")
	ErrQueueFull   = errors.New("indicator write queue full")
)

// Device is the external indicator light. Set never blocks the caller.
type Device interface {
	Set(on bool)
	Write(text string) error
	Close() error
}

// Noop stands in when no serial port is configured.
type Noop struct{}

func (Noop) Set(bool)           {}
func (Noop) Write(string) error { return ErrUnavailable }
func (Noop) Close() error       { return nil }

// Serial speaks a newline-terminated text protocol over a serial port.
// Writes are queued and sent by a single writer goroutine; lines read back
// from the device are passed to the onLine callback.
type Serial struct {
	port       io.ReadWriteCloser
	onCommand  string
	offCommand string
	onLine     func(line string)
	log        *zap.Logger

	writes chan string
	done   chan struct{}
	once   sync.Once
	wg     conc.WaitGroup
}

type Options struct {
	OnCommand  string
	OffCommand string
	// OnLine receives every line the device sends, without the line ending.
	OnLine func(line string)
	Logger *zap.Logger
}

// OpenSerial opens the configured port. An empty port name yields Noop.
func OpenSerial(cfg config.SerialConfig, onLine func(string), log *zap.Logger) (Device, error) {
	if cfg.Port == "" {
		return Noop{}, nil
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	return New(port, Options{
		OnCommand:  cfg.OnCommand,
		OffCommand: cfg.OffCommand,
		OnLine:     onLine,
		Logger:     log,
	}), nil
}

func New(port io.ReadWriteCloser, opts Options) *Serial {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnLine == nil {
		opts.OnLine = func(string) {}
	}
	s := &Serial{
		port:       port,
		onCommand:  opts.OnCommand,
		offCommand: opts.OffCommand,
		onLine:     opts.OnLine,
		log:        opts.Logger.Named("indicator"),
		writes:     make(chan string, 16),
		done:       make(chan struct{}),
	}
	s.wg.Go(s.writeLoop)
	s.wg.Go(s.readLoop)
	return s
}

func (s *Serial) Set(on bool) {
	cmd := s.offCommand
	if on {
		cmd = s.onCommand
	}
	if err := s.Write(cmd); err != nil {
		s.log.Warn("Indicator command dropped", zap.String("command", cmd), zap.Error(err))
	}
}

// Write queues one line for the device.
func (s *Serial) Write(text string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.writes <- text:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

func (s *Serial) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}

func (s *Serial) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case text := <-s.writes:
			if _, err := io.WriteString(s.port, text+"\n"); err != nil {
				s.log.Warn("Failed to write to indicator", zap.String("command", text), zap.Error(err))
				continue
			}
			s.log.Debug("Indicator command sent", zap.String("command", text))
		}
	}
}

func (s *Serial) readLoop() {
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.log.Debug("Indicator line received", zap.String("line", line))
		s.onLine(line)
	}
	select {
	case <-s.done:
	default:
		if err := scanner.Err(); err != nil {
			s.log.Warn("Indicator read stopped", zap.Error(err))
		}
	}
}
