package indicator

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"attentrack/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	r   *io.PipeReader
	w   *io.PipeWriter
	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func TestSetWritesCommands(t *testing.T) {
	port := newFakePort()
	dev := New(port, Options{OnCommand: "LED_ON", OffCommand: "LED_OFF"})
	defer dev.Close()

	dev.Set(true)
	dev.Set(false)
	require.NoError(t, dev.Write("HELLO"))

	require.Eventually(t, func() bool {
		return port.written() == "LED_ON\nLED_OFF\nHELLO\n"
	}, time.Second, 5*time.Millisecond)
}

func TestLinesAreReportedWithoutTerminator(t *testing.T) {
	port := newFakePort()
	var mu sync.Mutex
	var lines []string
	dev := New(port, Options{OnLine: func(l string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l)
	}})
	defer dev.Close()

	go func() {
		_, _ = port.w.Write([]byte("BUTTON_PRESSED\r\n\r\nREADY\n"))
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BUTTON_PRESSED", "READY"}, lines)
}

func TestWriteAfterClose(t *testing.T) {
	dev := New(newFakePort(), Options{})
	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Write("X"), ErrClosed)
	assert.NoError(t, dev.Close())
}

func TestOpenSerialWithoutPortIsNoop(t *testing.T) {
	dev, err := OpenSerial(config.SerialConfig{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, dev)
	assert.ErrorIs(t, dev.Write("X"), ErrUnavailable)
}
