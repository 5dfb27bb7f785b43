package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Device is a local capture and playback endpoint. Implementations own
// their hardware or buffers and must be safe for concurrent use.
type Device interface {
	Format() Format
	// StartCapture delivers captured chunks to onChunk from a device
	// goroutine until StopCapture.
	StartCapture(onChunk func([]byte)) error
	StopCapture()
	StartPlayback() error
	// FeedPlayback queues a chunk. It never blocks; when the queue is full
	// the oldest chunk is dropped.
	FeedPlayback(chunk []byte)
	StopPlayback()
}

var (
	ErrCaptureRunning  = errors.New("capture already running")
	ErrPlaybackRunning = errors.New("playback already running")
)

// BufferDevice is a Device backed by an io.Reader for capture and an
// io.Writer for playback. It stands in for sound hardware in headless
// clients and tests.
type BufferDevice struct {
	format Format
	source io.Reader
	sink   io.Writer
	pace   bool
	log    *slog.Logger

	mu          sync.Mutex
	captureStop chan struct{}
	captureDone chan struct{}
	queue       chan []byte
	playStop    chan struct{}
	playDone    chan struct{}
	played      int
	dropped     int
}

// BufferOption configures a BufferDevice.
type BufferOption func(*BufferDevice)

// WithPacing makes capture emit one chunk per chunk duration, as real
// hardware would.
func WithPacing() BufferOption {
	return func(d *BufferDevice) { d.pace = true }
}

func WithDeviceLogger(logger *slog.Logger) BufferOption {
	return func(d *BufferDevice) { d.log = logger }
}

// NewBufferDevice creates a device reading capture data from source and
// writing played chunks to sink. Either may be nil.
func NewBufferDevice(format Format, source io.Reader, sink io.Writer, opts ...BufferOption) *BufferDevice {
	d := &BufferDevice{
		format: format,
		source: source,
		sink:   sink,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *BufferDevice) Format() Format { return d.format }

func (d *BufferDevice) StartCapture(onChunk func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureStop != nil {
		return ErrCaptureRunning
	}
	if d.source == nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.captureStop, d.captureDone = stop, done
	go d.capture(onChunk, stop, done)
	return nil
}

func (d *BufferDevice) capture(onChunk func([]byte), stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if d.pace {
		ticker := time.NewTicker(d.format.ChunkDuration())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		chunk := make([]byte, d.format.ChunkSize)
		n, err := io.ReadFull(d.source, chunk)
		if n > 0 {
			onChunk(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				d.log.Warn("audio capture failed", "error", err)
			}
			return
		}
	}
}

// StopCapture stops the capture goroutine and waits for it to exit.
func (d *BufferDevice) StopCapture() {
	d.mu.Lock()
	stop, done := d.captureStop, d.captureDone
	d.captureStop, d.captureDone = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (d *BufferDevice) StartPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playStop != nil {
		return ErrPlaybackRunning
	}
	d.queue = make(chan []byte, DefaultPlaybackQueue)
	d.playStop = make(chan struct{})
	d.playDone = make(chan struct{})
	go d.playback(d.queue, d.playStop, d.playDone)
	return nil
}

func (d *BufferDevice) playback(queue chan []byte, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case chunk := <-queue:
			if d.sink != nil {
				if _, err := d.sink.Write(chunk); err != nil {
					d.log.Warn("audio playback failed", "error", err)
				}
			}
			d.mu.Lock()
			d.played++
			d.mu.Unlock()
		}
	}
}

func (d *BufferDevice) FeedPlayback(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil || len(chunk) == 0 {
		return
	}
	buf := append([]byte(nil), chunk...)
	for {
		select {
		case d.queue <- buf:
			return
		default:
		}
		select {
		case <-d.queue:
			d.dropped++
		default:
		}
	}
}

// StopPlayback stops playing and discards queued chunks.
func (d *BufferDevice) StopPlayback() {
	d.mu.Lock()
	stop, done := d.playStop, d.playDone
	d.playStop, d.playDone, d.queue = nil, nil, nil
	d.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Stats returns the number of chunks played and dropped so far.
func (d *BufferDevice) Stats() (played, dropped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.played, d.dropped
}

// Queued returns the number of chunks waiting for playback.
func (d *BufferDevice) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
