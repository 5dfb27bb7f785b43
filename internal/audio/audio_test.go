package audio

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for use from the playback goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func smallFormat() Format {
	f := DefaultFormat
	f.ChunkSize = 4
	return f
}

func TestDefaultFormat(t *testing.T) {
	f := DefaultFormat
	require.NoError(t, f.Validate())
	assert.Equal(t, 2, f.FrameSize())
	assert.Equal(t, 32000, f.BytesPerSecond())
	assert.Equal(t, 32*time.Millisecond, f.ChunkDuration())
	assert.Equal(t, "16000Hz/16bit/1ch/LE", f.String())
}

func TestFormat_Validate(t *testing.T) {
	bad := []Format{
		{SampleRate: 0, BitsPerSample: 16, Channels: 1, ChunkSize: 2},
		{SampleRate: 8000, BitsPerSample: 12, Channels: 1, ChunkSize: 2},
		{SampleRate: 8000, BitsPerSample: 16, Channels: 0, ChunkSize: 2},
		{SampleRate: 8000, BitsPerSample: 16, Channels: 2, ChunkSize: 6},
	}
	for _, f := range bad {
		assert.ErrorIs(t, f.Validate(), ErrInvalidFormat, f.String())
	}
}

func TestBufferDevice_CaptureDeliversChunks(t *testing.T) {
	source := bytes.NewReader([]byte("aaaabbbbcc"))
	d := NewBufferDevice(smallFormat(), source, nil)

	var (
		mu     sync.Mutex
		chunks []string
	)
	got := make(chan struct{}, 3)
	require.NoError(t, d.StartCapture(func(chunk []byte) {
		mu.Lock()
		chunks = append(chunks, string(chunk))
		mu.Unlock()
		got <- struct{}{}
	}))
	assert.ErrorIs(t, d.StartCapture(func([]byte) {}), ErrCaptureRunning)

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for chunk")
		}
	}
	d.StopCapture()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"aaaa", "bbbb", "cc"}, chunks)
}

func TestBufferDevice_PlaybackWritesToSink(t *testing.T) {
	sink := &syncBuffer{}
	d := NewBufferDevice(smallFormat(), nil, sink)

	d.FeedPlayback([]byte("ignored before start"))
	require.NoError(t, d.StartPlayback())
	assert.ErrorIs(t, d.StartPlayback(), ErrPlaybackRunning)

	d.FeedPlayback([]byte("ab"))
	d.FeedPlayback([]byte("cd"))

	require.Eventually(t, func() bool {
		played, _ := d.Stats()
		return played == 2
	}, time.Second, 5*time.Millisecond)
	d.StopPlayback()

	assert.Equal(t, []byte("abcd"), sink.Bytes())
}

func TestBufferDevice_FullQueueDropsOldest(t *testing.T) {
	d := NewBufferDevice(smallFormat(), nil, nil)
	// Playback is started by hand so nothing drains the queue.
	d.mu.Lock()
	d.queue = make(chan []byte, DefaultPlaybackQueue)
	d.mu.Unlock()

	for i := 0; i < DefaultPlaybackQueue+5; i++ {
		d.FeedPlayback([]byte{byte(i)})
	}

	assert.Equal(t, DefaultPlaybackQueue, d.Queued())
	_, dropped := d.Stats()
	assert.Equal(t, 5, dropped)
	assert.Equal(t, []byte{5}, <-d.queue)
}

func newRelay(t *testing.T, source []byte, sink *syncBuffer) (*Relay, *BufferDevice) {
	t.Helper()
	conn, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)

	var (
		src io.Reader
		dst io.Writer
	)
	if source != nil {
		src = bytes.NewReader(source)
	}
	if sink != nil {
		dst = sink
	}
	d := NewBufferDevice(smallFormat(), src, dst)
	r := NewRelay(conn, d, nil)
	t.Cleanup(func() { r.Close() })
	return r, d
}

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestRelay_StreamsBetweenPeers(t *testing.T) {
	ctx := context.Background()
	sink := &syncBuffer{}
	sender, _ := newRelay(t, []byte("1111222233334444"), nil)
	receiver, device := newRelay(t, nil, sink)

	require.NoError(t, receiver.Start(ctx, udpAddr("127.0.0.1", sender.LocalPort())))
	require.NoError(t, sender.Start(ctx, udpAddr("127.0.0.1", receiver.LocalPort())))
	assert.ErrorIs(t, sender.Start(ctx, udpAddr("127.0.0.1", receiver.LocalPort())), ErrRelayRunning)

	require.Eventually(t, func() bool {
		played, _ := device.Stats()
		return played == 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []byte("1111222233334444"), sink.Bytes())
	assert.Equal(t, 4, sender.Stats().Sent)
	assert.Equal(t, 4, receiver.Stats().Recv)

	sender.Stop()
	receiver.Stop()
	assert.False(t, receiver.Running())
}

func TestRelay_IgnoresOtherPeers(t *testing.T) {
	ctx := context.Background()
	sender, _ := newRelay(t, []byte("xxxx"), nil)
	receiver, device := newRelay(t, nil, nil)

	// The receiver expects audio from a different loopback address.
	require.NoError(t, receiver.Start(ctx, udpAddr("127.0.0.2", 9)))
	require.NoError(t, sender.Start(ctx, udpAddr("127.0.0.1", receiver.LocalPort())))

	require.Eventually(t, func() bool {
		return receiver.Stats().Ignored == 1
	}, 2*time.Second, 5*time.Millisecond)
	played, _ := device.Stats()
	assert.Zero(t, played)
}

func TestRelay_RestartAfterStop(t *testing.T) {
	ctx := context.Background()
	r, _ := newRelay(t, nil, nil)

	require.NoError(t, r.Start(ctx, udpAddr("127.0.0.1", 9)))
	r.Stop()
	require.NoError(t, r.Start(ctx, udpAddr("127.0.0.1", 9)))
	assert.True(t, r.Running())
	r.Stop()
}
