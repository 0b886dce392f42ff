// Package rtpmedia implements the per-call Call Media Endpoint: a UDP
// socket bound to a per-call address that yields an inbound stream of RTP
// payloads and runs a single serial playback worker for outbound audio,
// with synchronous, idempotent cancellation (barge-in support).
//
// The concurrency shape — a long-lived worker goroutine draining a
// mutex-guarded FIFO slice, woken through a one-slot channel, with
// cancellation via an epoch counter that distinguishes "this chunk" from a
// stale one — mirrors the
// teacher's ManagedStream generation-counter pattern
// (pkg/orchestrator/managed_stream.go) adapted from in-process cancellation
// to packet-emission cancellation.
package rtpmedia

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
)

// ErrInvalidArgument is returned when a caller violates an API contract,
// e.g. requesting a read buffer too small to hold an RTP header.
var ErrInvalidArgument = fmt.Errorf("rtpmedia: invalid argument")

// Packet is one received payload plus the peer address it arrived from.
type Packet struct {
	Payload []byte
	Peer    *net.UDPAddr
}

// playbackChunk is one queued response awaiting synthesis-to-wire playback.
type playbackChunk struct {
	audio           []byte
	peer            *net.UDPAddr
	sampleRate      int
	frameDurationMS int
}

// Endpoint owns one UDP socket exclusively: its ingress reader and its
// playback worker are the only things that read or write it.
type Endpoint struct {
	conn *net.UDPConn

	queueMu sync.Mutex
	queue   []*playbackChunk

	// epoch is bumped by CancelPlayback/Close so the in-flight frame-send
	// loop notices a cancellation at the next frame boundary without
	// needing a channel per chunk.
	epoch int64

	playing atomic.Bool

	wakeCh   chan struct{}
	doneCh   chan struct{}
	closed   atomic.Bool
	closeMu  sync.Mutex
	closeErr error

	capture io.Writer
}

// Option configures optional Endpoint behavior.
type Option func(*Endpoint)

// WithCapture installs a writer that receives a copy of every ingress
// payload, for optional raw-audio capture. Capture never blocks the
// ingress loop on error; write failures are ignored.
func WithCapture(w io.Writer) Option {
	return func(e *Endpoint) { e.capture = w }
}

// Open binds a UDP socket to bindIP:bindPort and starts the playback
// worker. Callers must call Close on every exit path (normal, error, or
// cancellation) to release the socket and stop the worker — this is a
// correctness requirement, not a convenience: a leaked bind blocks the next
// call assigned to the same port.
func Open(bindIP string, bindPort int, opts ...Option) (*Endpoint, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindIP), Port: bindPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtpmedia: bind %s:%d: %w", bindIP, bindPort, err)
	}

	e := &Endpoint{
		conn:   conn,
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}

	go e.playbackWorker()
	return e, nil
}

// Close shuts down the playback worker and closes the UDP socket. Safe to
// call more than once.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		<-e.doneCh
		return e.closeErr
	}
	e.CancelPlayback()
	close(e.wakeCh)
	<-e.doneCh
	e.closeMu.Lock()
	e.closeErr = e.conn.Close()
	e.closeMu.Unlock()
	return e.closeErr
}

// LocalAddr returns the endpoint's bound UDP address, e.g. for reporting
// the host:port a control-plane adapter should hand to external media.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Ingress returns a channel that yields RTP payloads as they arrive.
// packetSize must be at least 12 bytes (the RTP header size); a smaller
// value is an InvalidArgument failure. The channel is closed when the
// endpoint is closed or the socket yields a zero-length read.
func (e *Endpoint) Ingress(packetSize int) (<-chan Packet, error) {
	if packetSize < 12 {
		return nil, fmt.Errorf("%w: packetSize must be >= 12, got %d", ErrInvalidArgument, packetSize)
	}

	out := make(chan Packet)
	go func() {
		defer close(out)
		buf := make([]byte, packetSize)
		for {
			n, peer, err := e.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n == 0 {
				return
			}
			if n < 12 {
				continue
			}
			payload := make([]byte, n-12)
			copy(payload, buf[12:n])

			if e.capture != nil {
				_, _ = e.capture.Write(payload)
			}

			out <- Packet{Payload: payload, Peer: peer}
		}
	}()
	return out, nil
}

// EnqueuePlayback appends one playback chunk to the FIFO queue. It never
// blocks and never drops audio unless CancelPlayback is called.
func (e *Endpoint) EnqueuePlayback(audioData []byte, peer *net.UDPAddr, sampleRate, frameDurationMS int) {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	if frameDurationMS <= 0 {
		frameDurationMS = audio.FrameDurationMS
	}
	e.queueMu.Lock()
	e.queue = append(e.queue, &playbackChunk{
		audio:           audioData,
		peer:            peer,
		sampleRate:      sampleRate,
		frameDurationMS: frameDurationMS,
	})
	e.queueMu.Unlock()

	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// IsPlaying reports whether the worker is currently streaming a chunk or
// the queue holds pending chunks.
func (e *Endpoint) IsPlaying() bool {
	if e.playing.Load() {
		return true
	}
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue) > 0
}

// CancelPlayback atomically drains the pending-chunk queue and interrupts
// the in-flight frame-send loop, if any, mid-frame. It is synchronous,
// idempotent, and safe to call concurrently with EnqueuePlayback or from
// any goroutine: on return the queue is empty, and the current send loop is
// guaranteed to stop no later than the next frame boundary.
func (e *Endpoint) CancelPlayback() {
	e.queueMu.Lock()
	e.queue = nil
	e.queueMu.Unlock()
	atomic.AddInt64(&e.epoch, 1)
}

// popChunk pops the head of the queue along with the epoch observed under
// the same lock, so a CancelPlayback landing right after the pop is never
// missed: the epoch streamChunk compares against is the one in effect at
// the instant the chunk left the queue, not one read later.
func (e *Endpoint) popChunk() (*playbackChunk, int64) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	epoch := atomic.LoadInt64(&e.epoch)
	if len(e.queue) == 0 {
		return nil, epoch
	}
	c := e.queue[0]
	e.queue = e.queue[1:]
	return c, epoch
}

func (e *Endpoint) playbackWorker() {
	defer close(e.doneCh)
	for {
		chunk, epoch := e.popChunk()
		if chunk == nil {
			_, ok := <-e.wakeCh
			if !ok {
				return
			}
			continue
		}
		e.playing.Store(true)
		e.streamChunk(chunk, epoch)
		e.playing.Store(false)
	}
}

// streamChunk walks the audio in frame-sized slices, building a fresh RTP
// header per playback session, and aborts immediately (without finalizing
// the chunk) if epoch changes mid-stream. A panic synthesizing or sending
// one chunk is swallowed so the worker survives to service the next chunk.
func (e *Endpoint) streamChunk(chunk *playbackChunk, myEpoch int64) {
	defer func() {
		if r := recover(); r != nil {
			// chunk failed; worker loops back to the next one.
		}
	}()

	frameSize := chunk.sampleRate / 1000 * chunk.frameDurationMS
	if frameSize <= 0 {
		frameSize = audio.FrameSize
	}

	header := rtp.Header{
		Version:        2,
		Padding:        false,
		Extension:      false,
		Marker:         false,
		PayloadType:    0, // PCMU
		SequenceNumber: 0,
		Timestamp:      0,
		SSRC:           rand.Uint32(),
	}

	frameDur := time.Duration(chunk.frameDurationMS) * time.Millisecond
	for i := 0; i < len(chunk.audio); i += frameSize {
		if atomic.LoadInt64(&e.epoch) != myEpoch {
			return
		}

		end := i + frameSize
		if end > len(chunk.audio) {
			end = len(chunk.audio)
		}
		payload := chunk.audio[i:end]

		pkt := rtp.Packet{Header: header, Payload: payload}
		data, err := pkt.Marshal()
		if err != nil {
			return
		}

		if _, err := e.conn.WriteToUDP(data, chunk.peer); err != nil {
			return
		}

		header.SequenceNumber++
		header.Timestamp += uint32(frameSize)

		time.Sleep(frameDur)
		if atomic.LoadInt64(&e.epoch) != myEpoch {
			return
		}
	}
}
