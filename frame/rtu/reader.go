package rtu

import (
	"bufio"
	"context"
	"io"
	"time"
)

// DefaultIdleGap is the default inter-frame silence window (roughly
// 3.5 character times at common baud rates) used to delimit RTU
// frames when the serial driver gives no frame boundary of its own.
const DefaultIdleGap = 50 * time.Millisecond

// FrameReader accumulates bytes from a serial stream into frames,
// delimited by silence rather than any length prefix: a frame ends
// once no new byte has arrived for idleGap.
type FrameReader struct {
	r       *bufio.Reader
	idleGap time.Duration
	bytesCh chan byte
	errCh   chan error
}

// NewFrameReader wraps r (typically a serial port). A non-positive
// idleGap falls back to DefaultIdleGap.
func NewFrameReader(r io.Reader, idleGap time.Duration) *FrameReader {
	if idleGap <= 0 {
		idleGap = DefaultIdleGap
	}
	fr := &FrameReader{
		r:       bufio.NewReader(r),
		idleGap: idleGap,
		bytesCh: make(chan byte, MaxFrameLength),
		errCh:   make(chan error, 1),
	}
	go fr.pump()
	return fr
}

// pump reads the underlying stream one byte at a time for as long as
// the stream stays open, handing each byte to ReadFrame's idle-gap
// timer. It runs for the lifetime of the FrameReader.
func (fr *FrameReader) pump() {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			fr.errCh <- err
			return
		}
		fr.bytesCh <- b
	}
}

// ReadFrame blocks until a full frame has accumulated (idleGap has
// elapsed since the last byte) or ctx is canceled or the underlying
// stream errors.
func (fr *FrameReader) ReadFrame(ctx context.Context) ([]byte, error) {
	var buf []byte
	timer := time.NewTimer(fr.idleGap)
	defer timer.Stop()

	// Block indefinitely for the first byte of a new frame; once a
	// byte has arrived, the idle-gap timer governs frame completion.
	select {
	case b := <-fr.bytesCh:
		buf = append(buf, b)
	case err := <-fr.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !timer.Stop() {
		<-timer.C
	}
	timer.Reset(fr.idleGap)

	for {
		select {
		case b := <-fr.bytesCh:
			buf = append(buf, b)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(fr.idleGap)
		case err := <-fr.errCh:
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		case <-timer.C:
			return buf, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
