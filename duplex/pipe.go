// Package duplex provides a bounded byte pipe connecting one producer to
// one consumer, with flow control expressed as pause/resume thresholds.
//
// The writer stages data via GetWriteRegion and AdvanceWriter, then
// publishes it with Flush. Flush reports whether the pipe is still below
// its pause threshold; when it is not, the returned channel is closed once
// the reader drains the pipe to the resume threshold. The reader peeks
// buffered segments with Read and consumes them with Advance, so segment
// memory stays valid until explicitly advanced past.
package duplex

import (
	"context"
	"sync"
)

const (
	// DefaultPauseThreshold is the buffered-byte count above which Flush
	// suspends.
	DefaultPauseThreshold = 64 << 10

	// DefaultResumeThreshold is the buffered-byte count at which a
	// suspended Flush resolves.
	DefaultResumeThreshold = 32 << 10
)

// ReadResult is the outcome of a Read: a view of the buffered segments and
// the pipe's terminal flags. Segments remain owned by the pipe and are
// valid until the reader advances past them.
type ReadResult struct {
	Segments  [][]byte
	Completed bool
	Canceled  bool
}

// Len returns the total byte length of the segments.
func (r ReadResult) Len() int {
	var n int
	for _, seg := range r.Segments {
		n += len(seg)
	}
	return n
}

// Pipe is a bounded, backpressured byte pipe. It is safe for one writer
// and one reader operating concurrently.
type Pipe struct {
	mu sync.Mutex

	pending  []byte   // region handed out, not yet advanced
	staged   [][]byte // written, not yet flushed
	readable [][]byte // flushed, not yet consumed

	stagedLen int
	buffered  int

	pauseAt  int
	resumeAt int

	completed bool
	canceled  bool

	wake      chan struct{} // closed to wake a pending Read
	flushDone chan struct{} // non-nil while a Flush is suspended
}

// New creates a pipe with the given pause and resume thresholds. Values
// of zero or less select the defaults.
func New(pauseAt, resumeAt int) *Pipe {
	if pauseAt <= 0 {
		pauseAt = DefaultPauseThreshold
	}
	if resumeAt <= 0 || resumeAt > pauseAt {
		resumeAt = pauseAt / 2
	}
	return &Pipe{
		pauseAt:  pauseAt,
		resumeAt: resumeAt,
	}
}

// GetWriteRegion returns a contiguous writable region of exactly n bytes.
// The region becomes visible to the reader only after AdvanceWriter and
// Flush. A region may exceed the pause threshold; the overshoot is
// absorbed and repaid through a suspended Flush.
func (p *Pipe) GetWriteRegion(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = make([]byte, n)
	return p.pending
}

// AdvanceWriter stages the first n bytes of the current write region.
func (p *Pipe) AdvanceWriter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil || n <= 0 {
		p.pending = nil
		return
	}
	if n > len(p.pending) {
		n = len(p.pending)
	}
	p.staged = append(p.staged, p.pending[:n])
	p.stagedLen += n
	p.pending = nil
}

// Flush publishes all staged bytes to the reader. It returns true when the
// pipe remains at or below its pause threshold; otherwise it returns false
// together with a channel that is closed once the reader drains the pipe
// to the resume threshold.
func (p *Pipe) Flush() (bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.publishStagedLocked()

	if p.buffered <= p.pauseAt {
		return true, nil
	}
	if p.flushDone == nil {
		p.flushDone = make(chan struct{})
	}
	return false, p.flushDone
}

// Read returns the currently buffered segments together with the pipe's
// terminal flags, blocking until data arrives, the writer completes, the
// pending read is canceled, or ctx is done. Data is not consumed; call
// Advance afterwards.
func (p *Pipe) Read(ctx context.Context) (ReadResult, error) {
	for {
		p.mu.Lock()
		if p.canceled {
			p.canceled = false
			result := p.snapshotLocked()
			result.Canceled = true
			p.mu.Unlock()
			return result, nil
		}
		if p.buffered > 0 || p.completed {
			result := p.snapshotLocked()
			p.mu.Unlock()
			return result, nil
		}
		if p.wake == nil {
			p.wake = make(chan struct{})
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			// Data, completion or cancellation racing the context wins;
			// the next loop iteration will observe and return it.
			p.mu.Lock()
			racing := p.canceled || p.buffered > 0 || p.completed
			p.mu.Unlock()
			if !racing {
				return ReadResult{}, ctx.Err()
			}
		}
	}
}

// Advance consumes n bytes from the front of the buffered data, releasing
// a suspended Flush once the pipe drains to the resume threshold.
func (p *Pipe) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for n > 0 && len(p.readable) > 0 {
		seg := p.readable[0]
		if n >= len(seg) {
			n -= len(seg)
			p.buffered -= len(seg)
			p.readable = p.readable[1:]
			continue
		}
		p.readable[0] = seg[n:]
		p.buffered -= n
		n = 0
	}

	if p.flushDone != nil && p.buffered <= p.resumeAt {
		close(p.flushDone)
		p.flushDone = nil
	}
}

// Complete marks the writer as finished. Staged bytes are published so the
// reader observes them before end-of-stream. Any suspended Flush is
// released.
func (p *Pipe) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.publishStagedLocked()
	p.completed = true
	if p.flushDone != nil {
		close(p.flushDone)
		p.flushDone = nil
	}
	p.wakeLocked()
}

// CancelRead cancels the pending (or next) Read, which returns with the
// Canceled flag set. The cancellation is consumed by that one read.
func (p *Pipe) CancelRead() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.canceled = true
	p.wakeLocked()
}

// Buffered returns the number of flushed, unconsumed bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *Pipe) publishStagedLocked() {
	if len(p.staged) == 0 {
		return
	}
	p.readable = append(p.readable, p.staged...)
	p.buffered += p.stagedLen
	p.staged = nil
	p.stagedLen = 0
	p.wakeLocked()
}

func (p *Pipe) snapshotLocked() ReadResult {
	return ReadResult{
		Segments:  append([][]byte(nil), p.readable...),
		Completed: p.completed,
	}
}

func (p *Pipe) wakeLocked() {
	if p.wake != nil {
		close(p.wake)
		p.wake = nil
	}
}
