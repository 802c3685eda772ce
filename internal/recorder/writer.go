package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var (
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

// Writer appends records to journal segments from a buffered queue. Appends
// never block: a full queue is reported to the caller.
type Writer struct {
	cfg Config
	ch  chan recordRequest
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
	written uint64
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create journal dir %s", cfg.Dir)
	}
	return &Writer{cfg: cfg, ch: make(chan recordRequest, cfg.QueueSize)}, nil
}

func (w *Writer) Config() Config { return w.cfg }

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer after the queued records are written.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Written is the number of records handed to a segment.
func (w *Writer) Written() uint64 { return atomic.LoadUint64(&w.written) }

// TryAppend enqueues a record without blocking. The payload is copied.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	req, err := w.request(header, payload)
	if err != nil {
		return err
	}
	select {
	case w.ch <- req:
		return nil
	default:
		return fmt.Errorf("%w: journal %s", exception.ErrQueueFull, w.cfg.Dir)
	}
}

// Append enqueues a record, waiting for room in the queue until ctx is done.
func (w *Writer) Append(ctx context.Context, header schema.EventHeader, payload []byte) error {
	req, err := w.request(header, payload)
	if err != nil {
		return err
	}
	select {
	case w.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) request(header schema.EventHeader, payload []byte) (recordRequest, error) {
	if atomic.LoadUint32(&w.closed) != 0 {
		return recordRequest{}, ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return recordRequest{}, ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return recordRequest{}, err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return recordRequest{}, ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return recordRequest{header: header, payload: cp}, nil
}

func (w *Writer) run(ctx context.Context) {
	s := &segmentState{headerBuf: make([]byte, recordHeaderSize)}
	var flushC, syncC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		t := w.cfg.Clock.Ticker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := w.cfg.Clock.Ticker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	defer func() {
		if err := s.close(); err != nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.drain(s)
			return
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.write(s, req); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if err := s.flush(); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := s.sync(); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) drain(s *segmentState) {
	for {
		select {
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.write(s, req); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) write(s *segmentState, req recordRequest) error {
	now := w.cfg.Clock.Now().UTC()
	size := int64(recordHeaderSize + len(req.payload) + recordChecksumSize)
	if w.shouldRotate(s.seg, now, size) {
		if err := s.close(); err != nil {
			return err
		}
		seg, err := w.openSegment(&s.id, now)
		if err != nil {
			return err
		}
		s.seg = seg
	}

	encodeHeader(s.headerBuf, req.header, len(req.payload))
	binary.LittleEndian.PutUint32(s.sumBuf[:], checksum(s.headerBuf, req.payload))
	for _, b := range [][]byte{s.headerBuf, req.payload, s.sumBuf[:]} {
		if _, err := s.seg.buf.Write(b); err != nil {
			return errors.Wrapf(err, "write journal segment %s", s.seg.file.Name())
		}
	}
	s.seg.size += size
	atomic.AddUint64(&w.written, 1)
	return nil
}

func (w *Writer) shouldRotate(seg *segment, now time.Time, nextSize int64) bool {
	switch {
	case seg == nil:
		return true
	case w.cfg.SegmentMaxBytes > 0 && seg.size > 0 && seg.size+nextSize > w.cfg.SegmentMaxBytes:
		return true
	case w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration:
		return true
	}
	return false
}

// openSegment creates the next file. Names sort in write order.
func (w *Writer) openSegment(id *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*id++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, *id, segmentSuffix)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "open journal segment %s", path)
		}
		logs.Debugf("[Journal] opened segment %s", name)
		return &segment{file: file, buf: bufio.NewWriterSize(file, w.cfg.BufferSize), openedAt: now}, nil
	}
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	logs.Errorf("[Journal] writer stopped, err: %+v", err)
	w.err.Store(err)
}

type recordRequest struct {
	header  schema.EventHeader
	payload []byte
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

type segmentState struct {
	seg       *segment
	id        uint64
	headerBuf []byte
	sumBuf    [recordChecksumSize]byte
}

func (s *segmentState) flush() error {
	if s.seg == nil {
		return nil
	}
	return s.seg.buf.Flush()
}

func (s *segmentState) sync() error {
	if s.seg == nil {
		return nil
	}
	if err := s.seg.buf.Flush(); err != nil {
		return err
	}
	return s.seg.file.Sync()
}

func (s *segmentState) close() error {
	if s.seg == nil {
		return nil
	}
	seg := s.seg
	s.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}
