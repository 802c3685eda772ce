package recorder

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
)

func newTestWriter(t *testing.T, mutate func(*Config)) (*Writer, *bclock.Mock) {
	t.Helper()
	mock := bclock.NewMock()
	mock.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	cfg := DefaultConfig(t.TempDir())
	cfg.FlushInterval = 0
	cfg.Clock = mock
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	return w, mock
}

type played struct {
	header  schema.EventHeader
	payload string
}

func playAll(t *testing.T, cfg PlaybackConfig) []played {
	t.Helper()
	p, err := NewPlayback(cfg)
	require.NoError(t, err)
	var out []played
	require.NoError(t, p.Run(context.Background(), func(h schema.EventHeader, payload []byte) error {
		out = append(out, played{header: h, payload: string(payload)})
		return nil
	}))
	return out
}

func TestWriterPlaybackRoundTrip(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	require.ErrorIs(t, w.TryAppend(schema.EventHeader{}, nil), ErrNotStarted)
	require.NoError(t, w.Start(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)

	types := []schema.EventType{schema.EventOrderInitialized, schema.EventOrderFilled, schema.EventAccountState}
	for i, typ := range types {
		h := schema.NewHeader(typ, schema.SourceExecEngine, uint64(i+1), int64(100+i), int64(200+i))
		require.NoError(t, w.TryAppend(h, []byte{byte('a' + i)}))
	}
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.TryAppend(schema.EventHeader{}, nil), ErrClosed)
	assert.EqualValues(t, 3, w.Written())

	got := playAll(t, PlaybackConfig{Dir: w.Config().Dir})
	require.Len(t, got, 3)
	for i, p := range got {
		assert.Equal(t, types[i], p.header.Type)
		assert.Equal(t, schema.SourceExecEngine, p.header.Source)
		assert.EqualValues(t, i+1, p.header.Seq)
		assert.EqualValues(t, 100+i, p.header.TsEvent)
		assert.EqualValues(t, 200+i, p.header.TsRecv)
		assert.Equal(t, string(rune('a'+i)), p.payload)
	}

	filtered := playAll(t, PlaybackConfig{Dir: w.Config().Dir, Types: []schema.EventType{schema.EventOrderFilled}})
	require.Len(t, filtered, 1)
	assert.Equal(t, schema.EventOrderFilled, filtered[0].header.Type)
}

func TestWriterRotation(t *testing.T) {
	t.Run("by size", func(t *testing.T) {
		w, _ := newTestWriter(t, func(c *Config) {
			c.SegmentMaxBytes = recordHeaderSize + recordChecksumSize + 8
		})
		require.NoError(t, w.Start(context.Background()))
		for i := 0; i < 3; i++ {
			require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventQuoteTick, Seq: uint64(i + 1)}, []byte("12345678")))
		}
		require.NoError(t, w.Close())

		p, err := NewPlayback(PlaybackConfig{Dir: w.Config().Dir})
		require.NoError(t, err)
		files, err := p.Files()
		require.NoError(t, err)
		assert.Len(t, files, 3)

		got := playAll(t, PlaybackConfig{Dir: w.Config().Dir})
		require.Len(t, got, 3)
		for i, r := range got {
			assert.EqualValues(t, i+1, r.header.Seq)
		}
	})

	t.Run("by duration", func(t *testing.T) {
		w, mock := newTestWriter(t, func(c *Config) { c.SegmentMaxDuration = time.Minute })
		require.NoError(t, w.Start(context.Background()))
		require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventBar}, []byte("x")))
		require.Eventually(t, func() bool { return w.Written() == 1 }, time.Second, time.Millisecond)
		mock.Add(2 * time.Minute)
		require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventBar}, []byte("y")))
		require.NoError(t, w.Close())

		p, err := NewPlayback(PlaybackConfig{Dir: w.Config().Dir})
		require.NoError(t, err)
		files, err := p.Files()
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})
}

func encodeRecord(t *testing.T, h schema.EventHeader, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(payload)+recordChecksumSize)
	encodeHeader(buf, h, len(payload))
	sum := checksum(buf, payload)
	buf = append(buf, payload...)
	return append(buf, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
}

func TestReaderErrors(t *testing.T) {
	rec := encodeRecord(t, schema.EventHeader{Type: schema.EventOrderFilled, Seq: 7}, []byte("payload"))

	testCases := []struct {
		desc   string
		data   func() []byte
		opts   ReaderOptions
		expErr error
	}{
		{desc: "clean end", data: func() []byte { return nil }, expErr: io.EOF},
		{desc: "truncated header", data: func() []byte { return rec[:10] }, expErr: io.ErrUnexpectedEOF},
		{desc: "truncated payload", data: func() []byte { return rec[:recordHeaderSize+3] }, expErr: io.ErrUnexpectedEOF},
		{
			desc: "bad magic",
			data: func() []byte {
				b := bytes.Clone(rec)
				b[0] = 'X'
				return b
			},
			expErr: ErrInvalidMagic,
		},
		{
			desc: "corrupted payload",
			data: func() []byte {
				b := bytes.Clone(rec)
				b[recordHeaderSize] ^= 0xff
				return b
			},
			expErr: ErrChecksumMismatch,
		},
		{
			desc:   "payload over limit",
			data:   func() []byte { return rec },
			opts:   ReaderOptions{MaxPayloadSize: 3},
			expErr: ErrPayloadTooLarge,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, _, err := NewReader(bytes.NewReader(tc.data()), tc.opts).Next()
			assert.ErrorIs(t, err, tc.expErr)
		})
	}

	t.Run("checksum disabled", func(t *testing.T) {
		b := bytes.Clone(rec)
		b[recordHeaderSize] ^= 0xff
		h, payload, err := NewReader(bytes.NewReader(b), ReaderOptions{DisableChecksum: true}).Next()
		require.NoError(t, err)
		assert.EqualValues(t, 7, h.Seq)
		assert.Len(t, payload, len("payload"))
	})
}

func TestPlaybackSkipsForeignFiles(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventTradeTick}, []byte("t")))
	require.NoError(t, w.Close())

	dir := w.Config().Dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other-1.wal"), []byte("junk"), 0o644))

	got := playAll(t, PlaybackConfig{Dir: dir})
	require.Len(t, got, 1)
	assert.Equal(t, schema.EventTradeTick, got[0].header.Type)
}

func TestPlaybackKeepsReaderErrorKind(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventTradeTick}, []byte("trade")))
	require.NoError(t, w.Close())

	dir := w.Config().Dir
	segments, err := filepath.Glob(filepath.Join(dir, "*"+segmentSuffix))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	b, err := os.ReadFile(segments[0])
	require.NoError(t, err)
	b[recordHeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(segments[0], b, 0o644))

	p, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	err = p.Run(context.Background(), func(schema.EventHeader, []byte) error { return nil })
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestPlaybackPacing(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	require.NoError(t, w.Start(context.Background()))
	for _, ts := range []int64{1_000, 1_000 + int64(time.Second)} {
		require.NoError(t, w.TryAppend(schema.EventHeader{Type: schema.EventQuoteTick, TsEvent: ts}, nil))
	}
	require.NoError(t, w.Close())

	mock := bclock.NewMock()
	p, err := NewPlayback(PlaybackConfig{Dir: w.Config().Dir, Speed: 2, Clock: mock})
	require.NoError(t, err)

	got := make(chan int64, 2)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), func(h schema.EventHeader, _ []byte) error {
			got <- h.TsEvent
			return nil
		})
	}()

	assert.EqualValues(t, 1_000, <-got)
	// the second record waits half a second of playback clock
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1_000+int64(time.Second), <-got)
	require.NoError(t, <-done)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, DefaultConfig("x").Validate())
	_, err := NewPlayback(PlaybackConfig{})
	assert.Error(t, err)
	_, err = NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	assert.Error(t, err)
}
