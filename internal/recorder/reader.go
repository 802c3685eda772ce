package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"hftcore/internal/schema"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes journal records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record header and payload. The payload is only
// valid until the next call to Next. A clean end of input is io.EOF; a
// record cut short is io.ErrUnexpectedEOF.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	var header schema.EventHeader

	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return header, nil, io.EOF
		}
		return header, nil, io.ErrUnexpectedEOF
	}

	header, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, ErrPayloadTooLarge
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if payloadLen > 0 {
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return header, nil, io.ErrUnexpectedEOF
		}
	}

	var sumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sumBuf[:]); err != nil {
		return header, nil, io.ErrUnexpectedEOF
	}
	if !r.opts.DisableChecksum && binary.LittleEndian.Uint32(sumBuf[:]) != checksum(r.headerBuf, r.payload) {
		return header, nil, ErrChecksumMismatch
	}
	return header, r.payload, nil
}
