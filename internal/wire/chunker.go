package wire

import (
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// ChunkHeaderLen is the encoded size of a chunk header: u16 seq_no
// followed by u16 len, per the protocol's CAN-pipe chunker configuration.
const ChunkHeaderLen = 4

// ChunkWriter splits a logical buffer into fixed-size chunks, each
// prefixed with a {seq_no, len} header in device byte order. seq_no starts
// at 1 so a zeroed receive buffer can never be mistaken for a valid first
// chunk.
type ChunkWriter struct {
	order     ByteOrder
	chunkSize int
	nextSeq   uint16
}

// NewChunkWriter creates a writer that emits chunks of chunkSize bytes
// (header included), in the given byte order. chunkSize must be greater
// than ChunkHeaderLen.
func NewChunkWriter(order ByteOrder, chunkSize int) *ChunkWriter {
	return &ChunkWriter{order: order, chunkSize: chunkSize, nextSeq: 1}
}

// Split breaks payload into chunks of w.chunkSize bytes, each carrying its
// own header, writing them into dst (which must be sized with ChunksFor).
// It returns the number of chunks written.
func (w *ChunkWriter) Split(dst []byte, payload []byte) int {
	bodySize := w.chunkSize - ChunkHeaderLen
	count := 0
	for off := 0; off < len(payload) || count == 0; {
		n := len(payload) - off
		if n > bodySize {
			n = bodySize
		}
		chunk := dst[count*w.chunkSize : (count+1)*w.chunkSize]
		w.order.PutUint16(chunk[0:2], w.nextSeq)
		w.order.PutUint16(chunk[2:4], uint16(n))
		copy(chunk[ChunkHeaderLen:], payload[off:off+n])
		w.nextSeq++
		count++
		off += n
		if n < bodySize {
			break
		}
	}
	return count
}

// ChunksFor returns the number of chunkSize-sized chunks needed to carry
// payloadLen bytes of payload, always at least one (to carry a zero-length
// terminator chunk).
func ChunksFor(chunkSize, payloadLen int) int {
	bodySize := chunkSize - ChunkHeaderLen
	if payloadLen == 0 {
		return 1
	}
	n := payloadLen / bodySize
	if payloadLen%bodySize != 0 {
		n++
	}
	return n
}

// ChunkReader reassembles chunks written by a ChunkWriter, validating that
// sequence numbers are strictly consecutive starting at 1.
type ChunkReader struct {
	order      ByteOrder
	chunkSize  int
	expectSeq  uint16
}

// NewChunkReader creates a reader expecting chunkSize-byte chunks in the
// given byte order.
func NewChunkReader(order ByteOrder, chunkSize int) *ChunkReader {
	return &ChunkReader{order: order, chunkSize: chunkSize, expectSeq: 1}
}

// Join walks buf (a concatenation of whole chunks) and appends each
// chunk's body to dst, returning the extended slice. It stops at the
// first chunk whose body length is less than the maximum body size,
// treating that as the final chunk of the logical message.
func (r *ChunkReader) Join(dst []byte, buf []byte) ([]byte, error) {
	bodySize := r.chunkSize - ChunkHeaderLen
	for off := 0; off+ChunkHeaderLen <= len(buf); off += r.chunkSize {
		if off+r.chunkSize > len(buf) {
			return nil, scerr.New("wire.chunk_join", scerr.KindProtocolViolation, "truncated chunk")
		}
		seq := r.order.Uint16(buf[off : off+2])
		n := int(r.order.Uint16(buf[off+2 : off+4]))
		if seq != r.expectSeq {
			return nil, scerr.New("wire.chunk_join", scerr.KindSequenceViolation, "chunk sequence mismatch")
		}
		if n > bodySize {
			return nil, scerr.New("wire.chunk_join", scerr.KindProtocolViolation, "chunk body exceeds chunk size")
		}
		dst = append(dst, buf[off+ChunkHeaderLen:off+ChunkHeaderLen+n]...)
		r.expectSeq++
		if n < bodySize {
			break
		}
	}
	return dst, nil
}

// Reset rewinds the reader's expected sequence number to 1, for reuse
// across logical messages on the same pipe.
func (r *ChunkReader) Reset() { r.expectSeq = 1 }

// Reset rewinds the writer's sequence number to 1.
func (w *ChunkWriter) Reset() { w.nextSeq = 1 }
