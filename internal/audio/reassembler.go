package audio

// Reassembler turns network chunks of arbitrary length into frame-aligned PCM.
// It holds at most FrameSize-1 bytes between calls and is not safe for
// concurrent use; one stream reader owns it.
type Reassembler struct {
	leftover [FrameSize]byte
	pending  int // Valid bytes in leftover, always < FrameSize

	// Statistics
	bytesIn        uint64
	bytesOut       uint64
	bytesDropped   uint64
	chunksIngested uint64
}

// ReassemblerStats represents reassembly counters for one stream
type ReassemblerStats struct {
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
	BytesDropped   uint64 `json:"bytes_dropped"`
	ChunksIngested uint64 `json:"chunks_ingested"`
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Ingest prepends any stored leftover to chunk and returns the whole-frame region.
// The returned slice is freshly allocated and may be empty. The remainder
// (0 or 1 byte) is kept for the next call.
func (r *Reassembler) Ingest(chunk []byte) []byte {
	r.chunksIngested++
	r.bytesIn += uint64(len(chunk))

	total := r.pending + len(chunk)
	usable := total - total%FrameSize
	if usable == 0 {
		copy(r.leftover[r.pending:], chunk)
		r.pending = total
		return nil
	}

	out := make([]byte, usable)
	n := copy(out, r.leftover[:r.pending])
	consumed := copy(out[n:], chunk)

	rest := chunk[consumed:]
	r.pending = copy(r.leftover[:], rest)
	r.bytesOut += uint64(usable)

	return out
}

// held returns the number of bytes held back for the next chunk
func (r *Reassembler) held() int {
	return r.pending
}

// Finish discards any incomplete trailing frame at end of stream and
// returns how many bytes were dropped
func (r *Reassembler) Finish() int {
	dropped := r.pending
	r.bytesDropped += uint64(dropped)
	r.pending = 0
	return dropped
}

// Reset clears the leftover without counting it as dropped (stream aborted)
func (r *Reassembler) Reset() {
	r.pending = 0
}

// Stats returns reassembly counters
func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		BytesIn:        r.bytesIn,
		BytesOut:       r.bytesOut,
		BytesDropped:   r.bytesDropped,
		ChunksIngested: r.chunksIngested,
	}
}
