package core

// Wire messages (spec.md §6): BlobReplicationRequest/Response and
// BlobFetchRequest/Response, serialised in a length-prefixed binary
// envelope (json.Marshal over a length-delimited libp2p stream) that
// preserves byte boundaries.

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
)

// BlobReplicationRequest asks a peer to ensure it holds and pins cid,
// fetching it from the network on the peer's own behalf if necessary
// (spec.md §4.4 receiver side).
type BlobReplicationRequest struct {
	CID cid.Cid `json:"cid"`
}

// BlobReplicationResponse reports the outcome of a BlobReplicationRequest.
type BlobReplicationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error_msg,omitempty"`
}

// BlobFetchRequest asks a peer for the raw bytes behind a CID it is known
// (or believed) to hold.
type BlobFetchRequest struct {
	CID cid.Cid `json:"cid"`
}

// BlobFetchResponse carries the requested bytes, or an error if the peer
// could not serve them.
type BlobFetchResponse struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error_msg,omitempty"`
}

const maxEnvelopeSize = 64 << 20 // 64 MiB guards against a hostile length prefix

// writeEnvelope writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v.
func writeEnvelope(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("federation: encode envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("federation: write envelope length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("federation: write envelope payload: %w", err)
	}
	return nil
}

// readEnvelope reads a length-prefixed JSON envelope into v.
func readEnvelope(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("federation: read envelope length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxEnvelopeSize {
		return fmt.Errorf("%w: envelope of %d bytes exceeds limit", ErrMalformed, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("federation: read envelope payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrMalformed, err)
	}
	return nil
}
