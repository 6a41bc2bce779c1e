package replicore

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

// maxReplLogBatchBytes bounds a single incremental-sync batch so a
// misbehaving peer cannot force an unbounded allocation.
const maxReplLogBatchBytes = 64 << 20

// writeReplLogBatch writes entries as a 4-byte big-endian length prefix
// followed by their JSON encoding. Used for the bounded incremental-sync
// message; full dumps use the chunked stream codec instead since their
// size is not known up front.
func writeReplLogBatch(w io.Writer, entries []ReplLog) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readReplLogBatch reads a batch written by writeReplLogBatch.
func readReplLogBatch(r io.Reader) ([]ReplLog, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size > maxReplLogBatchBytes {
		return nil, ErrInternal
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var entries []ReplLog
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
