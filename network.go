package replicore

import (
	"io"
	"time"
)

// Client is the network contract the replication core depends on for a
// single connected peer, whether that peer was dialed (slave routine) or
// accepted (master push routine). Framing above the line protocol —
// full-sync and incremental-sync commands — is opaque here; concrete
// implementations live in the wire package. Reader/Writer expose the raw
// stream for the chunked binary payloads (dump bodies, binlog entry
// frames) that ride alongside the line commands on the same connection.
type Client interface {
	WriteLine(s string, timeout time.Duration) error
	ReadLine(timeout time.Duration) (string, error)
	GetRemoteRepr() string
	Reader() io.Reader
	Writer() io.Writer
	Close() error
}

// BlockingClient is a Client that must be dialed before use. The slave
// routine uses one per upstream connection attempt.
type BlockingClient interface {
	Client
	Connect(host string, port int, timeout time.Duration) error
}
