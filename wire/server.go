package wire

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shardkv/replicore"
)

// acceptLineTimeout bounds how long the server waits for a replica to send
// its next command line before giving up on the connection.
const acceptLineTimeout = 30 * time.Second

// Handler answers the master side of the line protocol for one store set.
// *replicore.ReplManager implements it via ServeFullSync/ServeIncrSync.
type Handler interface {
	ServeFullSync(ctx context.Context, storeID int, client replicore.Client) error
	ServeIncrSync(storeID int, clientID string, startPos uint64, client replicore.Client)
}

// Server accepts replica connections and drives them through the AUTH/
// FULLSYNC/INCRSYNC line protocol described in spec.md §6, handing each
// connection off to a Handler. Grounded on litefs's http/server.go
// Listen/Serve/Close shape, adapted from HTTP framing to the raw
// net.Listener accept loop this line protocol requires.
type Server struct {
	ln net.Listener

	addr       string
	masterAuth string
	handler    Handler

	nextClientID int64

	closeCh chan struct{}
	doneCh  chan struct{}
}

// NewServer returns a Server that will accept replica connections on addr
// and dispatch them to handler. masterAuth, if non-empty, is the password
// replicas must present via AUTH before any other command is accepted.
func NewServer(addr, masterAuth string, handler Handler) *Server {
	return &Server{
		addr:       addr,
		masterAuth: masterAuth,
		handler:    handler,
	}
}

// Listen binds the server's listener.
func (s *Server) Listen() (err error) {
	s.ln, err = net.Listen("tcp", s.addr)
	return err
}

// Serve accepts connections until Close is called, handling each on its
// own goroutine.
func (s *Server) Serve() {
	s.closeCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.closeCh:
					return
				default:
					log.Printf("replicore/wire: accept: %v", err)
					return
				}
			}
			go s.serveConn(conn)
		}
	}()
}

// Close stops accepting new connections and waits for the accept loop to
// return. In-flight connections are not forcibly closed; they exit on
// their own once the replica disconnects or the transport errors.
func (s *Server) Close() error {
	if s.closeCh != nil {
		close(s.closeCh)
	}
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	return err
}

// Port returns the port the listener is bound to.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) serveConn(conn net.Conn) {
	client := NewClient(conn)

	authed := s.masterAuth == ""
	for {
		line, err := client.ReadLine(acceptLineTimeout)
		if err != nil {
			_ = client.Close()
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "AUTH":
			authed = s.handleAuth(client, fields)
		case "FULLSYNC":
			if !authed {
				_ = client.WriteLine("-NOAUTH", acceptLineTimeout)
				continue
			}
			s.handleFullSync(client, fields)
			return
		case "INCRSYNC":
			if !authed {
				_ = client.WriteLine("-NOAUTH", acceptLineTimeout)
				continue
			}
			s.handleIncrSync(client, fields)
			return
		default:
			_ = client.WriteLine(fmt.Sprintf("-ERR unknown command %q", fields[0]), acceptLineTimeout)
		}
	}
}

func (s *Server) handleAuth(client *Client, fields []string) bool {
	if len(fields) < 2 || fields[1] != s.masterAuth {
		_ = client.WriteLine("-ERR invalid password", acceptLineTimeout)
		return false
	}
	_ = client.WriteLine("+OK", acceptLineTimeout)
	return true
}

// handleFullSync answers "FULLSYNC <storeId> <sourceStoreId>".
func (s *Server) handleFullSync(client *Client, fields []string) {
	if len(fields) < 2 {
		_ = client.WriteLine("-ERR wrong number of arguments", acceptLineTimeout)
		return
	}
	storeID, err := strconv.Atoi(fields[1])
	if err != nil {
		_ = client.WriteLine("-ERR invalid store id", acceptLineTimeout)
		return
	}

	if err := client.WriteLine("+OK", acceptLineTimeout); err != nil {
		return
	}
	if err := s.handler.ServeFullSync(context.Background(), storeID, client); err != nil {
		log.Printf("replicore/wire: full sync: store=%d err=%v", storeID, err)
	}
}

// handleIncrSync answers "INCRSYNC <storeId> <binlogId>". Unlike
// FULLSYNC, ownership of the connection passes to the manager's
// pushStatus bookkeeping rather than being served synchronously here.
func (s *Server) handleIncrSync(client *Client, fields []string) {
	if len(fields) < 3 {
		_ = client.WriteLine("-ERR wrong number of arguments", acceptLineTimeout)
		return
	}
	storeID, err := strconv.Atoi(fields[1])
	if err != nil {
		_ = client.WriteLine("-ERR invalid store id", acceptLineTimeout)
		return
	}
	startPos, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		_ = client.WriteLine("-ERR invalid binlog id", acceptLineTimeout)
		return
	}

	if err := client.WriteLine("+OK", acceptLineTimeout); err != nil {
		return
	}

	id := atomic.AddInt64(&s.nextClientID, 1)
	clientID := fmt.Sprintf("%s-%d", client.GetRemoteRepr(), id)
	s.handler.ServeIncrSync(storeID, clientID, startPos, client)
}
