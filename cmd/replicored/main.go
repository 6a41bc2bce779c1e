// Command replicored runs the replication core as a standalone daemon
// over the in-memory reference Store/Catalog (or Consul, if configured),
// exposing the status/control HTTP API and the master-side line-protocol
// listener. It mirrors cmd/litefs's Main/ParseFlags/Run/Close shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shardkv/replicore"
	"github.com/shardkv/replicore/consulcatalog"
	"github.com/shardkv/replicore/memcatalog"
	"github.com/shardkv/replicore/memstore"
	"github.com/shardkv/replicore/statusapi"
	"github.com/shardkv/replicore/wire"
)

func main() {
	log.SetFlags(0)

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	m := NewMain()
	if err := m.ParseFlags(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := m.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = m.Close()
		os.Exit(1)
	}

	<-signalCh
	cancel()
	log.Print("signal received, replicored shutting down")

	if err := m.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hostEntry is the trivial replicore.ReplHost this standalone daemon
// hands to the manager; a real server embeds the manager and implements
// this itself.
type hostEntry string

func (h hostEntry) HostID() string { return string(h) }

// Main represents the replicored command line program.
type Main struct {
	Config Config

	Catalog      replicore.Catalog
	Stores       []replicore.Store
	Manager      *replicore.ReplManager
	StatusServer *statusapi.Server
	ReplServer   *wire.Server
}

// NewMain returns a new instance of Main with default configuration.
func NewMain() *Main {
	return &Main{Config: NewConfig()}
}

// ParseFlags parses the command line flags and config file.
func (m *Main) ParseFlags(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replicored", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments")
	}

	m.Config = NewConfig()

	if *configPath != "" {
		path, err := filepath.Abs(*configPath)
		if err != nil {
			return err
		}
		return ReadConfigFile(&m.Config, path, !*noExpandEnv)
	}

	for _, path := range configSearchPaths() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if err := ReadConfigFile(&m.Config, abs, !*noExpandEnv); err == nil {
			log.Printf("config file read from %s", abs)
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("cannot read config file at %s: %w", abs, err)
		}
	}

	log.Print("no config file found, using defaults")
	return nil
}

// Run initializes the catalog, stores, replication manager, and both
// network-facing servers, then starts serving.
func (m *Main) Run(ctx context.Context) error {
	if m.Config.StoreCount <= 0 {
		return fmt.Errorf("store-count must be positive")
	}

	if err := m.initCatalog(); err != nil {
		return fmt.Errorf("cannot init catalog: %w", err)
	}
	m.initStores()

	segMgr := replicore.NewSegmentManager(m.Stores)
	m.Manager = replicore.NewReplManager(
		m.Catalog,
		segMgr,
		m.Stores,
		hostEntry("replicored"),
		func() replicore.BlockingClient { return wire.NewBlockingClient(0) },
		func(sessionID string) error { return nil },
		replicore.Config{
			N:                    m.Config.StoreCount,
			DumpPath:             m.Config.DumpPath,
			MasterAuth:           m.Config.MasterAuth,
			MaxFullParal:         m.Config.MaxFullParal,
			IncrPoolSize:         m.Config.IncrPoolSize,
			RateLimitBytesPerSec: m.Config.RateLimitBytesPerSec,
		},
	)
	if err := m.Manager.Startup(ctx); err != nil {
		return fmt.Errorf("cannot start replication manager: %w", err)
	}

	m.ReplServer = wire.NewServer(m.Config.Repl.Addr, m.Config.MasterAuth, m.Manager)
	if err := m.ReplServer.Listen(); err != nil {
		return fmt.Errorf("cannot listen on repl addr: %w", err)
	}
	m.ReplServer.Serve()
	log.Printf("replication listener bound to %s", m.Config.Repl.Addr)

	m.StatusServer = statusapi.NewServer(m.Manager, m.Config.Status.Addr)
	if err := m.StatusServer.Listen(); err != nil {
		return fmt.Errorf("cannot listen on status addr: %w", err)
	}
	m.StatusServer.Serve()
	log.Printf("status api listening on %s", m.Config.Status.Addr)

	return nil
}

func (m *Main) initCatalog() error {
	switch m.Config.Catalog.Backend {
	case "", "mem":
		m.Catalog = memcatalog.New()
		return nil
	case "consul":
		c := consulcatalog.New(m.Config.Catalog.Consul.URL)
		if err := c.Open(); err != nil {
			return err
		}
		m.Catalog = c
		return nil
	default:
		return fmt.Errorf("unknown catalog backend %q", m.Config.Catalog.Backend)
	}
}

func (m *Main) initStores() {
	m.Stores = make([]replicore.Store, m.Config.StoreCount)
	for i := range m.Stores {
		m.Stores[i] = memstore.New(0)
	}
}

// Close stops both servers and the replication manager, in reverse
// startup order.
func (m *Main) Close() (err error) {
	if m.StatusServer != nil {
		if e := m.StatusServer.Close(); err == nil {
			err = e
		}
	}
	if m.ReplServer != nil {
		if e := m.ReplServer.Close(); err == nil {
			err = e
		}
	}
	if m.Manager != nil {
		if e := m.Manager.Close(); err == nil {
			err = e
		}
	}
	return err
}
