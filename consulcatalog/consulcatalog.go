// Package consulcatalog implements replicore.Catalog backed by Consul KV.
// It is adapted from litefs's consul.Leaser (consul/consul.go): the same
// client setup and KV get/put shape, repurposed from lease acquisition to
// plain metadata storage since leader election is a non-goal here.
package consulcatalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/consul/api"

	"github.com/shardkv/replicore"
)

var _ replicore.Catalog = (*Catalog)(nil)

// Catalog is a replicore.Catalog that stores each store's StoreMeta as a
// JSON value under a Consul KV key prefixed by KeyPrefix.
type Catalog struct {
	consulURL string
	client    *api.Client

	// KeyPrefix is prepended to every store's key. Automatically set from
	// the consul URL's path, if it has one, mirroring Leaser.KeyPrefix.
	KeyPrefix string
}

// New returns a Catalog that will talk to the Consul agent at consulURL
// once Open is called.
func New(consulURL string) *Catalog {
	return &Catalog{consulURL: consulURL}
}

// Open initializes the underlying Consul client.
func (c *Catalog) Open() error {
	u, err := url.Parse(c.consulURL)
	if err != nil {
		return err
	}

	config := api.DefaultConfig()
	config.HttpClient = http.DefaultClient
	config.Address = u.Host
	config.Scheme = u.Scheme
	if u.User != nil {
		config.Token, _ = u.User.Password()
	}
	if v := strings.TrimPrefix(u.Path, "/"); v != "" {
		c.KeyPrefix = v
	}

	c.client, err = api.NewClient(config)
	return err
}

func (c *Catalog) kvKey(id int) string {
	return path.Join(c.KeyPrefix, "replicore", "store", strconv.Itoa(id))
}

// GetStoreMeta returns replicore.ErrNotFound if no meta has been persisted
// for id.
func (c *Catalog) GetStoreMeta(id int) (replicore.StoreMeta, error) {
	kv, _, err := c.client.KV().Get(c.kvKey(id), nil)
	if err != nil {
		return replicore.StoreMeta{}, fmt.Errorf("get store meta %d: %w", id, err)
	}
	if kv == nil || len(kv.Value) == 0 {
		return replicore.StoreMeta{}, replicore.ErrNotFound
	}

	var meta replicore.StoreMeta
	if err := json.Unmarshal(kv.Value, &meta); err != nil {
		return replicore.StoreMeta{}, fmt.Errorf("unmarshal store meta %d: %w", id, err)
	}
	return meta, nil
}

// SetStoreMeta persists meta under its own id's key, unconditionally
// overwriting whatever was there before.
func (c *Catalog) SetStoreMeta(meta replicore.StoreMeta) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal store meta %d: %w", meta.ID, err)
	}

	if _, err := c.client.KV().Put(&api.KVPair{
		Key:   c.kvKey(meta.ID),
		Value: value,
	}, nil); err != nil {
		return fmt.Errorf("put store meta %d: %w", meta.ID, err)
	}
	return nil
}
