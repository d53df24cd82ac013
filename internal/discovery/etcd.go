package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/oshokin/alarm-quorum/internal/logger"
)

const (
	// DefaultEtcdPrefix is the key prefix under which hosts are published.
	DefaultEtcdPrefix = "/alarm-quorum"

	// DefaultLeaseTTL is the lease lifetime in seconds; a crashed host vanishes after it.
	DefaultLeaseTTL = 10

	// etcdDialTimeout bounds the initial connection to the cluster.
	etcdDialTimeout = 5 * time.Second

	// revokeTimeout bounds lease revocation on Unadvertise.
	revokeTimeout = 3 * time.Second
)

// errBadEntry is returned for keys or values that do not describe a host.
var errBadEntry = errors.New("bad etcd host entry")

// Etcd publishes the host under a lease and watches the key prefix.
type Etcd struct {
	// client is the shared etcd client.
	client *clientv3.Client
	// serviceType scopes keys of Advertise.
	serviceType string
	// prefix is the root of every key.
	prefix string
	// ttl is the lease lifetime in seconds.
	ttl int64
	// address is the IP published by Advertise; detected when empty.
	address string
}

// EtcdOption configures the etcd backend.
type EtcdOption func(*Etcd)

// WithAdvertiseAddress sets the IP that Advertise publishes.
func WithAdvertiseAddress(address string) EtcdOption {
	return func(e *Etcd) {
		e.address = address
	}
}

// WithLeaseTTL overrides DefaultLeaseTTL.
func WithLeaseTTL(seconds int64) EtcdOption {
	return func(e *Etcd) {
		if seconds > 0 {
			e.ttl = seconds
		}
	}
}

// NewEtcd connects to the cluster.
func NewEtcd(endpoints []string, serviceType string, opts ...EtcdOption) (*Etcd, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	e := &Etcd{
		client:      client,
		serviceType: serviceType,
		prefix:      DefaultEtcdPrefix,
		ttl:         DefaultLeaseTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Close releases the client.
func (e *Etcd) Close() error {
	return e.client.Close()
}

// etcdEntry is the JSON value stored per host.
type etcdEntry struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Advertise grants a lease, stores the host under it and keeps it alive.
func (e *Etcd) Advertise(ctx context.Context, name string, port int) (Registration, error) {
	address := e.address
	if address == "" {
		var err error
		if address, err = OutboundIP(); err != nil {
			return nil, err
		}
	}

	value, err := json.Marshal(etcdEntry{Address: address, Port: port})
	if err != nil {
		return nil, fmt.Errorf("encode host entry: %w", err)
	}

	lease, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}

	key := hostKey(e.prefix, e.serviceType, name)
	if _, err = e.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())

	responses, err := e.client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("keep lease alive: %w", err)
	}

	go func() {
		for range responses { //nolint:revive // Draining keeps the lease renewals flowing.
		}

		logger.DebugKV(ctx, "Lease keep-alive stopped", "key", key)
	}()

	logger.InfoKV(ctx, "Advertised host in etcd", "key", key, "address", address, "port", port)

	return &etcdRegistration{client: e.client, lease: lease.ID, cancel: cancel}, nil
}

// Watch lists current hosts and then follows puts and deletes under the prefix.
func (e *Etcd) Watch(ctx context.Context, serviceType string) (<-chan Change, error) {
	prefix := hostKey(e.prefix, serviceType, "") + "/"

	current, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	changes := make(chan Change, changeBuffer+len(current.Kvs))

	for _, kv := range current.Kvs {
		svc, err := serviceFromKV(kv.Key, kv.Value)
		if err != nil {
			logger.WarnKV(ctx, "Skipping etcd entry", "key", string(kv.Key), "error", err)
			continue
		}

		changes <- Change{Kind: Added, Service: svc}
	}

	watch := e.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(current.Header.Revision+1))

	go func() {
		defer close(changes)

		for response := range watch {
			if err := response.Err(); err != nil {
				logger.ErrorKV(ctx, "etcd watch failed", "prefix", prefix, "error", err)
				return
			}

			for _, ev := range response.Events {
				change, ok := changeFromEvent(ev)
				if !ok {
					continue
				}

				if !send(ctx, changes, change) {
					return
				}
			}
		}
	}()

	return changes, nil
}

// changeFromEvent converts a watch event into a change.
func changeFromEvent(ev *clientv3.Event) (Change, bool) {
	switch ev.Type {
	case clientv3.EventTypePut:
		svc, err := serviceFromKV(ev.Kv.Key, ev.Kv.Value)
		if err != nil {
			return Change{}, false
		}

		return Change{Kind: Added, Service: svc}, true
	case clientv3.EventTypeDelete:
		return Change{Kind: Removed, Service: Service{Name: path.Base(string(ev.Kv.Key))}}, true
	default:
		return Change{}, false
	}
}

// hostKey builds "<prefix>/<serviceType>/<name>".
func hostKey(prefix, serviceType, name string) string {
	return path.Join(prefix, serviceType, name)
}

// serviceFromKV decodes a stored host entry.
func serviceFromKV(key, value []byte) (Service, error) {
	name := path.Base(string(key))
	if name == "" || name == "." || name == "/" || strings.HasSuffix(string(key), "/") {
		return Service{}, fmt.Errorf("%w: key %q", errBadEntry, key)
	}

	var entry etcdEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Service{}, fmt.Errorf("%w: %w", errBadEntry, err)
	}

	if entry.Address == "" || entry.Port <= 0 {
		return Service{}, fmt.Errorf("%w: incomplete value %q", errBadEntry, value)
	}

	return Service{Name: name, Address: entry.Address, Port: entry.Port}, nil
}

// etcdRegistration revokes the lease of an advertisement.
type etcdRegistration struct {
	client *clientv3.Client
	lease  clientv3.LeaseID
	cancel context.CancelFunc
	once   sync.Once
}

// Unadvertise stops keep-alives and revokes the lease, deleting the key.
func (r *etcdRegistration) Unadvertise(ctx context.Context) error {
	var err error

	r.once.Do(func() {
		r.cancel()

		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()

		if _, revokeErr := r.client.Revoke(revokeCtx, r.lease); revokeErr != nil {
			err = fmt.Errorf("revoke lease: %w", revokeErr)
		}
	})

	return err
}
