package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/wotkit/tdkit/tderr"
)

// EtcdConfig configures an EtcdStore.
type EtcdConfig struct {
	// Endpoints lists the etcd cluster members.
	Endpoints []string

	// DialTimeout bounds connection setup. Default: 5s
	DialTimeout time.Duration

	// TLS enables client TLS when non-nil.
	TLS *tls.Config
}

// EtcdStore is a Store backed by an etcd cluster. Entry lifetimes are etcd
// leases, so expired TDs disappear from the cluster without a sweeper.
//
// Thread-safety: All methods are safe for concurrent use.
type EtcdStore struct {
	client *clientv3.Client

	mu         sync.RWMutex
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewEtcdStore connects to etcd and verifies connectivity with a read.
func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("directory endpoints cannot be empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = cli.Get(ctx, "health-check")
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return NewEtcdStoreFromClient(cli), nil
}

// NewEtcdStoreFromClient wraps an existing client. Close closes it.
func NewEtcdStoreFromClient(cli *clientv3.Client) *EtcdStore {
	return &EtcdStore{client: cli, closedChan: make(chan struct{})}
}

func (s *EtcdStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("directory store is closed")
	}
	return nil
}

// Put implements Store. A positive ttl is rounded up to whole seconds and
// attached as a lease.
func (s *EtcdStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	var opts []clientv3.OpOption
	if ttl > 0 {
		lease, err := s.client.Grant(ctx, int64(math.Ceil(ttl.Seconds())))
		if err != nil {
			return fmt.Errorf("failed to create lease: %w", err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := s.client.Put(ctx, key, string(value), opts...); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, tderr.Newf("directory.EtcdStore", tderr.CodeNotFound, "key %s not found", key)
	}
	return resp.Kvs[0].Value, nil
}

// Delete implements Store.
func (s *EtcdStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	resp, err := s.client.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return resp.Deleted > 0, nil
}

// List implements Store.
func (s *EtcdStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	entries := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entries = append(entries, Entry{Key: string(kv.Key), Value: kv.Value})
	}
	return entries, nil
}

// Watch implements Store.
func (s *EtcdStore) Watch(ctx context.Context, prefix string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ch := make(chan struct{}, 1)
	watchChan := s.client.Watch(ctx, prefix, clientv3.WithPrefix())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// Close stops all watches and closes the etcd client.
func (s *EtcdStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closedChan)
	s.mu.Unlock()

	s.wg.Wait()
	return s.client.Close()
}
