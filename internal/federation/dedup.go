package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedStoreConfig carries the Redis connection shape: address,
// credentials, DB index, and a key prefix namespacing this federation from
// any other tenant of the same Redis instance.
type SharedStoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// DedupTTL bounds how long a fingerprint is remembered; it must exceed
	// the local in-process dedup window so a federated duplicate that
	// arrives late is still caught.
	DedupTTL time.Duration

	// IncompleteWorkbaseTTL bounds how long a remote, not-yet-complete
	// workbase's serialized state is retained while awaiting txn data.
	IncompleteWorkbaseTTL time.Duration
}

// DefaultSharedStoreConfig returns sensible defaults.
func DefaultSharedStoreConfig() *SharedStoreConfig {
	return &SharedStoreConfig{
		RedisAddr:             "localhost:6379",
		RedisDB:               0,
		KeyPrefix:             "stratifier:federation:",
		DedupTTL:              10 * time.Minute,
		IncompleteWorkbaseTTL: 2 * time.Minute,
	}
}

// SharedStore is the cross-process namespace a federation of stratifier
// processes shares for dedup-window and incomplete-workbase state.
type SharedStore struct {
	client *redis.Client
	config *SharedStoreConfig
}

// NewSharedStore dials Redis and verifies connectivity.
func NewSharedStore(config *SharedStoreConfig) (*SharedStore, error) {
	if config == nil {
		config = DefaultSharedStoreConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.RedisAddr,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     50,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("federation: failed to connect to shared Redis store: %w", err)
	}

	return &SharedStore{client: client, config: config}, nil
}

// Close releases the underlying Redis connection pool.
func (s *SharedStore) Close() error {
	return s.client.Close()
}

func (s *SharedStore) dedupKey(peerID, fingerprint string) string {
	return fmt.Sprintf("%sdedup:%s:%s", s.config.KeyPrefix, peerID, fingerprint)
}

// MarkSeen records a share fingerprint for peerID and reports whether it had
// already been seen (true) or was freshly recorded (false). The SETNX/TTL
// pair makes this check-and-set atomic across every process sharing the
// store, which a purely in-process dedup map cannot offer in a federation.
func (s *SharedStore) MarkSeen(ctx context.Context, peerID, fingerprint string) (alreadySeen bool, err error) {
	ok, err := s.client.SetNX(ctx, s.dedupKey(peerID, fingerprint), 1, s.config.DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("federation: dedup check failed: %w", err)
	}
	// SetNX returns true when the key was newly set, i.e. not seen before.
	return !ok, nil
}

func (s *SharedStore) workbaseKey(peerID string, workbaseID int64) string {
	return fmt.Sprintf("%sincomplete-workbase:%s:%d", s.config.KeyPrefix, peerID, workbaseID)
}

// IncompleteWorkbase is the serialized view of a remote workbase received
// from an upstream before its full transaction set has arrived.
type IncompleteWorkbase struct {
	PeerID      string    `json:"peer_id"`
	WorkbaseID  int64     `json:"workbase_id"`
	Height      uint32    `json:"height"`
	ReceivedAt  time.Time `json:"received_at"`
	CoinbasePfx []byte    `json:"coinbase_prefix"`
	CoinbaseSfx []byte    `json:"coinbase_suffix"`
}

// StoreIncompleteWorkbase persists a remote workbase's partial state so any
// process in the federation can complete it once full txn data arrives.
func (s *SharedStore) StoreIncompleteWorkbase(ctx context.Context, wb *IncompleteWorkbase) error {
	wb.ReceivedAt = time.Now()
	data, err := json.Marshal(wb)
	if err != nil {
		return fmt.Errorf("federation: failed to marshal incomplete workbase: %w", err)
	}
	return s.client.Set(ctx, s.workbaseKey(wb.PeerID, wb.WorkbaseID), data, s.config.IncompleteWorkbaseTTL).Err()
}

// LoadIncompleteWorkbase retrieves a previously stored partial workbase, or
// nil if it is unknown or has expired.
func (s *SharedStore) LoadIncompleteWorkbase(ctx context.Context, peerID string, workbaseID int64) (*IncompleteWorkbase, error) {
	data, err := s.client.Get(ctx, s.workbaseKey(peerID, workbaseID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("federation: failed to load incomplete workbase: %w", err)
	}

	var wb IncompleteWorkbase
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("federation: failed to unmarshal incomplete workbase: %w", err)
	}
	return &wb, nil
}

// ClearIncompleteWorkbase removes a workbase once it has been completed.
func (s *SharedStore) ClearIncompleteWorkbase(ctx context.Context, peerID string, workbaseID int64) error {
	return s.client.Del(ctx, s.workbaseKey(peerID, workbaseID)).Err()
}

// DeletePeerNamespace clears every key belonging to peerID, e.g. once a peer
// is removed from the roster.
func (s *SharedStore) DeletePeerNamespace(ctx context.Context, peerID string) error {
	pattern := fmt.Sprintf("%s*:%s:*", s.config.KeyPrefix, peerID)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
