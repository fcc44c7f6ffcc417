// Package queue implements the durable, redis-backed work queues the
// solver runs its worker pools against: one list per named queue, a
// per-job dedup set, TTL-cached matchmaker solutions, the NFT status
// board, and the authorization submitter's per-solution locks.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rawblock/memswap-solver/pkg/models"
)

// Named solve queues, shared between the listener (producer), the HTTP
// ingress (producer), and the solver engine pools (consumers) so all three
// agree on where a protocol's jobs live.
const (
	ERC20Queue  = "solve:erc20"
	ERC721Queue = "solve:erc721"
)

// QueueFor returns the named solve queue for a protocol.
func QueueFor(protocol models.Protocol) string {
	if protocol == models.ProtocolERC721 {
		return ERC721Queue
	}
	return ERC20Queue
}

// Store wraps a redis client with the specific operations the solver
// needs — not a general-purpose cache.
type Store struct {
	rdb *redis.Client
}

// New connects to the shared key-value store at url.
func New(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	return &Store{rdb: rdb}, nil
}

func queueKey(name string) string { return "queue:" + name }
func dedupKey(name string) string { return "queue:" + name + ":dedup" }

// Enqueue pushes a job onto the named queue unless its dedup key is
// already in the queue's dedup set. payload is the caller's own
// JSON-encoded job record. Dedup markers have no expiry and are not
// removed when a job finishes; a key stays taken until ReleaseDedup
// removes it.
func (s *Store) Enqueue(ctx context.Context, queueName, dedupID string, payload []byte) (bool, error) {
	added, err := s.rdb.SAdd(ctx, dedupKey(queueName), dedupID).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil // already queued
	}
	if err := s.rdb.RPush(ctx, queueKey(queueName), payload).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Dequeue blocks up to timeout for the next job on the named queue.
// Returns (nil, nil) on timeout.
func (s *Store) Dequeue(ctx context.Context, queueName string, timeout time.Duration) ([]byte, error) {
	res, err := s.rdb.BLPop(ctx, timeout, queueKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply shape: %v", res)
	}
	return []byte(res[1]), nil
}

// ReleaseDedup removes a job's dedup marker so the same key can be
// enqueued again.
func (s *Store) ReleaseDedup(ctx context.Context, queueName, dedupID string) error {
	return s.rdb.SRem(ctx, dedupKey(queueName), dedupID).Err()
}

// CacheSolution stores a matchmaker-pending solution under solver:<uuid>
// with the given TTL.
func (s *Store) CacheSolution(ctx context.Context, uuid string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, "solver:"+uuid, data, ttl).Err()
}

// LoadSolution fetches and JSON-decodes a cached solution into dst.
// Returns (false, nil) if the key has expired or never existed.
func (s *Store) LoadSolution(ctx context.Context, uuid string, dst any) (bool, error) {
	data, err := s.rdb.Get(ctx, "solver:"+uuid).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus records the NFT-flow status board entry for an intent hash.
func (s *Store) SetStatus(ctx context.Context, intentHashHex string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, "status:"+intentHashHex, data, 24*time.Hour).Err()
}

// GetStatus reads the status board entry for an intent hash into dst.
func (s *Store) GetStatus(ctx context.Context, intentHashHex string, dst any) (bool, error) {
	data, err := s.rdb.Get(ctx, "status:"+intentHashHex).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// AcquireLock takes the authorization submitter's per-solution-set lock,
// preventing a double submission for the same solution set. Returns
// false if already held.
func (s *Store) AcquireLock(ctx context.Context, solutionKey string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, solutionKey+":locked", "1", ttl).Result()
}

// ReleaseLock releases a previously acquired submission lock.
func (s *Store) ReleaseLock(ctx context.Context, solutionKey string) error {
	return s.rdb.Del(ctx, solutionKey+":locked").Err()
}

// AddToSortedSet adds a candidate solution to the solution-set sorted
// set the authorization submitter picks its top-scored entry from.
func (s *Store) AddToSortedSet(ctx context.Context, solutionSetKey string, member string, score float64) error {
	return s.rdb.ZAdd(ctx, solutionSetKey, &redis.Z{Score: score, Member: member}).Err()
}

// TopScored returns the highest-scored member of a solution set, or
// ("", false, nil) if the set is empty.
func (s *Store) TopScored(ctx context.Context, solutionSetKey string) (string, bool, error) {
	res, err := s.rdb.ZRevRange(ctx, solutionSetKey, 0, 0).Result()
	if err != nil {
		return "", false, err
	}
	if len(res) == 0 {
		return "", false, nil
	}
	return res[0], true, nil
}

// QueueLength reports how many jobs are waiting on the named queue —
// the admin dashboard's queue-depth view.
func (s *Store) QueueLength(ctx context.Context, queueName string) (int64, error) {
	return s.rdb.LLen(ctx, queueKey(queueName)).Result()
}

// SAdd adds a member to a plain redis set — used by the inventory
// manager to remember every token it has ever swept, so the hourly
// sweep has something to iterate beyond what the queue hands it.
func (s *Store) SAdd(ctx context.Context, key, member string) error {
	return s.rdb.SAdd(ctx, key, member).Err()
}

// SMembers lists a plain redis set's members.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

// Close releases the underlying redis connection pool.
func (s *Store) Close() error { return s.rdb.Close() }
