package bolt

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta        = []byte("meta")
	keyPartitionCount = []byte("partition_count")
)

// Log is a partitioned, durable append log backed by BoltDB. Every
// partition is an ordered bucket of entries keyed by offset; a second
// bucket per partition maps idempotency keys to offsets so that producer
// retries collapse onto the original entry.
type Log struct {
	db         *bolt.DB
	partitions int

	mu       sync.Mutex
	watchers []chan struct{}
}

// Open creates (or reopens) the log at dir with the given partition
// count. The count is fixed at first open; reopening with a different
// value is an error, since partition assignment would change.
func Open(dir string, partitions int) (*Log, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", partitions)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, "votelog.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open vote log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if v := meta.Get(keyPartitionCount); v != nil {
			stored := int(binary.BigEndian.Uint32(v))
			if stored != partitions {
				return fmt.Errorf("log has %d partitions, requested %d", stored, partitions)
			}
		} else {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(partitions))
			if err := meta.Put(keyPartitionCount, b); err != nil {
				return err
			}
		}
		for p := 0; p < partitions; p++ {
			if _, err := tx.CreateBucketIfNotExists(entriesBucket(p)); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(idemBucket(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vote log: %w", err)
	}

	l := &Log{db: db, partitions: partitions, watchers: make([]chan struct{}, partitions)}
	for p := range l.watchers {
		l.watchers[p] = make(chan struct{})
	}
	return l, nil
}

func entriesBucket(p int) []byte { return []byte(fmt.Sprintf("entries.%d", p)) }
func idemBucket(p int) []byte    { return []byte(fmt.Sprintf("idem.%d", p)) }

func offsetKey(offset uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, offset)
	return b
}

// PartitionFor maps a (election, subject) pair to its partition. All
// attempts from the same voter in the same election share one partition,
// so dedup sees them in submission order.
func PartitionFor(electionID, subject string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(electionID))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return int(h.Sum32() % uint32(partitions))
}

// IdempotencyKey derives the producer-side dedup key for an attempt.
func IdempotencyKey(electionID, subject string) []byte {
	sum := sha256.Sum256([]byte(electionID + "\x00" + subject))
	return sum[:]
}

func (l *Log) Partitions() int { return l.partitions }

func (l *Log) Append(ctx context.Context, attempt domain.VoteAttempt) (ports.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.AppendResult{}, err
	}

	p := PartitionFor(attempt.ElectionID, attempt.VoterSubject, l.partitions)
	idemKey := IdempotencyKey(attempt.ElectionID, attempt.VoterSubject)

	var res ports.AppendResult
	err := l.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket(idemBucket(p))
		if v := idem.Get(idemKey); v != nil {
			res = ports.AppendResult{Partition: p, Offset: binary.BigEndian.Uint64(v), Duplicate: true}
			return nil
		}

		entries := tx.Bucket(entriesBucket(p))
		offset, err := entries.NextSequence()
		if err != nil {
			return err
		}
		entry := domain.LogEntry{Partition: p, Offset: offset, Attempt: attempt}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := entries.Put(offsetKey(offset), data); err != nil {
			return err
		}
		if err := idem.Put(idemKey, offsetKey(offset)); err != nil {
			return err
		}
		res = ports.AppendResult{Partition: p, Offset: offset}
		return nil
	})
	if err != nil {
		return ports.AppendResult{}, fmt.Errorf("append vote attempt: %w", err)
	}

	if !res.Duplicate {
		l.notify(p)
	}
	return res, nil
}

func (l *Log) Read(ctx context.Context, partition int, from uint64, max int) ([]domain.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if partition < 0 || partition >= l.partitions {
		return nil, fmt.Errorf("partition %d out of range", partition)
	}
	if from == 0 {
		from = 1
	}

	var out []domain.LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entriesBucket(partition)).Cursor()
		for k, v := c.Seek(offsetKey(from)); k != nil && len(out) < max; k, v = c.Next() {
			var entry domain.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode entry at offset %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read partition %d: %w", partition, err)
	}
	return out, nil
}

func (l *Log) HasAttempt(ctx context.Context, electionID, subject string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := PartitionFor(electionID, subject, l.partitions)
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(idemBucket(p)).Get(IdempotencyKey(electionID, subject)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup attempt: %w", err)
	}
	return found, nil
}

// Watch returns a channel closed on the next append to the partition.
func (l *Log) Watch(partition int) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watchers[partition]
}

func (l *Log) notify(partition int) {
	l.mu.Lock()
	close(l.watchers[partition])
	l.watchers[partition] = make(chan struct{})
	l.mu.Unlock()
}

func (l *Log) Close() error {
	return l.db.Close()
}
