package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUniqueness = []byte("uniqueness")
	bucketRejected   = []byte("rejected")
	bucketCounters   = []byte("counters")
	bucketOffsets    = []byte("offsets")
)

// Store persists the dedup stage's and the aggregator's state in one
// BoltDB file: uniqueness records, the accepted-vote topic, aggregate
// counters, the rejected-duplicate audit trail and committed consumer
// offsets. Keeping them in one file lets each decision be one transaction.
type Store struct {
	db         *bolt.DB
	partitions int

	mu       sync.Mutex
	watchers []chan struct{}
}

func Open(dir string, partitions int) (*Store, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", partitions)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, "pipeline.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open pipeline store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUniqueness, bucketRejected, bucketCounters, bucketOffsets} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		for p := 0; p < partitions; p++ {
			if _, err := tx.CreateBucketIfNotExists(acceptedBucket(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init pipeline store: %w", err)
	}

	s := &Store{db: db, partitions: partitions, watchers: make([]chan struct{}, partitions)}
	for p := range s.watchers {
		s.watchers[p] = make(chan struct{})
	}
	return s, nil
}

func acceptedBucket(p int) []byte { return []byte(fmt.Sprintf("accepted.%d", p)) }

func uniqKey(electionID, subject string) []byte {
	return []byte(electionID + "\x00" + subject)
}

func dedupOffsetKey(p int) []byte { return []byte(fmt.Sprintf("dedup.%d", p)) }
func aggOffsetKey(p int) []byte   { return []byte(fmt.Sprintf("agg.%d", p)) }

func u64Key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func readOffset(b *bolt.Bucket, key []byte) uint64 {
	if v := b.Get(key); v != nil {
		return binary.BigEndian.Uint64(v)
	}
	return 0
}

// Admit performs the atomic check-and-set for one log entry. The
// uniqueness write, the accepted-topic append and the dedup offset
// advance commit as one transaction; replaying an already-committed
// offset is a no-op, which makes at-least-once delivery from the log
// yield exactly-once admission.
func (s *Store) Admit(ctx context.Context, entry domain.LogEntry) (ports.AdmitOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		outcome  ports.AdmitOutcome
		accepted bool
	)
	key := uniqKey(entry.Attempt.ElectionID, entry.Attempt.VoterSubject)

	err := s.db.Update(func(tx *bolt.Tx) error {
		offsets := tx.Bucket(bucketOffsets)
		committed := readOffset(offsets, dedupOffsetKey(entry.Partition))
		uniq := tx.Bucket(bucketUniqueness)

		if entry.Offset <= committed {
			// Replayed entry; the decision is already durable.
			outcome = replayedOutcome(uniq.Get(key), entry.Attempt.ID)
			return nil
		}

		if existing := uniq.Get(key); existing != nil {
			rejected := domain.RejectedDuplicate{Attempt: entry.Attempt, RejectedAt: time.Now().UTC()}
			data, err := json.Marshal(rejected)
			if err != nil {
				return err
			}
			auditKey := append(append([]byte{}, key...), 0)
			auditKey = append(auditKey, u64Key(entry.Offset)...)
			if err := tx.Bucket(bucketRejected).Put(auditKey, data); err != nil {
				return err
			}
			outcome = ports.AdmitDuplicate
		} else {
			vote := domain.AcceptedVote{VoteAttempt: entry.Attempt, AcceptedAt: time.Now().UTC()}
			data, err := json.Marshal(vote)
			if err != nil {
				return err
			}
			if err := uniq.Put(key, data); err != nil {
				return err
			}
			acc := tx.Bucket(acceptedBucket(entry.Partition))
			seq, err := acc.NextSequence()
			if err != nil {
				return err
			}
			if err := acc.Put(u64Key(seq), data); err != nil {
				return err
			}
			outcome = ports.AdmitAccepted
			accepted = true
		}

		return offsets.Put(dedupOffsetKey(entry.Partition), u64Key(entry.Offset))
	})
	if err != nil {
		return 0, fmt.Errorf("admit attempt %s: %w", entry.Attempt.ID, err)
	}

	if accepted {
		s.notify(entry.Partition)
	}
	return outcome, nil
}

func replayedOutcome(existing []byte, attemptID uuid.UUID) ports.AdmitOutcome {
	if existing == nil {
		// Offset committed but no record: the attempt raced a duplicate
		// in the same partition batch and lost.
		return ports.AdmitDuplicate
	}
	var vote domain.AcceptedVote
	if err := json.Unmarshal(existing, &vote); err == nil && vote.ID == attemptID {
		return ports.AdmitAccepted
	}
	return ports.AdmitDuplicate
}

func (s *Store) DedupOffset(partition int) (uint64, error) {
	var off uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		off = readOffset(tx.Bucket(bucketOffsets), dedupOffsetKey(partition))
		return nil
	})
	return off, err
}

func (s *Store) ReadAccepted(ctx context.Context, partition int, from uint64, max int) ([]ports.AcceptedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}

	var out []ports.AcceptedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(acceptedBucket(partition)).Cursor()
		for k, v := c.Seek(u64Key(from)); k != nil && len(out) < max; k, v = c.Next() {
			var vote domain.AcceptedVote
			if err := json.Unmarshal(v, &vote); err != nil {
				return fmt.Errorf("decode accepted vote: %w", err)
			}
			out = append(out, ports.AcceptedEntry{
				Partition: partition,
				Offset:    binary.BigEndian.Uint64(k),
				Vote:      vote,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read accepted partition %d: %w", partition, err)
	}
	return out, nil
}

func (s *Store) AcceptedWatch(partition int) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchers[partition]
}

func (s *Store) notify(partition int) {
	s.mu.Lock()
	close(s.watchers[partition])
	s.watchers[partition] = make(chan struct{})
	s.mu.Unlock()
}

// ApplyCounters commits the batch's counter increments and the new
// aggregator offset as one unit. A batch whose upTo is not beyond the
// committed offset is a replay and is skipped whole.
func (s *Store) ApplyCounters(ctx context.Context, partition int, upTo uint64, deltas []domain.CounterDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		offsets := tx.Bucket(bucketOffsets)
		if upTo <= readOffset(offsets, aggOffsetKey(partition)) {
			return nil
		}

		counters := tx.Bucket(bucketCounters)
		for _, d := range deltas {
			key := uniqKey(d.ElectionID, d.CandidateID)
			cur := int64(0)
			if v := counters.Get(key); v != nil {
				cur = int64(binary.BigEndian.Uint64(v))
			}
			if err := counters.Put(key, u64Key(uint64(cur+d.Delta))); err != nil {
				return err
			}
		}
		return offsets.Put(aggOffsetKey(partition), u64Key(upTo))
	})
	if err != nil {
		return fmt.Errorf("apply counters partition %d: %w", partition, err)
	}
	return nil
}

func (s *Store) AggregatorOffset(partition int) (uint64, error) {
	var off uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		off = readOffset(tx.Bucket(bucketOffsets), aggOffsetKey(partition))
		return nil
	})
	return off, err
}

func (s *Store) LookupAccepted(ctx context.Context, electionID, subject string) (*domain.AcceptedVote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var vote *domain.AcceptedVote
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUniqueness).Get(uniqKey(electionID, subject))
		if v == nil {
			return nil
		}
		vote = &domain.AcceptedVote{}
		return json.Unmarshal(v, vote)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup accepted vote: %w", err)
	}
	return vote, nil
}

func (s *Store) CounterSnapshot(ctx context.Context) (map[domain.CounterKey]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := make(map[domain.CounterKey]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCounters).ForEach(func(k, v []byte) error {
			sep := bytes.IndexByte(k, 0)
			if sep < 0 {
				return fmt.Errorf("malformed counter key %q", k)
			}
			key := domain.CounterKey{ElectionID: string(k[:sep]), CandidateID: string(k[sep+1:])}
			snapshot[key] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("counter snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *Store) RejectedCount(ctx context.Context, electionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := []byte(electionID + "\x00")
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRejected).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count rejected duplicates: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
