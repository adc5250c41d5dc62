package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/log"
	"github.com/cuemby/blatann/pkg/metrics"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPorts = []byte("ports")

	// ErrPortNotFound is returned for a port with no recorded events
	ErrPortNotFound = errors.New("no journal for port")
)

type attachment struct {
	driver  *driver.Driver
	id      uuid.UUID
	handler *events.Func[*driver.Driver, driver.Event]
}

// BoltJournal implements Store using BoltDB. Each port has its own bucket
// keyed by a big-endian sequence number, so iteration follows recording
// order.
type BoltJournal struct {
	db *bolt.DB

	mu       sync.Mutex
	attached map[string]*attachment
}

var _ Store = (*BoltJournal)(nil)

// Open opens or creates the journal file at path
func Open(path string) (*BoltJournal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPorts); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketPorts, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltJournal{db: db, attached: make(map[string]*attachment)}, nil
}

// Close detaches from every driver and closes the database
func (j *BoltJournal) Close() error {
	j.mu.Lock()
	for port, a := range j.attached {
		a.driver.Events.Raw.Unsubscribe(a.id)
		delete(j.attached, port)
	}
	j.mu.Unlock()
	return j.db.Close()
}

// Record implements Store.
func (j *BoltJournal) Record(port string, ev driver.Event) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketPorts).CreateBucketIfNotExists([]byte(port))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{Seq: seq, Time: time.Now().UTC(), Port: port, Event: ev})
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record %s event: %w", ev.Kind, err)
	}
	metrics.JournalEventsTotal.Inc()
	return seq, nil
}

// List implements Store.
func (j *BoltJournal) List(port string) ([]Entry, error) {
	var entries []Entry
	err := j.Replay(port, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Replay implements Store.
func (j *BoltJournal) Replay(port string, fn func(Entry) error) error {
	// Decode inside the read transaction, call fn outside it so fn may
	// write to the journal.
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPorts).Bucket([]byte(port))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrPortNotFound, port)
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Ports implements Store.
func (j *BoltJournal) Ports() ([]string, error) {
	var ports []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPorts).ForEachBucket(func(k []byte) error {
			ports = append(ports, string(k))
			return nil
		})
	})
	return ports, err
}

// Attach records every event d dispatches until Detach or Close.
func (j *BoltJournal) Attach(d *driver.Driver) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.attached[d.Port]; ok {
		return
	}

	port := d.Port
	h := events.NewFunc(func(_ *driver.Driver, ev driver.Event) events.Action {
		if _, err := j.Record(port, ev); err != nil {
			l := log.WithPort(port)
			l.Error().Err(err).Msg("Failed to journal event")
		}
		return events.ActionNone
	})
	j.attached[port] = &attachment{
		driver:  d,
		id:      events.Subscribe(d.Events.Raw, h),
		handler: h,
	}

	l := log.WithPort(port)
	l.Debug().Msg("Journal attached")
}

// Detach stops recording the events of port
func (j *BoltJournal) Detach(port string) {
	j.mu.Lock()
	a, ok := j.attached[port]
	delete(j.attached, port)
	j.mu.Unlock()

	if ok {
		a.driver.Events.Raw.Unsubscribe(a.id)
	}
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
