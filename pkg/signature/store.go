package signature

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/eumlab/voiced/pkg/blob"
)

// Record is the enrollment bookkeeping kept alongside each signature.
// It survives restarts (badger) so a cold instance knows whether a remote
// copy exists and where.
type Record struct {
	// RemoteKey is the object key in the remote tier, empty when the
	// remote write never succeeded.
	RemoteKey string `msgpack:"remote_key,omitempty"`

	// Enhanced records whether noise suppression ran at enrollment.
	Enhanced bool `msgpack:"enhanced"`

	// EnrolledAt is the enrollment time, unix seconds.
	EnrolledAt int64 `msgpack:"enrolled_at"`
}

const recordPrefix = "enroll:"

// StoreOptions configures a Store.
type StoreOptions struct {
	// Local is the durable local tier. Required.
	Local blob.Store

	// Remote is the cross-instance tier. Optional; when nil the store
	// operates on memory + local only.
	Remote blob.Store

	// RecordsDir is the directory for the enrollment-record index.
	// Required unless RecordsInMemory is set.
	RecordsDir string

	// RecordsInMemory runs the record index without disk persistence.
	// For tests.
	RecordsInMemory bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the tiered signature store: memory → local disk → remote object
// store. Reads populate the faster tiers on the way back; writes go through
// memory and local synchronously with a best-effort remote copy.
//
// All methods are safe for concurrent use from multiple sessions.
type Store struct {
	mu  sync.RWMutex
	mem map[string]Signature

	local   blob.Store
	remote  blob.Store
	records *badger.DB
	log     *slog.Logger
}

// NewStore opens the record index and returns a ready Store.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Local == nil {
		return nil, errors.New("signature: StoreOptions.Local is required")
	}
	if !opts.RecordsInMemory && opts.RecordsDir == "" {
		return nil, errors.New("signature: StoreOptions.RecordsDir is required")
	}
	dbOpts := badger.DefaultOptions(opts.RecordsDir).WithLogger(nil)
	if opts.RecordsInMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("signature: open record index: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		mem:     make(map[string]Signature),
		local:   opts.Local,
		remote:  opts.Remote,
		records: db,
		log:     log,
	}, nil
}

// Close releases the record index.
func (s *Store) Close() error {
	return s.records.Close()
}

func localKey(userID string) string {
	return userID + ".sig"
}

// Put stores a signature for the user: memory, then the durable local tier,
// then a best-effort copy to the remote tier. A remote failure is logged and
// does not fail the call; memory + local are the source of truth for
// immediate use. Returns the remote object key, empty if no remote copy was
// made. Replaces any previous signature wholesale.
func (s *Store) Put(ctx context.Context, userID string, sig Signature, enhanced bool) (string, error) {
	data, err := Encode(sig)
	if err != nil {
		return "", err
	}

	if err := s.local.Put(ctx, localKey(userID), data); err != nil {
		return "", fmt.Errorf("signature: persist %s: %w", userID, err)
	}

	s.mu.Lock()
	s.mem[userID] = sig
	s.mu.Unlock()

	remoteKey := ""
	if s.remote != nil {
		key := localKey(userID)
		if err := s.remote.Put(ctx, key, data); err != nil {
			s.log.Warn("signature: remote write failed, keeping local copy only",
				"user", userID, "error", err)
		} else {
			remoteKey = key
		}
	}

	rec := Record{RemoteKey: remoteKey, Enhanced: enhanced, EnrolledAt: time.Now().Unix()}
	if err := s.putRecord(userID, rec); err != nil {
		s.log.Warn("signature: record index write failed", "user", userID, "error", err)
	}
	return remoteKey, nil
}

// Get looks up a user's signature, checking memory, then local disk, then
// the remote tier, populating the faster tiers on the way back. Returns
// ErrNotEnrolled only after all tiers miss.
func (s *Store) Get(ctx context.Context, userID string) (Signature, error) {
	return s.Lookup(ctx, userID, "")
}

// Lookup is Get with an explicit remote object key, for users enrolled by
// another instance whose locator arrived with the request. An empty
// remoteKey falls back to the locator in the record index.
func (s *Store) Lookup(ctx context.Context, userID, remoteKey string) (Signature, error) {
	s.mu.RLock()
	sig, ok := s.mem[userID]
	s.mu.RUnlock()
	if ok {
		return sig, nil
	}

	// Local tier.
	data, err := s.local.Get(ctx, localKey(userID))
	if err == nil {
		sig, err := Decode(data)
		if err != nil {
			return Signature{}, err
		}
		s.mu.Lock()
		s.mem[userID] = sig
		s.mu.Unlock()
		return sig, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		// A disk fault, not a miss. With no further tier to consult it
		// must surface as such, not as a missing enrollment.
		if s.remote == nil {
			return Signature{}, fmt.Errorf("signature: local read %s: %w", userID, err)
		}
		s.log.Warn("signature: local read failed, trying remote", "user", userID, "error", err)
	}

	// Remote tier.
	if s.remote == nil {
		return Signature{}, ErrNotEnrolled
	}
	key := remoteKey
	if key == "" {
		if rec, err := s.Record(userID); err == nil && rec.RemoteKey != "" {
			key = rec.RemoteKey
		} else {
			key = localKey(userID)
		}
	}
	data, err = s.remote.Get(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Signature{}, ErrNotEnrolled
		}
		s.log.Warn("signature: remote read failed", "user", userID, "key", key, "error", err)
		return Signature{}, ErrNotEnrolled
	}
	sig, err = Decode(data)
	if err != nil {
		return Signature{}, err
	}

	// Populate the faster tiers for the next lookup.
	if err := s.local.Put(ctx, localKey(userID), data); err != nil {
		s.log.Warn("signature: local repopulation failed", "user", userID, "error", err)
	}
	s.mu.Lock()
	s.mem[userID] = sig
	s.mu.Unlock()
	return sig, nil
}

// Exists reports whether any tier holds a signature for the user.
func (s *Store) Exists(ctx context.Context, userID string) bool {
	s.mu.RLock()
	_, ok := s.mem[userID]
	s.mu.RUnlock()
	if ok {
		return true
	}
	if ok, err := s.local.Exists(ctx, localKey(userID)); err == nil && ok {
		return true
	}
	if _, err := s.Record(userID); err == nil {
		return true
	}
	if s.remote != nil {
		if ok, err := s.remote.Exists(ctx, localKey(userID)); err == nil && ok {
			return true
		}
	}
	return false
}

// Delete removes the user's signature from every tier and drops the
// enrollment record. Absence from any subset of tiers is tolerated; Delete
// is idempotent.
func (s *Store) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.mem, userID)
	s.mu.Unlock()

	if err := s.local.Delete(ctx, localKey(userID)); err != nil {
		return fmt.Errorf("signature: delete local %s: %w", userID, err)
	}

	if s.remote != nil {
		key := localKey(userID)
		if rec, err := s.Record(userID); err == nil && rec.RemoteKey != "" {
			key = rec.RemoteKey
		}
		if err := s.remote.Delete(ctx, key); err != nil {
			s.log.Warn("signature: remote delete failed", "user", userID, "error", err)
		}
	}

	err := s.records.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(recordPrefix + userID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		s.log.Warn("signature: record index delete failed", "user", userID, "error", err)
	}
	return nil
}

// Record returns the enrollment record for a user, or badger.ErrKeyNotFound.
func (s *Store) Record(userID string) (Record, error) {
	var rec Record
	err := s.records.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

func (s *Store) putRecord(userID string, rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.records.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+userID), data)
	})
}

// Users returns the identifiers known to this instance: everything cached
// in memory plus every per-user file in the local tier. Read-only.
func (s *Store) Users(ctx context.Context) []string {
	seen := make(map[string]bool)
	s.mu.RLock()
	for u := range s.mem {
		seen[u] = true
	}
	s.mu.RUnlock()

	if keys, err := s.local.Keys(ctx); err == nil {
		for _, k := range keys {
			if u, ok := strings.CutSuffix(k, ".sig"); ok {
				seen[u] = true
			}
		}
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	return users
}

// DropMemory clears the in-process tier. For tests exercising cold lookups.
func (s *Store) DropMemory() {
	s.mu.Lock()
	s.mem = make(map[string]Signature)
	s.mu.Unlock()
}
