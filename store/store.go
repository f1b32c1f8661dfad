// Package store persists the little cloud state that must survive
// restarts: TPA server registrations, per-user running-app membership,
// and per-user app settings.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/OkGoDoIt/AugmentOS/wire"
)

var ErrNotFound = errors.New("not found")

// Store wraps the badger database. All values are JSON.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Registration is one TPA server's registration with the cloud.
type Registration struct {
	ID            string    `json:"registrationId"`
	PackageName   string    `json:"packageName"`
	WebhookURL    string    `json:"webhookUrl"`
	ServerURLs    []string  `json:"serverUrls,omitempty"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func regKey(id string) []byte { return []byte("reg:" + id) }

// regIdxKey indexes registrations by identity so re-registration of the
// same server is idempotent. NUL separates the parts; neither may
// contain one.
func regIdxKey(pkg, webhookURL string) []byte {
	return []byte("regidx:" + pkg + "\x00" + webhookURL)
}

func userAppsKey(userID string) []byte { return []byte("userapps:" + userID) }

func settingsKey(userID, pkg string) []byte {
	return []byte("settings:" + userID + "\x00" + pkg)
}

// PutRegistration stores r and its identity index entry.
func (s *Store) PutRegistration(r *Registration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(regKey(r.ID), data); err != nil {
			return err
		}
		return txn.Set(regIdxKey(r.PackageName, r.WebhookURL), []byte(r.ID))
	})
	if err != nil {
		return fmt.Errorf("put registration: %w", err)
	}
	return nil
}

// GetRegistration loads a registration by id.
func (s *Store) GetRegistration(id string) (*Registration, error) {
	var r Registration
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(regKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &r, nil
}

// FindRegistration looks a registration up by its identity.
func (s *Store) FindRegistration(pkg, webhookURL string) (*Registration, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(regIdxKey(pkg, webhookURL))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("registration for %s: %w", pkg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return s.GetRegistration(id)
}

// TouchRegistration refreshes a registration's heartbeat.
func (s *Store) TouchRegistration(id string, at time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(regKey(id))
		if err != nil {
			return err
		}
		var r Registration
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		}); err != nil {
			return err
		}
		r.LastHeartbeat = at
		data, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		return txn.Set(regKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("touch registration: %w", err)
	}
	return nil
}

// SetUserApps records which apps a user had running. Best-effort callers
// log and move on when this fails.
func (s *Store) SetUserApps(userID string, pkgs []string) error {
	data, err := json.Marshal(pkgs)
	if err != nil {
		return fmt.Errorf("marshal user apps: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userAppsKey(userID), data)
	})
	if err != nil {
		return fmt.Errorf("set user apps: %w", err)
	}
	return nil
}

// UserApps returns the apps a user had running, or nil when unknown.
func (s *Store) UserApps(userID string) ([]string, error) {
	var pkgs []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userAppsKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pkgs)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user apps: %w", err)
	}
	return pkgs, nil
}

// SetAppSettings replaces a user's settings for one app.
func (s *Store) SetAppSettings(userID, pkg string, settings []wire.AppSetting) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(settingsKey(userID, pkg), data)
	})
	if err != nil {
		return fmt.Errorf("set settings: %w", err)
	}
	return nil
}

// AppSettings returns a user's settings for one app, or nil when none
// are stored.
func (s *Store) AppSettings(userID, pkg string) ([]wire.AppSetting, error) {
	var settings []wire.AppSetting
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingsKey(userID, pkg))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &settings)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// badgerLogger routes badger's logger onto slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	slog.Error(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	slog.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Infof(format string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Debugf(format string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}
