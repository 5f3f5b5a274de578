package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when no state is stored for a device.
var ErrNotFound = errors.New("statestore: device not found")

var bucketStates = []byte("states")

// DeviceState is the last state reported for one device.
type DeviceState struct {
	DeviceID  string         `json:"device_id"`
	Kind      string         `json:"kind"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BoltStore persists DeviceState records in a bbolt database.
//
// Thread Safety: safe for concurrent use; bbolt serialises writers.
type BoltStore struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Put stores st, replacing any previous state of the same device.
func (s *BoltStore) Put(st DeviceState) error {
	if st.DeviceID == "" {
		return errors.New("statestore: device id is required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.DeviceID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).Put([]byte(st.DeviceID), data)
	})
}

// Get returns the stored state of deviceID or ErrNotFound.
func (s *BoltStore) Get(deviceID string) (DeviceState, error) {
	var st DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStates).Get([]byte(deviceID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, deviceID)
		}
		return json.Unmarshal(data, &st)
	})
	if err != nil {
		return DeviceState{}, err
	}
	return st, nil
}

// List returns every stored state ordered by device ID.
func (s *BoltStore) List() ([]DeviceState, error) {
	var states []DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, v []byte) error {
			var st DeviceState
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode state %s: %w", k, err)
			}
			states = append(states, st)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// Delete removes the state of deviceID. Deleting an unknown device is not
// an error.
func (s *BoltStore) Delete(deviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).Delete([]byte(deviceID))
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
