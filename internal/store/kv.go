package store

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"
)

const kvPrefix = "ls/"

// KV is a namespaced local key-value store. Values are wrapped in a
// {"value": ...} envelope.
type KV struct {
	d         *DB
	namespace string
}

type kvItem struct {
	Value json.RawMessage `json:"value"`
}

var ErrEmptyKey = errors.New("key is required")

// LocalStorage returns the key-value store for namespace, usually a device id.
func (d *DB) LocalStorage(namespace string) *KV {
	return &KV{d: d, namespace: namespace}
}

func (k *KV) key(key string) []byte {
	return []byte(kvPrefix + k.namespace + "/" + key)
}

func (k *KV) prefix() []byte {
	return []byte(kvPrefix + k.namespace + "/")
}

// SetItem stores value under key.
func (k *KV) SetItem(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return k.d.putJSON(k.key(key), kvItem{Value: raw})
}

// GetItem decodes the value under key into dst and reports whether it existed.
func (k *KV) GetItem(key string, dst any) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var item kvItem
	ok, err := k.d.getJSON(k.key(key), &item)
	if err != nil || !ok {
		return false, err
	}
	if len(item.Value) == 0 || string(item.Value) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(item.Value, dst)
}

func (k *KV) RemoveItem(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return k.d.db.Delete(k.key(key), pebble.Sync)
}

func (k *KV) Exists(key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	_, closer, err := k.d.db.Get(k.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

// Clear removes every key in the namespace.
func (k *KV) Clear() error {
	p := k.prefix()
	return k.d.db.DeleteRange(p, prefixEnd(p), pebble.Sync)
}
