// Package transform rewrites decoded logs before they are encoded.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/logflow/bxes/pkg/model"
)

// Anonymizer replaces string attribute values with salted hashes.
type Anonymizer struct {
	salt []byte
	keys map[string]bool
	mu   sync.RWMutex
	// Cache for repeated values (resources repeat across most events)
	cache map[string]string
}

// NewAnonymizer creates an anonymizer hashing the attributes named by keys.
// Salt ensures hashes cannot be reversed via rainbow tables.
func NewAnonymizer(salt string, keys ...string) *Anonymizer {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return &Anonymizer{
		salt:  []byte(salt),
		keys:  set,
		cache: make(map[string]string),
	}
}

// Hash anonymizes a value using SHA-256 with salt.
// Returns a hex-encoded hash truncated to 16 chars for readability.
func (a *Anonymizer) Hash(value string) string {
	if value == "" {
		return ""
	}

	a.mu.RLock()
	if cached, ok := a.cache[value]; ok {
		a.mu.RUnlock()
		return cached
	}
	a.mu.RUnlock()

	h := sha256.New()
	h.Write(a.salt)
	h.Write([]byte(value))
	result := hex.EncodeToString(h.Sum(nil))[:16]

	a.mu.Lock()
	a.cache[value] = result
	a.mu.Unlock()

	return result
}

// Attributes hashes matching string attributes in place and returns the
// number replaced.
func (a *Anonymizer) Attributes(attrs []model.Attribute) int {
	n := 0
	for i := range attrs {
		s, ok := attrs[i].Value.(model.String)
		if !ok || !a.keys[attrs[i].Key] {
			continue
		}
		attrs[i].Value = model.String(a.Hash(string(s)))
		n++
	}
	return n
}

// Log anonymizes log properties, trace metadata and event attributes in
// place. Event names are left untouched.
func (a *Anonymizer) Log(log *model.EventLog) int {
	n := a.Attributes(log.Metadata.Properties)
	for i := range log.Variants {
		v := &log.Variants[i]
		n += a.Attributes(v.Metadata)
		for j := range v.Events {
			n += a.Attributes(v.Events[j].Attributes)
		}
	}
	return n
}
