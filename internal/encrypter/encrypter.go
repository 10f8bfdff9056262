// Package encrypter optionally encrypts outgoing envelopes before a
// Transport ships them. It is grounded on python-beaver's
// beaver/encrypters/kms_encrypter.py: a KMS-backed Encrypter built per
// distinct set of KMS options, cached by that option set so files sharing
// the same key IDs and context share one client instead of re-initializing
// KMS materials on every flush.
package encrypter

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	lru "github.com/hashicorp/golang-lru"
)

// Encrypter transforms an envelope's bytes before they are shipped.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Identity is the default, no-op Encrypter used when no encryption option
// is configured.
type Identity struct{}

// Encrypt returns plaintext unchanged.
func (Identity) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Key identifies one distinct KMS configuration: the option set the
// teacher's KmsConfigValues.__hash__ derives its cache key from, adapted
// to a Go-comparable struct so it can key a map/LRU cache directly.
type Key struct {
	AccessKey       string
	SecretKey       string
	KeyIDs          string // sorted, comma-joined
	EncryptionCtx   string // sorted "k=v" pairs, comma-joined
	CacheCapacity   int
	CacheAgeSeconds float64
}

// NewKey builds a Key from raw option values, sorting key IDs and context
// pairs so two equivalent configurations (same set, different order)
// collapse to the same cache entry, matching the teacher's
// tuple(sorted(...)) hashing.
func NewKey(accessKey, secretKey string, keyIDs []string, encryptionCtx map[string]string, cacheCapacity int, cacheAgeSeconds float64) Key {
	ids := append([]string(nil), keyIDs...)
	sort.Strings(ids)

	pairs := make([]string, 0, len(encryptionCtx))
	for k, v := range encryptionCtx {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	return Key{
		AccessKey:       accessKey,
		SecretKey:       secretKey,
		KeyIDs:          strings.Join(ids, ","),
		EncryptionCtx:   strings.Join(pairs, ","),
		CacheCapacity:   cacheCapacity,
		CacheAgeSeconds: cacheAgeSeconds,
	}
}

// KMS encrypts envelopes via the AWS KMS Encrypt call, matching the
// shape of the teacher's KmsEncrypter.encrypt but using aws-sdk-go's kms
// client directly in place of the aws-encryption-sdk envelope format.
type KMS struct {
	client            *kms.KMS
	keyID             string
	encryptionContext map[string]*string
}

// NewKMS builds a KMS Encrypter for the first of keyIDs (KMS's Encrypt API
// takes a single CMK). Only keyIDs[0] is used; the remaining IDs are never
// tried, by KMS or by Manager.
func NewKMS(accessKey, secretKey, region string, keyIDs []string, encryptionContext map[string]string) (*KMS, error) {
	if len(keyIDs) == 0 {
		return nil, fmt.Errorf("encrypter: at least one aws_kms_key_ids entry is required")
	}
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("encrypter: new session: %w", err)
	}

	ctx := make(map[string]*string, len(encryptionContext))
	for k, v := range encryptionContext {
		ctx[k] = aws.String(v)
	}

	return &KMS{
		client:            kms.New(sess),
		keyID:             keyIDs[0],
		encryptionContext: ctx,
	}, nil
}

// Encrypt calls KMS Encrypt and returns the base64-encoded ciphertext blob.
func (k *KMS) Encrypt(plaintext []byte) ([]byte, error) {
	out, err := k.client.Encrypt(&kms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         plaintext,
		EncryptionContext: k.encryptionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypter: kms encrypt: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(out.CiphertextBlob)))
	base64.StdEncoding.Encode(encoded, out.CiphertextBlob)
	return encoded, nil
}

// Manager builds and caches Encrypter instances by Key, the Go shape of
// KmsEncrypter._instance_cache/get_instance, backed by an LRU instead of an
// unbounded dict so long-running agents with many distinct per-file KMS
// configs can't grow the cache without bound.
type Manager struct {
	cache *lru.Cache
}

// NewManager returns a Manager whose cache holds at most capacity distinct
// Encrypters.
func NewManager(capacity int) (*Manager, error) {
	if capacity <= 0 {
		capacity = 100
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("encrypter: new cache: %w", err)
	}
	return &Manager{cache: cache}, nil
}

// GetOrCreate returns the cached Encrypter for key, building it with build
// on a cache miss.
func (m *Manager) GetOrCreate(key Key, build func() (Encrypter, error)) (Encrypter, error) {
	if v, ok := m.cache.Get(key); ok {
		return v.(Encrypter), nil
	}
	enc, err := build()
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, enc)
	return enc, nil
}

// Len reports how many distinct Encrypters are currently cached.
func (m *Manager) Len() int { return m.cache.Len() }
