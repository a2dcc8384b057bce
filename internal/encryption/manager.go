// Package encryption owns the key material of a clipsync device and seals
// clipboard payloads, configuration and short strings with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
)

const (
	keySize   = 32
	nonceSize = 12

	// argon2id parameters for the master key.
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// Manager holds the master key and the per-device keys.
type Manager struct {
	mu         sync.RWMutex
	masterKey  *models.EncryptionKey
	deviceKeys map[string]*models.EncryptionKey
}

func NewManager() *Manager {
	return &Manager{deviceKeys: make(map[string]*models.EncryptionKey)}
}

// DeriveKeyFromPassword stretches password with argon2id into a 256-bit key.
func DeriveKeyFromPassword(password, salt string) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), kdfTime, kdfMemory, kdfThreads, keySize)
}

// InitializeMasterKey derives and installs the master key.
func (m *Manager) InitializeMasterKey(password, salt string) error {
	if password == "" {
		return apperr.New(apperr.KindInvalidConfiguration, "master password must not be empty")
	}
	key := &models.EncryptionKey{
		KeyID:     models.MasterKeyID,
		KeyData:   DeriveKeyFromPassword(password, salt),
		CreatedAt: time.Now().UTC(),
		Algorithm: models.AlgorithmAES256GCM,
	}

	m.mu.Lock()
	m.masterKey = key
	m.mu.Unlock()
	return nil
}

func (m *Manager) HasMasterKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterKey != nil
}

// GenerateDeviceKey creates a random key for deviceID, replacing any
// existing one.
func (m *Manager) GenerateDeviceKey(deviceID string) (*models.EncryptionKey, error) {
	data := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, err, "failed to generate device key")
	}
	key := &models.EncryptionKey{
		KeyID:     models.DeviceKeyID(deviceID),
		KeyData:   data,
		CreatedAt: time.Now().UTC(),
		Algorithm: models.AlgorithmAES256GCM,
	}

	m.mu.Lock()
	m.deviceKeys[key.KeyID] = key
	m.mu.Unlock()
	return copyKey(key), nil
}

// RotateDeviceKey replaces the device key. Data sealed under the previous
// key can no longer be opened.
func (m *Manager) RotateDeviceKey(deviceID string) (*models.EncryptionKey, error) {
	return m.GenerateDeviceKey(deviceID)
}

// GetDeviceKey returns a copy of the device key.
func (m *Manager) GetDeviceKey(deviceID string) (*models.EncryptionKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.deviceKeys[models.DeviceKeyID(deviceID)]
	if !ok {
		return nil, false
	}
	return copyKey(key), true
}

// ClearKeys forgets all key material.
func (m *Manager) ClearKeys() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterKey = nil
	m.deviceKeys = make(map[string]*models.EncryptionKey)
}

func copyKey(k *models.EncryptionKey) *models.EncryptionKey {
	out := *k
	out.KeyData = append([]byte(nil), k.KeyData...)
	return &out
}

func (m *Manager) lookup(keyID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if keyID == models.MasterKeyID {
		if m.masterKey == nil {
			return nil, false
		}
		return m.masterKey.KeyData, true
	}
	key, ok := m.deviceKeys[keyID]
	if !ok {
		return nil, false
	}
	return key.KeyData, true
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (m *Manager) seal(keyID string, plaintext []byte) (*models.EncryptedData, error) {
	key, ok := m.lookup(keyID)
	if !ok {
		return nil, apperr.New(apperr.KindEncryption, "key %s not available", keyID)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, err, "failed to create cipher")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, err, "failed to generate nonce")
	}

	return &models.EncryptedData{
		Data:      base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		KeyID:     keyID,
		Algorithm: models.AlgorithmAES256GCM,
	}, nil
}

func (m *Manager) open(data *models.EncryptedData) ([]byte, error) {
	if data == nil {
		return nil, apperr.New(apperr.KindDecryption, "no encrypted data")
	}
	nonce, err := base64.StdEncoding.DecodeString(data.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, apperr.New(apperr.KindDecryption, "invalid nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return nil, apperr.New(apperr.KindDecryption, "invalid ciphertext encoding")
	}
	key, ok := m.lookup(data.KeyID)
	if !ok {
		return nil, apperr.New(apperr.KindDecryption, "key %s not available", data.KeyID)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecryption, err, "failed to create cipher")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindDecryption, "ciphertext failed authentication")
	}
	return plaintext, nil
}

// EncryptClipboardData seals payload under the master key.
func (m *Manager) EncryptClipboardData(payload *models.ClipboardPayload) (*models.EncryptedData, error) {
	return m.encryptJSON(models.MasterKeyID, payload)
}

// EncryptClipboardDataFor seals payload under the key of deviceID.
func (m *Manager) EncryptClipboardDataFor(deviceID string, payload *models.ClipboardPayload) (*models.EncryptedData, error) {
	return m.encryptJSON(models.DeviceKeyID(deviceID), payload)
}

// DecryptClipboardData opens data with the key named by data.KeyID.
func (m *Manager) DecryptClipboardData(data *models.EncryptedData) (*models.ClipboardPayload, error) {
	var payload models.ClipboardPayload
	if err := m.decryptJSON(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (m *Manager) EncryptConfig(cfg *config.SyncConfig) (*models.EncryptedData, error) {
	return m.encryptJSON(models.MasterKeyID, cfg)
}

func (m *Manager) DecryptConfig(data *models.EncryptedData) (*config.SyncConfig, error) {
	var cfg config.SyncConfig
	if err := m.decryptJSON(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) encryptJSON(keyID string, v interface{}) (*models.EncryptedData, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, err, "failed to serialize data")
	}
	return m.seal(keyID, plaintext)
}

func (m *Manager) decryptJSON(data *models.EncryptedData, out interface{}) error {
	plaintext, err := m.open(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return apperr.New(apperr.KindDecryption, "decrypted data is not valid JSON")
	}
	return nil
}

// EncryptString returns base64(nonce || ciphertext) under the master key.
func (m *Manager) EncryptString(plaintext string) (string, error) {
	sealed, err := m.seal(models.MasterKeyID, []byte(plaintext))
	if err != nil {
		return "", err
	}
	nonce, _ := base64.StdEncoding.DecodeString(sealed.Nonce)
	ciphertext, _ := base64.StdEncoding.DecodeString(sealed.Data)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptString reverses EncryptString. Blobs shorter than a nonce are
// rejected before the cipher runs.
func (m *Manager) DecryptString(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperr.New(apperr.KindDecryption, "invalid string encoding")
	}
	if len(blob) < nonceSize {
		return "", apperr.New(apperr.KindDecryption, "invalid encrypted data length")
	}
	plaintext, err := m.open(&models.EncryptedData{
		Data:      base64.StdEncoding.EncodeToString(blob[nonceSize:]),
		Nonce:     base64.StdEncoding.EncodeToString(blob[:nonceSize]),
		KeyID:     models.MasterKeyID,
		Algorithm: models.AlgorithmAES256GCM,
	})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateHash returns the base64 SHA-256 digest of data.
func GenerateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyIntegrity compares data against a digest from GenerateHash.
func VerifyIntegrity(data []byte, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(GenerateHash(data)), []byte(digest)) == 1
}

// ExportKey serializes a key for backup.
func (m *Manager) ExportKey(keyID string) (string, error) {
	m.mu.RLock()
	var key *models.EncryptionKey
	if keyID == models.MasterKeyID {
		key = m.masterKey
	} else {
		key = m.deviceKeys[keyID]
	}
	m.mu.RUnlock()

	if key == nil {
		return "", apperr.New(apperr.KindEncryption, "key %s not found", keyID)
	}
	data, err := json.Marshal(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSerialization, err, "failed to serialize key")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ImportKey restores a key produced by ExportKey. The key id decides whether
// it becomes the master key or a device key.
func (m *Manager) ImportKey(exported string) error {
	data, err := base64.StdEncoding.DecodeString(exported)
	if err != nil {
		return apperr.New(apperr.KindDecryption, "invalid key encoding")
	}
	var key models.EncryptionKey
	if err := json.Unmarshal(data, &key); err != nil {
		return apperr.New(apperr.KindDecryption, "invalid key document")
	}
	if len(key.KeyData) != keySize {
		return apperr.New(apperr.KindDecryption, "invalid key length")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case key.KeyID == models.MasterKeyID:
		m.masterKey = &key
	case strings.HasPrefix(key.KeyID, models.DeviceKeyPrefix):
		m.deviceKeys[key.KeyID] = &key
	default:
		return apperr.New(apperr.KindDecryption, "unknown key id %q", key.KeyID)
	}
	return nil
}
