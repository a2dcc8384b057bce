package models

import "time"

const (
	AlgorithmAES256GCM = "AES-256-GCM"
	MasterKeyID        = "master"
	DeviceKeyPrefix    = "device_"
)

// DeviceKeyID returns the key id under which a device key is stored.
func DeviceKeyID(deviceID string) string {
	return DeviceKeyPrefix + deviceID
}

// EncryptionKey is a 32 byte symmetric key. KeyData is base64 in JSON.
type EncryptionKey struct {
	KeyID     string    `json:"key_id"`
	KeyData   []byte    `json:"key_data"`
	CreatedAt time.Time `json:"created_at"`
	Algorithm string    `json:"algorithm"`
}

// EncryptedData is self-describing: the key is looked up by KeyID.
type EncryptedData struct {
	Data      string `json:"data"`
	Nonce     string `json:"nonce"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
}
