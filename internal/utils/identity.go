package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
)

// DeviceFingerprint is a stable identifier for this machine, independent of
// any server-assigned device id.
func DeviceFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fingerprint(runtime.GOOS, runtime.GOARCH, hostname, os.Getenv("NODE_ENV"))
}

func fingerprint(platform, arch, hostname, env string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%s", platform, arch, hostname, env)))
	return hex.EncodeToString(sum[:])
}
