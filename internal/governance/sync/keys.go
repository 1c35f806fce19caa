package sync

import (
	"fmt"
	"strconv"
	"strings"
)

// manifestKey is the sync manifest's single fixed object key.
const manifestKey = "data_governance/sync_manifest.json"

// changePrefix roots every change-payload key.
const changePrefix = "data_governance/changes/"

func devicePrefix(deviceID string) string {
	return fmt.Sprintf("%s%s/", changePrefix, deviceID)
}

// changeKey builds a change-payload key: <prefix>/<device_id>/<unix_seconds>-<uuid>.<ext>.
// The UUID nonce prevents same-second key collisions between concurrent
// uploads from the same device.
func changeKey(deviceID string, unixSeconds int64, nonce, ext string) string {
	return fmt.Sprintf("%s%d-%s.%s", devicePrefix(deviceID), unixSeconds, nonce, ext)
}

// parseChangeKeyVersion extracts the unix-seconds version prefix from a
// change-payload key's final path segment, tolerating both the compressed
// extension and a plain .json extension.
func parseChangeKeyVersion(key string) (int64, bool) {
	base := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		base = key[idx+1:]
	}
	dash := strings.Index(base, "-")
	if dash < 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(base[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func hasExt(key, ext string) bool {
	return strings.HasSuffix(key, "."+ext)
}
