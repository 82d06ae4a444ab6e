package pool

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"

	"apprun/internal/apprun/config"
)

// fingerprint derives the pool's cache key from the tuple that fully
// determines a worker's behavior: its app directory, its resolved
// entrypoint, and its normalized config. Two requests for the same app with
// an identical config share one instance; a config change mints a new key
// and therefore a fresh instance.
func fingerprint(appDir, entrypoint string, cfg config.WorkerConfig) string {
	type digestInput struct {
		AppDir     string
		Entrypoint string
		Config     config.WorkerConfig
	}
	b, _ := json.Marshal(digestInput{AppDir: appDir, Entrypoint: entrypoint, Config: cfg})
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
