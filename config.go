package cuberepo

import (
	"encoding/json"
	log "log/slog"
	"os"
	"sync"
)

const (
	// ConfigEnvVar names the environment variable carrying the JSON object of
	// system parameters. Recognised keys include "user" (override acting user).
	ConfigEnvVar = "CUBEREPO_CONFIG"
	// EnvLevelVar is injected into classpath lookup coordinates as "env" when
	// the caller supplies none.
	EnvLevelVar = "ENV_LEVEL"
)

var (
	systemParams    map[string]string
	systemParamsMux sync.Mutex
)

// SystemParams returns the process-wide parameter map, parsed once from
// ConfigEnvVar under double-checked locking.
func SystemParams() map[string]string {
	if systemParams != nil {
		return systemParams
	}
	systemParamsMux.Lock()
	defer systemParamsMux.Unlock()
	if systemParams != nil {
		return systemParams
	}
	params := map[string]string{}
	if raw := os.Getenv(ConfigEnvVar); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			log.Warn("ignoring malformed "+ConfigEnvVar, "error", err)
			params = map[string]string{}
		}
	}
	systemParams = params
	return systemParams
}

// SystemParam returns one system parameter, or "" when absent.
func SystemParam(key string) string {
	return SystemParams()[key]
}

// ResetSystemParams drops the parsed parameter map so the next read re-parses
// the environment. Test-only.
func ResetSystemParams() {
	systemParamsMux.Lock()
	defer systemParamsMux.Unlock()
	systemParams = nil
}

// EnvLevel returns the environment level used for classpath coordinates.
func EnvLevel() string {
	return os.Getenv(EnvLevelVar)
}
