package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "PORTAL_TEST_MODE"

var (
	testModeMu  sync.RWMutex
	testModeSet bool
	testMode    bool
)

// InTestMode reports whether binaries should skip runtime side effects
// (network listeners, external connections).
func InTestMode() bool {
	testModeMu.RLock()
	if testModeSet {
		defer testModeMu.RUnlock()
		return testMode
	}
	testModeMu.RUnlock()
	RefreshTestMode()
	testModeMu.RLock()
	defer testModeMu.RUnlock()
	return testMode
}

// RefreshTestMode re-reads PORTAL_TEST_MODE after environment changes.
func RefreshTestMode() {
	enabled, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testModeMu.Lock()
	testMode = enabled
	testModeSet = true
	testModeMu.Unlock()
}
