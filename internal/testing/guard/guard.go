// Package guard flips binaries into test mode when imported by a test, so
// that main packages under test never dial Postgres, Redis or Auth0.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PORTAL_TEST_MODE") == "" {
			_ = os.Setenv("PORTAL_TEST_MODE", "1")
		}
	})
}
