package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CAMPUSLEDGER_TEST_MODE") == "" {
			_ = os.Setenv("CAMPUSLEDGER_TEST_MODE", "1")
		}
	})
}
