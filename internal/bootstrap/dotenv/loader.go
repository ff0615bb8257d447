// Package dotenv loads a .env file as an import side effect, for
// integration tests and dev tools that need credentials before flag
// parsing runs:
//
//	import _ "chatpipe/internal/bootstrap/dotenv"
//
// Binaries should prefer confkit.LoadDotenvOnce, which shares the same
// search semantics.
package dotenv

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

func init() {
	loadDotenv()
}

// loadDotenv resolves the .env file in priority order: ENV_FILE if set,
// then .env walking up from this source file to the repository root, then
// .env in the working directory. NO_DOTENV=1 skips loading entirely.
// Existing variables win unless DOTENV_OVERLOAD=1.
func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}

	if _, file, _, ok := runtime.Caller(0); ok {
		dir := filepath.Dir(file)
		for i := 0; i < 8; i++ {
			load(filepath.Join(dir, ".env"))
			if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		return
	}

	load(".env")
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
