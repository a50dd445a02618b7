package hostbridge

import (
	"os"
	"path/filepath"
	"regexp"
)

var runFilePattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}_[a-z]+$`)

// ClearRunFiles removes stale result files left behind by a previous
// process (e.g. after an unclean shutdown).
func ClearRunFiles(directory string) error {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if runFilePattern.MatchString(name) {
			os.Remove(filepath.Join(directory, name))
		}
	}
	return nil
}
