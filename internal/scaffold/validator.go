package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/certgen/internal/config"
)

// CheckExisting returns an error if dir already holds a certgen.yml or the
// example records file.
func CheckExisting(dir string) error {
	var existingFiles []string

	for _, name := range []string{config.DefaultPath, ExampleRecords} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			existingFiles = append(existingFiles, name)
		}
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'certgen init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
