package store

import (
	"os"
	"path/filepath"
)

func writeGarbagePrimary(dir string) error {
	return os.WriteFile(filepath.Join(dir, "snapshot.json"), []byte("not json"), 0o644)
}
