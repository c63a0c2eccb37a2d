package targets

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/glennswest/ipmi-bmc-emulator/config"
)

// Cache persists the last-applied target list to disk so a restart can
// report how many targets the previous run had configured. Adapted verbatim in technique (not in domain) from the
// teacher's discovery/cache.go: same atomic temp-file-then-rename write
// so a crash mid-write never corrupts the file.
type Cache struct {
	path string
}

func NewCache(dataDir string) *Cache {
	return &Cache{path: filepath.Join(dataDir, "targets-cache.json")}
}

func (c *Cache) Load() ([]config.TargetEntry, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []config.TargetEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Cache) Save(entries []config.TargetEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
