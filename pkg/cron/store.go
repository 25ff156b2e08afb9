package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotsetgreg/nanobot/pkg/logger"
)

const storeVersion = 1

// loadStore reads the job document from path. A missing file yields an empty
// store. A corrupt file also yields an empty store but is left byte-identical
// on disk for inspection; the caller must not save over it until a mutation
// happens deliberately.
func loadStore(path string) (*CronStore, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("cron", "Failed to read job store", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return &CronStore{Version: storeVersion}, false
	}

	var store CronStore
	if err := json.Unmarshal(data, &store); err != nil {
		logger.ErrorCF("cron", "Job store is corrupt, starting with zero jobs (file preserved)", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return &CronStore{Version: storeVersion}, true
	}
	if store.Version == 0 {
		store.Version = storeVersion
	}
	return &store, false
}

// saveStore writes the document atomically via temp file + rename.
func saveStore(path string, store *CronStore) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp job store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write job store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
