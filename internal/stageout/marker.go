package stageout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// IsStaged проверяет наличие STAGED_OUT в директории.
func IsStaged(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, domain.StagedFlagFile))
	return err == nil
}

// MarkStaged атомарно создаёт STAGED_OUT: пишет временный файл
// в той же директории и переименовывает его.
func MarkStaged(dir string, at time.Time) error {
	tmp, err := os.CreateTemp(dir, "."+domain.StagedFlagFile+".*")
	if err != nil {
		return fmt.Errorf("create staged marker: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := fmt.Fprintln(tmp, at.UTC().Format(time.RFC3339)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write staged marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close staged marker: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, domain.StagedFlagFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename staged marker: %w", err)
	}
	return nil
}
