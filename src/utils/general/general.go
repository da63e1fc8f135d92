package general

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

func GetCurrentFilepath() string {
	_, filename, _, _ := runtime.Caller(1)
	return filepath.Dir(filename)
}

func GetCurrentDir() string {
	return filepath.Dir(GetCurrentFilepath())
}

// GenerateUUID5StringFromByteArray derives a stable UUID from arbitrary
// bytes. Identical inputs always yield identical IDs, which keeps runs
// with the same seed byte-identical.
func GenerateUUID5StringFromByteArray(p []byte) string {
	UUID5Namespace := "7b1e2f0a-54c3-4d9b-8a1e-2f6c0d4b9e3a"

	namespaceUUID, err := uuid.Parse(UUID5Namespace)
	if err != nil {
		slog.Warn(fmt.Sprintf("Error parsing namespace UUID: %+v", err))
	}
	uuid5 := uuid.NewSHA1(namespaceUUID, p)
	return uuid5.String()
}

func ItemInSlice[T comparable](slice []T, item T) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func NoDuplicateItemsInSlice[T comparable](slice []T) bool {
	seen := make(map[T]bool)
	for _, item := range slice {
		if seen[item] {
			return false
		}
		seen[item] = true
	}
	return true
}
