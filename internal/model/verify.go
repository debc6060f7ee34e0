package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VerifyResult reports the checksum status of one file in a model directory.
type VerifyResult struct {
	Filename string
	OK       bool
	Detail   string
}

// VerifyDir checks every file recorded in the lock manifest against its
// sha256. Missing files and checksum mismatches are reported per file; an
// overall error is returned only when verification could not run at all.
func VerifyDir(root string) ([]VerifyResult, error) {
	dir := Dir{Root: root}

	lock := readLockManifest(dir.LockPath())
	if len(lock.Files) == 0 {
		return nil, fmt.Errorf("model: no lock manifest at %s; run download first", dir.LockPath())
	}

	names := make([]string, 0, len(lock.Files))
	for name := range lock.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	results := make([]VerifyResult, 0, len(names))

	for _, name := range names {
		record := lock.Files[name]
		path := filepath.Join(root, filepath.FromSlash(name))

		if _, err := os.Stat(path); err != nil {
			results = append(results, VerifyResult{Filename: name, Detail: "missing"})
			continue
		}

		actual, err := fileSHA256(path)
		if err != nil {
			results = append(results, VerifyResult{Filename: name, Detail: err.Error()})
			continue
		}

		if !strings.EqualFold(actual, record.SHA256) {
			results = append(results, VerifyResult{
				Filename: name,
				Detail:   fmt.Sprintf("checksum mismatch: expected %s got %s", record.SHA256, actual),
			})

			continue
		}

		results = append(results, VerifyResult{Filename: name, OK: true, Detail: "ok"})
	}

	return results, nil
}
