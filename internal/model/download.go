package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ProgressFunc receives overall download progress in [0, 1] and a short
// human-readable message.
type ProgressFunc func(fraction float64, message string)

type DownloadOptions struct {
	Repo     string
	OutDir   string
	HFToken  string
	Progress ProgressFunc
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return fmt.Sprintf("access denied for %s", e.Repo)
}

type lockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Download fetches the pinned file set for opts.Repo into opts.OutDir,
// verifying checksums and writing a lock manifest. Interrupted transfers
// leave a .partial file that is resumed with an HTTP Range request.
func Download(ctx context.Context, opts DownloadOptions) error {
	if opts.Repo == "" {
		return errors.New("model: repo is required")
	}

	if opts.OutDir == "" {
		return errors.New("model: out dir is required")
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(float64, string) {}
	}

	manifest, err := PinnedManifest(opts.Repo)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("model: create out dir: %w", err)
	}

	lockPath := filepath.Join(opts.OutDir, LockFile)
	lock := readLockManifest(lockPath)
	lock.Repo = opts.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	client := &http.Client{}
	total := len(manifest.Files)

	for i, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("model: download canceled: %w", err)
		}

		base := float64(i) / float64(total)
		span := 1 / float64(total)

		expected := strings.ToLower(f.SHA256)
		if expected == "" {
			if lr, ok := lock.Files[f.Filename]; ok && lr.Revision == f.Revision && isSHA256Hex(lr.SHA256) {
				expected = strings.ToLower(lr.SHA256)
			} else {
				expected, err = resolveChecksumFromMetadata(ctx, client, manifest.Repo, f, opts.HFToken)
				if err != nil {
					return err
				}
			}
		}

		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(f.Filename))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("model: create local subdir: %w", err)
		}

		if ok, err := existingMatches(localPath, expected); err != nil {
			return err
		} else if ok {
			progress(base+span, fmt.Sprintf("%s up to date", f.Filename))
			lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}

			continue
		}

		progress(base, fmt.Sprintf("downloading %s", f.Filename))

		actual, err := downloadFile(ctx, client, manifest.Repo, f, opts.HFToken, localPath, func(frac float64) {
			progress(base+frac*span, fmt.Sprintf("downloading %s", f.Filename))
		})
		if err != nil {
			return err
		}

		if actual != expected {
			return fmt.Errorf("model: checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
		}

		progress(base+span, fmt.Sprintf("verified %s", f.Filename))
		lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
	}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return err
	}

	progress(1, "download complete")

	return nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("model: stat existing file: %w", err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("model: expected file at %s, found directory", path)
	}

	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

// downloadFile fetches one file to outPath via a .partial sibling. An
// existing .partial is resumed with a Range request when the server honors
// it; otherwise the transfer restarts from zero.
func downloadFile(ctx context.Context, client *http.Client, repo string, file ModelFile, token, outPath string, progress func(float64)) (string, error) {
	partial := outPath + ".partial"

	var resumeFrom int64
	if fi, err := os.Stat(partial); err == nil && !fi.IsDir() {
		resumeFrom = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURL(repo, file), nil)
	if err != nil {
		return "", fmt.Errorf("model: build request: %w", err)
	}

	setAuth(req, token)

	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model: download request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &ErrAccessDenied{
			Repo: repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", repo),
		}
	case http.StatusPartialContent:
		// Server honored the range; keep the partial bytes.
	case http.StatusOK:
		// Full body. Discard any previous partial data.
		resumeFrom = 0
	default:
		return "", fmt.Errorf("model: download failed for %s: %s", file.Filename, resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	fh, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("model: open partial file: %w", err)
	}

	written := resumeFrom

	total := resp.ContentLength
	if total > 0 {
		total += resumeFrom
	}

	buf := make([]byte, 64*1024)
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			_ = fh.Close()
			// Keep the partial file for resume.
			return "", fmt.Errorf("model: download canceled: %w", err)
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := fh.Write(buf[:n]); writeErr != nil {
				_ = fh.Close()
				return "", fmt.Errorf("model: write partial file: %w", writeErr)
			}

			written += int64(n)

			if time.Since(lastReport) > 200*time.Millisecond {
				if total > 0 {
					progress(float64(written) / float64(total))
				}

				lastReport = time.Now()
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			_ = fh.Close()
			return "", fmt.Errorf("model: download read failed: %w", readErr)
		}
	}

	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("model: close partial file: %w", err)
	}

	// Hash the assembled file, not the stream, so resumed downloads verify
	// the whole payload.
	sum, err := fileSHA256(partial)
	if err != nil {
		return "", err
	}

	if err := os.Rename(partial, outPath); err != nil {
		return "", fmt.Errorf("model: move partial file into place: %w", err)
	}

	progress(1)

	return sum, nil
}

func resolveChecksumFromMetadata(ctx context.Context, client *http.Client, repo string, f ModelFile, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, resolveURL(repo, f), nil)
	if err != nil {
		return "", fmt.Errorf("model: build metadata request: %w", err)
	}

	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model: metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &ErrAccessDenied{
			Repo: repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", repo),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("model: metadata request failed for %s: %s", f.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("model: unable to resolve sha256 metadata for %s; provide pinned checksum", f.Filename)
}

func resolveURL(repo string, file ModelFile) string {
	return fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s", repo, file.Revision, file.Filename)
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}

	req.Header.Set("Authorization", "Bearer "+token)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")

	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("model: open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("model: read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}

	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}

	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("model: encode lock manifest: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("model: write lock manifest: %w", err)
	}

	return nil
}
