package policy

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SnapshotClient downloads a pretrained policy snapshot (config.json and
// weights.json) from a model registry into a local cache directory.
type SnapshotClient struct {
	BaseURL  string
	CacheDir string
	HTTP     *http.Client
}

func NewSnapshotClient(baseURL, cacheDir string) *SnapshotClient {
	return &SnapshotClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		CacheDir: cacheDir,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

var snapshotFiles = []string{"config.json", "weights.json"}

// Download fetches the snapshot for repoID and returns the local directory it
// was written to.
func (c *SnapshotClient) Download(repoID string) (string, error) {
	if strings.Count(repoID, "/") != 1 || strings.HasPrefix(repoID, "/") {
		return "", fmt.Errorf("%q is not a valid registry repo ID", repoID)
	}
	dir := filepath.Join(c.CacheDir, filepath.FromSlash(repoID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	for _, name := range snapshotFiles {
		if err := c.fetchFile(repoID, name, filepath.Join(dir, name)); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (c *SnapshotClient) fetchFile(repoID, name, dest string) error {
	u := c.BaseURL + "/" + url.PathEscape(repoID) + "/" + name
	resp, err := c.HTTP.Get(u)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("repo %q not found in registry", repoID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: registry returned %d", name, resp.StatusCode)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ResolvePretrained turns a policy identifier into a local directory. A
// registry lookup is attempted first; if the identifier is not a valid repo ID
// or the download fails, it is interpreted as a local directory instead. If
// neither resolves, that is a fatal user-facing error.
func ResolvePretrained(nameOrPath string, client *SnapshotClient) (string, error) {
	if client != nil {
		dir, err := client.Download(nameOrPath)
		if err == nil {
			return dir, nil
		}
		log.Printf("registry lookup failed for %q: %v; treating it as a local directory", nameOrPath, err)
	}
	info, err := os.Stat(nameOrPath)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%q is neither a valid registry repo ID nor an existing local directory", nameOrPath)
	}
	return nameOrPath, nil
}
