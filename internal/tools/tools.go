package tools

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/retry"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultAPIBaseURL is the GitHub API used for release metadata
	DefaultAPIBaseURL = "https://api.github.com"
	// DefaultDownloadBaseURL is where GitHub release assets are served from
	DefaultDownloadBaseURL = "https://github.com"
	// DefaultHTTPTimeout bounds a single request
	DefaultHTTPTimeout = 10 * time.Minute
)

var (
	// ErrUnexpectedStatus is returned when a server responds with anything but 200
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrMissingTagName is returned if release metadata has no tag name
	ErrMissingTagName = errors.New("release metadata is missing tag_name")
	// ErrIllegalPath is returned if an archive entry would be written outside of the destination
	ErrIllegalPath = errors.New("archive entry escapes destination")
)

// Client fetches release metadata and artifacts over HTTP with bounded retries
type Client struct {
	httpClient      *http.Client
	sleeper         retry.Sleeper
	policy          retry.Policy
	APIBaseURL      string
	DownloadBaseURL string
}

// New returns a Client. A nil httpClient uses a client with DefaultHTTPTimeout.
func New(httpClient *http.Client, sleeper retry.Sleeper) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		httpClient:      httpClient,
		sleeper:         sleeper,
		policy:          retry.DownloadPolicy,
		APIBaseURL:      DefaultAPIBaseURL,
		DownloadBaseURL: DefaultDownloadBaseURL,
	}
}

type githubRelease struct {
	TagName string `json:"tag_name"`
}

// LatestVersion returns the tag name of the latest GitHub release of repo (owner/name)
func (c *Client) LatestVersion(ctx context.Context, repo string) (string, error) {
	url := fmt.Sprintf("%v/repos/%v/releases/latest", strings.TrimSuffix(c.APIBaseURL, "/"), repo)

	var release githubRelease
	err := retry.Do(ctx, "fetch release metadata for "+repo, c.policy, c.sleeper, func(ctx context.Context) error {
		body, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		defer func() {
			_ = body.Close()
		}()
		release = githubRelease{}
		return json.NewDecoder(body).Decode(&release)
	})
	if err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("'%v': %w", repo, ErrMissingTagName)
	}
	return release.TagName, nil
}

// AssetURL returns the download URL of a release asset
func (c *Client) AssetURL(repo, tag, asset string) string {
	return fmt.Sprintf("%v/%v/releases/download/%v/%v", strings.TrimSuffix(c.DownloadBaseURL, "/"), repo, tag, asset)
}

// Download fetches url into dest. Nothing is downloaded if dest already exists and a
// failed download never leaves a partial dest behind.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		log.Infof("Skipping download of %v as it already exists", dest)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return err
	}

	log.Infoln("Downloading from URL:", url)
	return retry.Do(ctx, "download "+filepath.Base(dest), c.policy, c.sleeper, func(ctx context.Context) error {
		return c.downloadOnce(ctx, url, dest)
	})
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("'%v' returned %v: %w", url, resp.StatusCode, ErrUnexpectedStatus)
	}
	return resp.Body, nil
}

// Unzip extracts src into dest, rejecting entries that would land outside of dest
func Unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(root, f.Name)
		if fpath != root && !strings.HasPrefix(fpath, root+string(os.PathSeparator)) {
			return fmt.Errorf("'%v': %w", f.Name, ErrIllegalPath)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return err
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, fpath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
