package tools

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/clock"
	"github.com/dan-v/rattlesnakeos-builder/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *clock.Fake) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	fake := clock.NewFake(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	client := New(server.Client(), fake)
	client.APIBaseURL = server.URL
	client.DownloadBaseURL = server.URL
	return client, fake
}

func TestClient_LatestVersion(t *testing.T) {
	tests := map[string]struct {
		failures      int32
		body          string
		expected      string
		expectedCalls int32
		expectedErr   error
	}{
		"first attempt succeeds": {
			body:          `{"tag_name": "v3.10.0", "name": "Version 3.10.0"}`,
			expected:      "v3.10.0",
			expectedCalls: 1,
		},
		"succeeds on last attempt": {
			failures:      2,
			body:          `{"tag_name": "v28.1"}`,
			expected:      "v28.1",
			expectedCalls: 3,
		},
		"every attempt fails": {
			failures:      3,
			expectedCalls: 3,
			expectedErr:   ErrUnexpectedStatus,
		},
		"missing tag name": {
			body:          `{}`,
			expectedCalls: 1,
			expectedErr:   ErrMissingTagName,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var calls int32
			client, fake := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				call := atomic.AddInt32(&calls, 1)
				assert.Equal(t, "/repos/chenxiaolong/avbroot/releases/latest", r.URL.Path)
				if call <= tc.failures {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				_, _ = fmt.Fprint(w, tc.body)
			}))

			version, err := client.LatestVersion(context.Background(), "chenxiaolong/avbroot")
			assert.Equal(t, tc.expectedCalls, atomic.LoadInt32(&calls))
			assert.Len(t, fake.Sleeps(), int(tc.expectedCalls-1))
			if tc.expectedErr != nil {
				assert.True(t, errors.Is(err, tc.expectedErr), "unexpected error: %v", err)
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tc.expected, version)
		})
	}
}

func TestClient_LatestVersionExhausted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.LatestVersion(context.Background(), "topjohnwu/Magisk")
	var exhausted *retry.RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestClient_Download(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "payload")
	}))

	dest := filepath.Join(t.TempDir(), "nested", "artifact.bin")
	url := client.AssetURL("owner/repo", "v1", "artifact.bin")

	require.Nil(t, client.Download(context.Background(), url, dest))
	data, err := os.ReadFile(dest)
	require.Nil(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	require.Nil(t, client.Download(context.Background(), url, dest))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "cached file must not be downloaded again")
}

func TestClient_DownloadFailureLeavesNothing(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	err := client.Download(context.Background(), client.AssetURL("owner/repo", "v1", "artifact.bin"), dest)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	entries, err := os.ReadDir(dir)
	require.Nil(t, err)
	assert.Empty(t, entries)
}

func TestUnzip(t *testing.T) {
	tests := map[string]struct {
		files       map[string]string
		expectedErr error
	}{
		"regular files": {
			files: map[string]string{"avbroot": "binary", "docs/README.md": "readme"},
		},
		"path traversal": {
			files:       map[string]string{"../escape": "nope"},
			expectedErr: ErrIllegalPath,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			src := writeZip(t, filepath.Join(dir, "archive.zip"), tc.files)
			dest := filepath.Join(dir, "out")

			err := Unzip(src, dest)
			if tc.expectedErr != nil {
				assert.True(t, errors.Is(err, tc.expectedErr) || errors.Is(err, zip.ErrInsecurePath))
				_, statErr := os.Stat(filepath.Join(dir, "escape"))
				assert.True(t, os.IsNotExist(statErr))
				return
			}
			require.Nil(t, err)
			for name, content := range tc.files {
				data, err := os.ReadFile(filepath.Join(dest, name))
				require.Nil(t, err)
				assert.Equal(t, content, string(data))
			}
		})
	}
}

func TestRootTools_Ensure(t *testing.T) {
	zipDir := t.TempDir()
	avbrootZip := writeZip(t, filepath.Join(zipDir, "avbroot.zip"), map[string]string{"avbroot": "#!/bin/sh\n"})
	zipData, err := os.ReadFile(avbrootZip)
	require.Nil(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/topjohnwu/Magisk/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"tag_name": "v28.1"}`)
	})
	mux.HandleFunc("/chenxiaolong/avbroot/releases/download/v3.10.0/avbroot-3.10.0-x86_64-unknown-linux-gnu.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipData)
	})
	mux.HandleFunc("/topjohnwu/Magisk/releases/download/v28.1/Magisk-v28.1.apk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "apk")
	})
	client, _ := newTestClient(t, mux)

	dir := t.TempDir()
	rootTools := NewRootTools(client, dir, "chenxiaolong/avbroot", "v3.10.0", "topjohnwu/Magisk", "")
	assert.False(t, rootTools.Installed())

	paths, err := rootTools.Ensure(context.Background())
	require.Nil(t, err)
	assert.Equal(t, rootTools.Paths(), paths)
	assert.True(t, rootTools.Installed())

	info, err := os.Stat(paths.Avbroot)
	require.Nil(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	data, err := os.ReadFile(paths.Magisk)
	require.Nil(t, err)
	assert.Equal(t, "apk", string(data))
}

func TestRootTools_EnsureMissingBinary(t *testing.T) {
	zipDir := t.TempDir()
	zipData, err := os.ReadFile(writeZip(t, filepath.Join(zipDir, "avbroot.zip"), map[string]string{"LICENSE": "text"}))
	require.Nil(t, err)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipData)
	}))

	rootTools := NewRootTools(client, t.TempDir(), "chenxiaolong/avbroot", "v3.10.0", "topjohnwu/Magisk", "v28.1")
	_, err = rootTools.Ensure(context.Background())
	assert.True(t, errors.Is(err, ErrAvbrootMissing))
}

func writeZip(t *testing.T, path string, files map[string]string) string {
	t.Helper()
	f, err := os.Create(path)
	require.Nil(t, err)
	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.Nil(t, err)
		_, err = entry.Write([]byte(content))
		require.Nil(t, err)
	}
	require.Nil(t, w.Close())
	require.Nil(t, f.Close())
	return path
}
