package urlutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"http", "http://example.com", true},
		{"https", "https://example.com", true},
		{"protocol-relative", "//example.com", true},
		{"file", "file:///path/to/file", false},
		{"relative", "/path/to/file", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRemoteURL(tt.url))
		})
	}
}

func TestGetScheme(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"http", "http://example.com", "http"},
		{"https", "https://example.com", "https"},
		{"file", "file:///path/to/file", "file"},
		{"ftp", "ftp://example.com", "ftp"},
		{"bare path", "/data/feed.xml", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetScheme(tt.url))
		})
	}
}

func TestFilePathFromURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		expected    string
		expectError bool
	}{
		{"unix path", "file:///home/user/feed.xml", "/home/user/feed.xml", false},
		{"path with spaces", "file:///home/user/my%20feed.xml", "/home/user/my feed.xml", false},
		{"http url", "http://example.com/feed.xml", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := FilePathFromURL(tt.url)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestResourceFetcher_Fetch(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "feed.xml")
	testContent := "<tv></tv>\n"
	require.NoError(t, os.WriteFile(testFile, []byte(testContent), 0644))

	fetcher := NewDefaultResourceFetcher()

	t.Run("file url", func(t *testing.T) {
		reader, err := fetcher.Fetch(context.Background(), "file://"+testFile)
		require.NoError(t, err)
		defer reader.Close()

		content := make([]byte, len(testContent))
		n, err := reader.Read(content)
		require.NoError(t, err)
		assert.Equal(t, testContent, string(content[:n]))
	})

	t.Run("bare local path", func(t *testing.T) {
		reader, err := fetcher.Fetch(context.Background(), testFile)
		require.NoError(t, err)
		reader.Close()
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), "file:///nonexistent/feed.xml")
		assert.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), "ftp://example.com/feed.xml")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported URL scheme")
	})
}

func TestValidateURL(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "feed.xml")
	require.NoError(t, os.WriteFile(testFile, []byte("<tv/>"), 0644))

	tests := []struct {
		name        string
		url         string
		expectError bool
		errorMsg    string
	}{
		{"valid http", "http://example.com/feed.xml", false, ""},
		{"valid https", "https://example.com/feed.xml", false, ""},
		{"valid file", "file://" + testFile, false, ""},
		{"empty url", "", true, "URL is required"},
		{"no scheme", "example.com/feed.xml", true, "URL must include a scheme"},
		{"unsupported scheme", "ftp://example.com/feed.xml", true, "unsupported URL scheme"},
		{"file not found", "file:///nonexistent/feed.xml", true, "file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectError {
				assert.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
