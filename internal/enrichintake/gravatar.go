package enrichintake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/httpkit"
)

// GravatarClient fetches avatar images into the local avatar cache.
// Files are named by the SHA-256 of the lowercased email so re-fetches
// overwrite in place.
type GravatarClient struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// NewGravatarClient creates a fetcher writing into dir.
func NewGravatarClient(dir string, logger *slog.Logger) *GravatarClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GravatarClient{
		dir:    dir,
		client: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger: logger,
	}
}

// EmailHash returns the SHA-256 hex digest Gravatar keys avatars by.
func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// AvatarPath returns where an email's avatar lands on disk.
func (g *GravatarClient) AvatarPath(email string) string {
	return filepath.Join(g.dir, EmailHash(email)+".png")
}

// Fetch downloads the avatar for an email if Gravatar has one. Returns
// the cached path, or empty when no avatar exists (a 404 is not an
// error — most addresses have none).
func (g *GravatarClient) Fetch(ctx context.Context, email string) (string, error) {
	hash := EmailHash(email)
	url := fmt.Sprintf("https://gravatar.com/avatar/%s?s=256&d=404", hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gravatar returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir avatar cache: %w", err)
	}
	path := filepath.Join(g.dir, hash+".png")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create avatar file: %w", err)
	}
	if _, err := io.Copy(f, io.LimitReader(resp.Body, 4<<20)); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write avatar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close avatar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit avatar: %w", err)
	}
	g.logger.Debug("avatar cached", "email_hash", hash)
	return path, nil
}
