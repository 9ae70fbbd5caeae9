package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUpload is returned for any failure while staging or submitting an
// artifact. Remote API errors and local I/O errors are told apart in
// the logs only.
var ErrUpload = errors.New("artifact upload failed")

const stagingPrefix = "legalchat-stage-"

// FilesClient is the slice of the remote service used by the store.
// *openai.Client satisfies it.
type FilesClient interface {
	CreateFile(ctx context.Context, request openai.FileRequest) (openai.File, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// Store uploads extracted document text to the remote knowledge service
// and deletes previously uploaded artifacts. It keeps no local copy of
// the text; only the remote id travels back to the caller.
type Store struct {
	client FilesClient

	// stagingRoot holds the short-lived .txt files handed to the remote
	// client. Defaults to the system temp dir.
	stagingRoot string
}

func NewStore(client FilesClient) *Store {
	return &Store{client: client, stagingRoot: os.TempDir()}
}

// Upload stages text as <base-of-originalFilename>.txt, submits it for
// assistant retrieval and returns the remote file id. The staging
// directory is removed on every exit path.
func (s *Store) Upload(ctx context.Context, text, originalFilename string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))
	if base == "" {
		base = "documento"
	}

	dir, err := os.MkdirTemp(s.stagingRoot, stagingPrefix+"*")
	if err != nil {
		log.Printf("create staging dir for %q: %v", originalFilename, err)
		return "", fmt.Errorf("%w: %s", ErrUpload, originalFilename)
	}
	defer os.RemoveAll(dir)

	stagePath := filepath.Join(dir, base+".txt")
	if err := os.WriteFile(stagePath, []byte(text), 0o600); err != nil {
		log.Printf("stage artifact for %q: %v", originalFilename, err)
		return "", fmt.Errorf("%w: %s", ErrUpload, originalFilename)
	}

	file, err := s.client.CreateFile(ctx, openai.FileRequest{
		FileName: base + ".txt",
		FilePath: stagePath,
		Purpose:  "assistants",
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			log.Printf("remote store rejected %q: %v", originalFilename, apiErr)
		} else {
			log.Printf("unexpected error uploading %q: %v", originalFilename, err)
		}
		return "", fmt.Errorf("%w: %s", ErrUpload, originalFilename)
	}

	log.Printf("uploaded %q as remote file %s", originalFilename, file.ID)
	return file.ID, nil
}

// Delete requests remote deletion of an artifact. It reports whether
// the remote service acknowledged; errors are logged, never raised.
func (s *Store) Delete(ctx context.Context, fileID string) bool {
	if err := s.client.DeleteFile(ctx, fileID); err != nil {
		log.Printf("delete remote file %s: %v", fileID, err)
		return false
	}
	return true
}

// StartStagingSweeper periodically removes staging directories left
// behind by a crash between staging and cleanup.
func (s *Store) StartStagingSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Store) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepStale(interval); err != nil {
				log.Printf("staging sweep: %v", err)
			}
		}
	}
}

func (s *Store) sweepStale(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.stagingRoot)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.stagingRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("remove stale staging dir %s: %v", path, err)
		}
	}
	return nil
}
