package training

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/storage"

	"github.com/google/uuid"
)

var ErrTooFewDownloads = errors.New("too few photos downloaded successfully")

var downloadClient = &http.Client{Timeout: downloadTimeout}

type downloadJob struct {
	Index int
	Photo database.Photo
}

// BuildArchive downloads the photos into a scratch directory, zips them, and
// uploads the archive to the private training bucket. It returns a
// time-limited signed URL for the archive. Downloads run through a bounded
// pool and fail independently; the whole build fails only if fewer than
// MinTrainingPhotos come back. The scratch directory is removed on every
// path; the uploaded archive itself is intentionally left in place.
func (s *Service) BuildArchive(ctx context.Context, userId uuid.UUID, photos []database.Photo) (string, error) {
	scratchDir, err := os.MkdirTemp("", "visiona-training-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			slog.Warn("failed to clean up scratch directory", "dir", scratchDir, "error", err)
		}
	}()

	queue := make(chan downloadJob, len(photos))
	for i, photo := range photos {
		queue <- downloadJob{Index: i, Photo: photo}
	}
	close(queue)

	completed := make(chan completedTask[string], len(photos))
	runInPool(func(job downloadJob) (string, error) {
		dest := filepath.Join(scratchDir, fmt.Sprintf("photo_%d.jpg", job.Index))
		if err := s.downloadPhoto(ctx, job.Photo, dest); err != nil {
			return "", fmt.Errorf("photo %s: %w", job.Photo.Id, err)
		}
		return dest, nil
	}, queue, completed, downloadWorkers)

	downloaded := 0
	for res := range completed {
		if res.Error != nil {
			slog.Warn("skipping photo that failed to download", "user_id", userId, "error", res.Error)
			continue
		}
		downloaded++
	}

	if downloaded < MinTrainingPhotos {
		return "", fmt.Errorf("%w: %d of %d photos downloaded, need at least %d",
			ErrTooFewDownloads, downloaded, len(photos), MinTrainingPhotos)
	}

	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("visiona-%s.zip", uuid.NewString()))
	defer func() {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to clean up scratch archive", "path", archivePath, "error", err)
		}
	}()

	if err := compressDir(ctx, scratchDir, archivePath); err != nil {
		return "", fmt.Errorf("failed to create training archive: %w", err)
	}

	key := fmt.Sprintf("training/%s/%d-%s.zip", userId, time.Now().Unix(), uuid.NewString()[:8])

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer archive.Close()

	if err := s.store.PutObject(ctx, s.cfg.ArchiveBucket, key, archive, storage.PutOptions{
		ContentType: "application/zip",
		NoOverwrite: true,
	}); err != nil {
		return "", fmt.Errorf("failed to upload training archive: %w", err)
	}

	signedURL, err := s.store.PresignGetObject(ctx, s.cfg.ArchiveBucket, key, archiveURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign training archive url: %w", err)
	}

	slog.Info("training archive built", "user_id", userId, "key", key, "photos", downloaded)
	return signedURL, nil
}

func (s *Service) downloadPhoto(ctx context.Context, photo database.Photo, dest string) error {
	url, err := s.store.ObjectURL(ctx, s.cfg.PhotoBucket, photo.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to resolve url for %s: %w", photo.StoragePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	res, err := downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", photo.StoragePath, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned status %d", photo.StoragePath, res.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dest, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, res.Body); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write file %s: %w", dest, err)
	}
	return nil
}

// compressDir picks exactly one compression strategy per call: the external
// zip binary when installed, otherwise an in-process writer. Both produce a
// flat, standard zip archive.
func compressDir(ctx context.Context, dir, archivePath string) error {
	if zipBin, err := exec.LookPath("zip"); err == nil {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read scratch directory: %w", err)
		}
		args := []string{"-j", "-q", archivePath}
		for _, entry := range entries {
			args = append(args, filepath.Join(dir, entry.Name()))
		}

		cmd := exec.CommandContext(ctx, zipBin, args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("zip command failed: %v: %s", err, out)
		}
		return nil
	}

	slog.Info("zip binary not found, using in-process archiver")
	return zipDir(dir, archivePath)
}

func zipDir(dir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	defer writer.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read scratch directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		src, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", entry.Name(), err)
		}

		dst, err := writer.Create(entry.Name())
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to add %s to archive: %w", entry.Name(), err)
		}

		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			return fmt.Errorf("failed to write %s to archive: %w", entry.Name(), err)
		}
		src.Close()
	}

	return nil
}
