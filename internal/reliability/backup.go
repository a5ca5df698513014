// Package reliability keeps the shared database recoverable: scheduled backups to the
// artifact bucket and routine integrity maintenance.
package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/artifacts"
	"github.com/aristath/swingbot/internal/database"
)

// backupPrefix is prepended to archive names inside the bucket
const backupPrefix = "backups/swingbot-backup-"

// BackupMetadata describes the contents of one archive
type BackupMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one file in the archive
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupService snapshots the database and the model directory into a tar.gz archive and
// uploads it through the artifact mirror
type BackupService struct {
	db       *database.DB
	modelDir string
	mirror   artifacts.Mirror
	staging  string
	log      zerolog.Logger
	now      func() time.Time
}

// NewBackupService creates a backup service. staging holds the temporary snapshot.
func NewBackupService(db *database.DB, modelDir string, mirror artifacts.Mirror, staging string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:       db,
		modelDir: modelDir,
		mirror:   mirror,
		staging:  staging,
		log:      log.With().Str("service", "backup").Logger(),
		now:      time.Now,
	}
}

// CreateAndUpload builds an archive and uploads it. Returns the archive name.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	if s.mirror == nil {
		return "", fmt.Errorf("no artifact mirror configured")
	}
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	archive, metadata, err := s.Archive(ctx)
	if err != nil {
		return "", err
	}

	name := backupPrefix + metadata.Timestamp.Format("2006-01-02-150405") + ".tar.gz"
	if err := s.mirror.Upload(ctx, name, archive); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", name).
		Int("files", len(metadata.Files)).
		Int("size_bytes", len(archive)).
		Msg("Backup completed successfully")

	return name, nil
}

// Archive returns the gzipped tar of a consistent database snapshot, every model
// artifact and a metadata file with checksums
func (s *BackupService) Archive(ctx context.Context) ([]byte, *BackupMetadata, error) {
	if err := os.MkdirAll(s.staging, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	snapshot := filepath.Join(s.staging, "swingbot.db")
	_ = os.Remove(snapshot) // VACUUM INTO refuses to overwrite
	defer os.Remove(snapshot)

	if _, err := s.db.Conn().ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	files := []struct{ path, name string }{{snapshot, "swingbot.db"}}
	models, err := s.modelFiles()
	if err != nil {
		return nil, nil, err
	}
	for _, name := range models {
		files = append(files, struct{ path, name string }{filepath.Join(s.modelDir, name), "models/" + name})
	}

	metadata := &BackupMetadata{
		Timestamp: s.now().UTC(),
		Version:   "1",
		Files:     make([]FileMetadata, 0, len(files)),
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, f := range files {
		meta, err := addFileToArchive(tarWriter, f.path, f.name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to add %s to archive: %w", f.name, err)
		}
		metadata.Files = append(metadata.Files, meta)
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	if err := tarWriter.WriteHeader(&tar.Header{
		Name:    "backup-metadata.json",
		Size:    int64(len(metaJSON)),
		Mode:    0644,
		ModTime: metadata.Timestamp,
	}); err != nil {
		return nil, nil, err
	}
	if _, err := tarWriter.Write(metaJSON); err != nil {
		return nil, nil, err
	}

	if err := tarWriter.Close(); err != nil {
		return nil, nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), metadata, nil
}

func (s *BackupService) modelFiles() ([]string, error) {
	if s.modelDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.modelDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list model directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// addFileToArchive adds a single file to a tar archive and returns its metadata
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) (FileMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return FileMetadata{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return FileMetadata{}, err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return FileMetadata{}, err
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tarWriter, hash), file); err != nil {
		return FileMetadata{}, err
	}

	return FileMetadata{
		Name:      nameInArchive,
		SizeBytes: info.Size(),
		Checksum:  fmt.Sprintf("sha256:%x", hash.Sum(nil)),
	}, nil
}

// BackupJob runs CreateAndUpload on a schedule
type BackupJob struct {
	service *BackupService
	timeout time.Duration
}

// NewBackupJob wraps service as a scheduler job. A zero timeout means 30 minutes.
func NewBackupJob(service *BackupService, timeout time.Duration) *BackupJob {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &BackupJob{service: service, timeout: timeout}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run executes one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.service.CreateAndUpload(ctx)
	return err
}
