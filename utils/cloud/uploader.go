// Package cloud copies exported files to the configured remote storages.
package cloud

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"haruki-cri-audio/config"
	harukiLogger "haruki-cri-audio/utils/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var logger = harukiLogger.NewLogger("HarukiCloudStorageUploader", "INFO", nil)

type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// ExecUploader runs Program once per file. The literal args "src" and "dst" are replaced.
type ExecUploader struct {
	Program string
	Args    []string
}

func (u *ExecUploader) CommandArgs(src, dst string) []string {
	args := make([]string, len(u.Args))
	copy(args, u.Args)
	for i, arg := range args {
		if arg == "src" {
			args[i] = src
		} else if arg == "dst" {
			args[i] = dst
		}
	}
	return args
}

func (u *ExecUploader) Upload(ctx context.Context, localPath, remotePath string) error {
	args := u.CommandArgs(localPath, remotePath)
	logger.Debugf("Uploading %s to %s using command: %s %s", localPath, remotePath, u.Program, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, u.Program, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to upload %s to %s using command: %s %s: %w",
			localPath, remotePath, u.Program, strings.Join(args, " "), err)
	}
	return nil
}

type S3Uploader struct {
	client *s3.Client
	bucket string
}

func NewS3Uploader(cfg config.RemoteStorageConfig) *S3Uploader {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Uploader{client: s3.New(opts), bucket: cfg.Bucket}
}

func (u *S3Uploader) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(strings.TrimPrefix(remotePath, "/")),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, u.bucket, remotePath, err)
	}
	return nil
}

func NewUploader(cfg config.RemoteStorageConfig) (Uploader, error) {
	switch cfg.Type {
	case "exec":
		return &ExecUploader{Program: cfg.Program, Args: cfg.Args}, nil
	case "s3":
		return NewS3Uploader(cfg), nil
	}
	return nil, fmt.Errorf("unknown remote storage type %q", cfg.Type)
}

// RemotePath maps filePath below root onto remoteBase with forward slashes.
func RemotePath(root, remoteBase, filePath string) (string, error) {
	rel, err := filepath.Rel(root, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path for %s: %w", filePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(filePath)
	}
	return path.Join(remoteBase, filepath.ToSlash(rel)), nil
}

// UploadToStorage uploads files concurrently, at most concurrency at a time, and returns the first error.
func UploadToStorage(ctx context.Context, u Uploader, files []string, root, remoteBase string, removeLocal bool, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	semaphore := make(chan struct{}, concurrency)
	errChan := make(chan error, len(files))
	var wg sync.WaitGroup
	uploadFile := func(filePath string) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("panic while uploading %s: %v", filePath, r)
			}
		}()
		semaphore <- struct{}{}
		defer func() { <-semaphore }()
		remotePath, err := RemotePath(root, remoteBase, filePath)
		if err != nil {
			errChan <- err
			return
		}
		if err := u.Upload(ctx, filePath, remotePath); err != nil {
			logger.Errorf("Failed to upload %s to %s", filePath, remotePath)
			errChan <- err
			return
		}
		logger.Infof("Successfully uploaded %s to %s", filePath, remotePath)
		if removeLocal {
			if err := os.Remove(filePath); err != nil {
				logger.Warnf("Failed to delete local file %s after upload: %v", filePath, err)
				errChan <- fmt.Errorf("uploaded but failed to delete local file %s: %w", filePath, err)
			} else {
				logger.Debugf("Deleted local file %s after successful upload", filePath)
			}
		}
	}
	for _, filePath := range files {
		wg.Add(1)
		go uploadFile(filePath)
	}
	wg.Wait()
	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d uploads failed: %w", len(errs), len(files), errs[0])
	}
	return nil
}

// UploadToAllStorages sends files to every storage in turn. When any storage sets
// remove_local_after_upload, local files are removed after the last upload.
func UploadToAllStorages(ctx context.Context, storages []config.RemoteStorageConfig, files []string, root string, concurrency int) error {
	if len(storages) == 0 {
		logger.Infof("No remote storages configured, skipping upload")
		return nil
	}
	removeAfter := false
	for _, storage := range storages {
		removeAfter = removeAfter || storage.RemoveLocalAfterUpload
	}
	last := len(storages) - 1
	for i, storage := range storages {
		u, err := NewUploader(storage)
		if err != nil {
			return err
		}
		removeLocal := i == last && removeAfter
		logger.Infof("Uploading to remote storage: %s (type: %s)", storage.Base, storage.Type)
		if err := UploadToStorage(ctx, u, files, root, storage.Base, removeLocal, concurrency); err != nil {
			return fmt.Errorf("failed to upload to storage %s: %w", storage.Base, err)
		}
		logger.Infof("Successfully uploaded all files to storage: %s", storage.Base)
	}
	return nil
}
