package cloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"haruki-cri-audio/config"

	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu    sync.Mutex
	paths map[string]string
	fail  string
}

func (u *recordingUploader) Upload(ctx context.Context, localPath, remotePath string) error {
	if filepath.Base(localPath) == u.fail {
		return errors.New("refused")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths[localPath] = remotePath
	return nil
}

func TestCommandArgs(t *testing.T) {
	u := &ExecUploader{Program: "rclone", Args: []string{"copyto", "src", "dst", "--quiet"}}
	require.Equal(t, []string{"copyto", "/tmp/a.wav", "remote:x/a.wav", "--quiet"}, u.CommandArgs("/tmp/a.wav", "remote:x/a.wav"))
	// the template is not modified
	require.Equal(t, []string{"copyto", "src", "dst", "--quiet"}, u.Args)
}

func TestRemotePath(t *testing.T) {
	root := filepath.Join("work", "out")
	p, err := RemotePath(root, "remote:cri", filepath.Join(root, "bgm", "memory_1.wav"))
	require.NoError(t, err)
	require.Equal(t, "remote:cri/bgm/memory_1.wav", p)

	p, err = RemotePath(root, "audio", filepath.Join("elsewhere", "x.hca"))
	require.NoError(t, err)
	require.Equal(t, "audio/x.hca", p)
}

func TestUploadToStorage(t *testing.T) {
	root := t.TempDir()
	var files []string
	for _, name := range []string{"a.wav", "b.wav"} {
		p := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
		files = append(files, p)
	}
	u := &recordingUploader{paths: map[string]string{}}
	require.NoError(t, UploadToStorage(context.Background(), u, files, root, "base", true, 1))
	require.Equal(t, "base/a.wav", u.paths[files[0]])
	require.NoFileExists(t, files[0])
	require.NoFileExists(t, files[1])
}

func TestUploadToStorageReportsFailures(t *testing.T) {
	root := t.TempDir()
	files := []string{filepath.Join(root, "a.wav"), filepath.Join(root, "b.wav")}
	for _, p := range files {
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}
	u := &recordingUploader{paths: map[string]string{}, fail: "b.wav"}
	err := UploadToStorage(context.Background(), u, files, root, "base", true, 2)
	require.ErrorContains(t, err, "1 of 2 uploads failed")
	require.NoFileExists(t, files[0])
	require.FileExists(t, files[1])
}

func TestNewUploader(t *testing.T) {
	u, err := NewUploader(config.RemoteStorageConfig{Type: "exec", Program: "cp", Args: []string{"src", "dst"}})
	require.NoError(t, err)
	require.IsType(t, &ExecUploader{}, u)

	u, err = NewUploader(config.RemoteStorageConfig{Type: "s3", Bucket: "cri", Endpoint: "http://127.0.0.1:9000", PathStyle: true})
	require.NoError(t, err)
	require.IsType(t, &S3Uploader{}, u)

	_, err = NewUploader(config.RemoteStorageConfig{Type: "ftp"})
	require.Error(t, err)
}

func TestNoStorages(t *testing.T) {
	require.NoError(t, UploadToAllStorages(context.Background(), nil, []string{"x"}, ".", 1))
}
