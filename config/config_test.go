package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
proxy: http://127.0.0.1:7890
backend:
  port: 9000
  job_record_file: jobs.json
tool:
  ffmpeg_path: /opt/ffmpeg
concurrents:
  files: 8
decode:
  key: "0x30D9E8"
  awb_key: "12345"
  bit_depth: 24
  volume: 0.5
  strict_commands: true
remote_storages:
  - type: exec
    base: remote:assets
    program: rclone
    args: ["copyto", "src", "dst"]
  - type: s3
    base: audio
    bucket: cri
    remove_local_after_upload: true
`), 0644))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, cfg, Cfg)
	require.Equal(t, 9000, cfg.Backend.Port)
	require.Equal(t, "0.0.0.0", cfg.Backend.Host)
	require.Equal(t, "/opt/ffmpeg", cfg.Tools.FFMPEGPath)
	require.Equal(t, 8, cfg.Concurrents.Files)
	require.Equal(t, 4, cfg.Concurrents.Uploads)
	require.Equal(t, 24, cfg.Decode.BitDepth)
	require.Equal(t, 1, cfg.Decode.CipherVariant)
	require.True(t, cfg.Decode.StrictCommands)
	require.Len(t, cfg.RemoteStorages, 2)
	require.True(t, cfg.RemoteStorages[1].RemoveLocalAfterUpload)

	key, err := ParseKey(cfg.Decode.Key)
	require.NoError(t, err)
	require.Equal(t, uint64(0x30D9E8), *key)
	awbKey, err := ParseAwbKey(cfg.Decode.AwbKey)
	require.NoError(t, err)
	require.Equal(t, uint16(12345), *awbKey)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Decode.BitDepth = 12
	require.ErrorContains(t, cfg.Validate(), "bit_depth")

	cfg = Default()
	cfg.RemoteStorages = []RemoteStorageConfig{{Type: "ftp"}}
	require.ErrorContains(t, cfg.Validate(), "unknown type")

	cfg = Default()
	cfg.Decode.AwbKey = "0x10000"
	require.Error(t, cfg.Validate())
}

func TestParseKeyEmpty(t *testing.T) {
	key, err := ParseKey("  ")
	require.NoError(t, err)
	require.Nil(t, key)
}
