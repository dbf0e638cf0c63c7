package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	SSL                      bool   `yaml:"ssl"`
	SSLCert                  string `yaml:"ssl_cert"`
	SSLKey                   string `yaml:"ssl_key"`
	LogLevel                 string `yaml:"log_level"`
	MainLogFile              string `yaml:"main_log_file"`
	AccessLog                string `yaml:"access_log"`
	AccessLogPath            string `yaml:"access_log_path"`
	EnableAuthorization      bool   `yaml:"enable_authorization,omitempty"`
	AcceptUserAgentPrefix    string `yaml:"accept_user_agent_prefix,omitempty"`
	AcceptAuthorizationToken string `yaml:"accept_authorization_token,omitempty"`
	JobRecordFile            string `yaml:"job_record_file,omitempty"`
	WorkDir                  string `yaml:"work_dir,omitempty"`
}

type ToolConfig struct {
	FFMPEGPath string `yaml:"ffmpeg_path,omitempty"`
}

type ConcurrentConfig struct {
	Files   int `yaml:"files,omitempty"`
	Uploads int `yaml:"uploads,omitempty"`
	Decodes int `yaml:"decodes,omitempty"`
}

// DecodeConfig holds defaults for the command flags. Key and AwbKey accept decimal or 0x hex.
type DecodeConfig struct {
	Key            string  `yaml:"key,omitempty"`
	AwbKey         string  `yaml:"awb_key,omitempty"`
	BitDepth       int     `yaml:"bit_depth"`
	Volume         float64 `yaml:"volume"`
	CipherVariant  int     `yaml:"cipher_variant"`
	StrictCommands bool    `yaml:"strict_commands"`
}

// RemoteStorageConfig is either an exec uploader (Program/Args with "src" and "dst"
// placeholders) or an s3 bucket.
type RemoteStorageConfig struct {
	Type    string   `yaml:"type"`
	Base    string   `yaml:"base"`
	Program string   `yaml:"program,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`

	RemoveLocalAfterUpload bool `yaml:"remove_local_after_upload,omitempty"`
}

type Config struct {
	Proxy          string                `yaml:"proxy,omitempty"`
	Backend        BackendConfig         `yaml:"backend,omitempty"`
	Tools          ToolConfig            `yaml:"tool,omitempty"`
	Concurrents    ConcurrentConfig      `yaml:"concurrents,omitempty"`
	Decode         DecodeConfig          `yaml:"decode,omitempty"`
	RemoteStorages []RemoteStorageConfig `yaml:"remote_storages,omitempty"`
}

var Version = "v1.0.0-dev"
var Cfg = Default()

const DefaultPath = "haruki-cri-configs.yaml"

func Default() Config {
	return Config{
		Backend: BackendConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			LogLevel: "INFO",
		},
		Tools: ToolConfig{FFMPEGPath: "ffmpeg"},
		Concurrents: ConcurrentConfig{
			Files:   4,
			Uploads: 4,
			Decodes: 4,
		},
		Decode: DecodeConfig{
			BitDepth:      16,
			Volume:        1.0,
			CipherVariant: 1,
		},
	}
}

// Load reads path over Default and stores the result in Cfg. A missing file keeps the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		Cfg = cfg
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	Cfg = cfg
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Decode.BitDepth {
	case 0, 8, 16, 24, 32:
	default:
		return fmt.Errorf("decode.bit_depth must be 0, 8, 16, 24 or 32, got %d", c.Decode.BitDepth)
	}
	if c.Decode.CipherVariant != 0 && c.Decode.CipherVariant != 1 {
		return fmt.Errorf("decode.cipher_variant must be 0 or 1, got %d", c.Decode.CipherVariant)
	}
	if _, err := ParseKey(c.Decode.Key); err != nil {
		return fmt.Errorf("decode.key: %w", err)
	}
	if _, err := ParseAwbKey(c.Decode.AwbKey); err != nil {
		return fmt.Errorf("decode.awb_key: %w", err)
	}
	for i, s := range c.RemoteStorages {
		switch s.Type {
		case "exec":
			if s.Program == "" {
				return fmt.Errorf("remote_storages[%d]: exec storage needs a program", i)
			}
		case "s3":
			if s.Bucket == "" {
				return fmt.Errorf("remote_storages[%d]: s3 storage needs a bucket", i)
			}
		default:
			return fmt.Errorf("remote_storages[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// ParseKey parses a decimal or 0x prefixed hex key. An empty string gives nil.
func ParseKey(s string) (*uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return &v, nil
}

func ParseAwbKey(s string) (*uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid awb key %q: %w", s, err)
	}
	k := uint16(v)
	return &k, nil
}
