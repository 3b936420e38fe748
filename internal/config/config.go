package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MiB is one mebibyte.
	MiB int64 = 1024 * 1024

	// DefaultListenAddr is where the local control service listens.
	DefaultListenAddr = "127.0.0.1:8765"

	// DefaultUserAgent mimics a desktop Chrome build; several CDNs reject
	// requests without a browser-looking agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultReferer is sent with every origin request.
	DefaultReferer = "https://www.tiktok.com/"

	// DefaultAcceptLanguage is sent with every origin request.
	DefaultAcceptLanguage = "en-US,en;q=0.9"

	// EnvFFmpeg overrides the ffmpeg binary location.
	EnvFFmpeg = "FLUX_FFMPEG"
)

// Threshold gates and sizes chunked transfers for one kind of leg.
type Threshold struct {
	// MinSize is the size a resource must exceed before it is chunked.
	MinSize int64 `yaml:"min_size"`
	// TargetChunk is the preferred size of a single range request.
	TargetChunk int64 `yaml:"target_chunk"`
}

// Chunking groups the chunk planner parameters.
type Chunking struct {
	Video     Threshold `yaml:"video"`
	Audio     Threshold `yaml:"audio"`
	MinChunks int       `yaml:"min_chunks"`
	MaxChunks int       `yaml:"max_chunks"`
}

// CookieNames maps the extension's token slots to the cookie names sent upstream.
type CookieNames struct {
	TokenA string `yaml:"token_a"`
	TokenB string `yaml:"token_b"`
}

// Config is the on-disk configuration for flux.
type Config struct {
	DownloadLocation   string        `yaml:"download_location"`
	TempDir            string        `yaml:"temp_dir"`
	FFmpegPath         string        `yaml:"ffmpeg_path"`
	ListenAddr         string        `yaml:"listen_addr"`
	UserAgent          string        `yaml:"user_agent"`
	Referer            string        `yaml:"referer"`
	AcceptLanguage     string        `yaml:"accept_language"`
	RedirectHosts      []string      `yaml:"redirect_hosts"`
	CookieNames        CookieNames   `yaml:"cookie_names"`
	MaxRedirects       int           `yaml:"max_redirects"`
	NativeStartTimeout time.Duration `yaml:"native_start_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	Chunking           Chunking      `yaml:"chunking"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DownloadLocation:   "Downloads",
		TempDir:            filepath.Join(os.TempDir(), "flux-downloads"),
		ListenAddr:         DefaultListenAddr,
		UserAgent:          DefaultUserAgent,
		Referer:            DefaultReferer,
		AcceptLanguage:     DefaultAcceptLanguage,
		RedirectHosts:      []string{"youtube.com", "youtu.be", "googlevideo.com"},
		CookieNames:        CookieNames{TokenA: "msToken", TokenB: "tt_chain_token"},
		MaxRedirects:       5,
		NativeStartTimeout: 60 * time.Second,
		Chunking: Chunking{
			Video:     Threshold{MinSize: 5 * MiB, TargetChunk: 10 * MiB},
			Audio:     Threshold{MinSize: 2 * MiB, TargetChunk: 5 * MiB},
			MinChunks: 4,
			MaxChunks: 8,
		},
	}
}

// DefaultPath returns ~/.flux/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".flux", "config.yaml"), nil
}

// Load reads the configuration at path on top of the defaults.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports configuration values the engine cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Chunking.MinChunks < 1 {
		errs = append(errs, errors.New("chunking.min_chunks must be at least 1"))
	}
	if c.Chunking.MaxChunks < c.Chunking.MinChunks {
		errs = append(errs, errors.New("chunking.max_chunks must not be below chunking.min_chunks"))
	}
	for name, th := range map[string]Threshold{"video": c.Chunking.Video, "audio": c.Chunking.Audio} {
		if th.TargetChunk <= 0 {
			errs = append(errs, fmt.Errorf("chunking.%s.target_chunk must be positive", name))
		}
		if th.MinSize < 0 {
			errs = append(errs, fmt.Errorf("chunking.%s.min_size must not be negative", name))
		}
	}
	if c.MaxRedirects < 1 {
		errs = append(errs, errors.New("max_redirects must be at least 1"))
	}
	if c.NativeStartTimeout <= 0 {
		errs = append(errs, errors.New("native_start_timeout must be positive"))
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	return errors.Join(errs...)
}

// DownloadDir returns the absolute download directory.
func (c Config) DownloadDir() (string, error) {
	return ResolvePath(c.DownloadLocation)
}

// ResolvePath makes p absolute. Relative paths are taken from the home
// directory, and a leading "~" is expanded.
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		p = p[2:]
	}
	return filepath.Join(home, p), nil
}
