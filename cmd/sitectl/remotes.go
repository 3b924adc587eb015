package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig is the profile file: every known site and the active one.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one site profile.
type Remote struct {
	URL      string `toml:"url"`
	Token    string `toml:"token,omitempty"`
	NATSURL  string `toml:"nats_url,omitempty"`  // watch over the event bus instead of SSE
	GRPCAddr string `toml:"grpc_addr,omitempty"` // for health --grpc
}

var errNoActiveRemote = errors.New("no active remote; specify a name or run 'sitectl remote use <name>'")

func (c RemotesConfig) lookup(name string) (Remote, error) {
	r, ok := c.Remotes[name]
	if !ok {
		return Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return r, nil
}

// resolve returns name, or the active profile name when name is empty.
func (c RemotesConfig) resolve(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if c.Active == "" {
		return "", errNoActiveRemote
	}
	return c.Active, nil
}

// normalizeSiteURL accepts an absolute http or https URL and drops a
// trailing slash so request paths join cleanly.
func normalizeSiteURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid site URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid site URL %q: want http(s)://host[:port]", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func remoteConfigPath() (string, error) {
	dir := os.Getenv("SITEGATE_STATE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state", "sitegate")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	cfg := RemotesConfig{}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return RemotesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig replaces the profile file atomically. It holds tokens,
// so it is only readable by the owner.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".remotes-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// updateRemotes loads the profile file, applies fn and saves the result.
// Nothing is written when fn fails.
func updateRemotes(fn func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

// activeRemote is the active profile, loaded once per process.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil || cfg.Active == "" {
		return Remote{}
	}
	return cfg.Remotes[cfg.Active]
})

func activeRemoteURL() string { return activeRemote().URL }

func activeRemoteToken() string { return activeRemote().Token }

// activeRemoteNATSURL prefers SITEGATE_NATS_URL over the profile.
func activeRemoteNATSURL() string {
	if s := os.Getenv("SITEGATE_NATS_URL"); s != "" {
		return s
	}
	return activeRemote().NATSURL
}

func activeRemoteGRPCAddr() string {
	if s := os.Getenv("SITEGATE_GRPC_ADDR"); s != "" {
		return s
	}
	if a := activeRemote().GRPCAddr; a != "" {
		return a
	}
	return "localhost:9090"
}

// maskToken shows the first n characters of a token and hides the rest
// with fill, or with "..." when fill is empty.
func maskToken(tok string, n int, fill string) string {
	if len(tok) <= n {
		return tok
	}
	if fill == "" {
		return tok[:n] + "..."
	}
	return tok[:n] + strings.Repeat(fill, len(tok)-n)
}
