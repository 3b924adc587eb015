package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setEnv clears every SITEGATE_ variable for the test, then applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, envPrefix) {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	for k, v := range vars {
		t.Setenv(envPrefix+k, v)
	}
}

// minimal returns the variables Load needs plus extra.
func minimal(extra ...string) map[string]string {
	vars := map[string]string{
		"DATABASE_URL":   "postgres://localhost/sitegate",
		"SESSION_SECRET": testSecret,
	}
	for i := 0; i+1 < len(extra); i += 2 {
		vars[extra[i]] = extra[i+1]
	}
	return vars
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name:    "NoStore",
			env:     map[string]string{"SESSION_SECRET": testSecret},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "NoSecret",
			env:     map[string]string{"DATABASE_URL": "postgres://localhost/sitegate"},
			wantErr: "SESSION_SECRET is required",
		},
		{
			name:    "ShortSecret",
			env:     minimal("SESSION_SECRET", "short"),
			wantErr: "at least 32 bytes",
		},
		{
			name:    "ReportsEveryProblem",
			env:     minimal("SESSION_SECRET", "short", "SESSION_TTL", "0s", "SYNC_INTERVAL", "-1m"),
			wantErr: "SYNC_INTERVAL must not be negative",
		},
		{
			name:    "BadDuration",
			env:     minimal("HOOK_TIMEOUT", "soon"),
			wantErr: "parse env",
		},
		{
			name:    "ZeroPresenceThreshold",
			env:     minimal("PRESENCE_DEAD_THRESHOLD", "0s"),
			wantErr: "PRESENCE_DEAD_THRESHOLD",
		},
		{
			name: "Defaults",
			env:  minimal(),
			check: func(t *testing.T, c *Config) {
				want := Config{
					DatabaseURL:           "postgres://localhost/sitegate",
					HTTPAddr:              ":8080",
					GRPCAddr:              ":9090",
					SessionSecret:         testSecret,
					SessionTTL:            12 * time.Hour,
					CookieSecure:          true,
					SyncInterval:          3 * time.Minute,
					SyncS3Region:          "us-east-1",
					SyncS3Key:             "sitegate/backup.jsonl",
					SyncGitFile:           "sitegate.jsonl",
					SyncGitBranch:         "main",
					HookTimeout:           30 * time.Second,
					PresenceDeadThreshold: 15 * time.Minute,
				}
				if *c != want {
					t.Errorf("config = %+v\nwant     %+v", *c, want)
				}
			},
		},
		{
			name: "MemoryStoreNeedsNoDatabase",
			env:  map[string]string{"MEMORY_STORE": "true", "SESSION_SECRET": testSecret},
			check: func(t *testing.T, c *Config) {
				if !c.MemoryStore || c.DatabaseURL != "" {
					t.Errorf("MemoryStore = %v, DatabaseURL = %q", c.MemoryStore, c.DatabaseURL)
				}
			},
		},
		{
			name: "Overrides",
			env: minimal(
				"HTTP_ADDR", ":3000",
				"GRPC_ADDR", ":5050",
				"NATS_URL", "nats://localhost:4222",
				"COOKIE_SECURE", "false",
				"SYNC_INTERVAL", "0s",
				"SYNC_S3_BUCKET", "site-backups",
				"SYNC_S3_ENDPOINT", "http://minio:9000",
				"SYNC_S3_REGION", "eu-west-1",
				"SYNC_GIT_REPO", "/srv/backup",
				"SYNC_GIT_BRANCH", "backup",
				"HOOK_COMMAND", "purge-cdn",
			),
			check: func(t *testing.T, c *Config) {
				got := []any{c.HTTPAddr, c.GRPCAddr, c.NATSURL, c.CookieSecure, c.SyncInterval,
					c.SyncS3Bucket, c.SyncS3Endpoint, c.SyncS3Region, c.SyncGitRepo, c.SyncGitBranch, c.HookCommand}
				want := []any{":3000", ":5050", "nats://localhost:4222", false, time.Duration(0),
					"site-backups", "http://minio:9000", "eu-west-1", "/srv/backup", "backup", "purge-cdn"}
				for i := range want {
					if got[i] != want[i] {
						t.Errorf("field %d = %v, want %v", i, got[i], want[i])
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			c, err := Load()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoadStore(t *testing.T) {
	setEnv(t, nil)
	if _, err := LoadStore(); err == nil {
		t.Fatal("expected an error without a store")
	}

	setEnv(t, map[string]string{"DATABASE_URL": "postgres://localhost/sitegate"})
	c, err := LoadStore()
	if err != nil {
		t.Fatalf("LoadStore without a session secret: %v", err)
	}
	if c.DatabaseURL != "postgres://localhost/sitegate" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if _, err := Load(); err == nil {
		t.Fatal("Load must still require a session secret")
	}
}
