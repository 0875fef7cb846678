package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	origEnv := make(map[string]string)
	envVars := []string{
		"HOST", "PORT", "LOG_LEVEL", "MAX_CONCURRENT_BROWSERS", "MIN_DOMAIN_DELAY",
		"MAX_REQUESTS_PER_BROWSER", "CHROME_PATH", "MAX_RETRIES", "JOB_TTL_SECONDS",
		"RESUME_ABANDONED_JOBS", "GITHUB_REPO", "DATABASE_URL", "STORAGE_DIR",
		"SYNC_TIMEOUT_DEFAULT", "MAX_SYNC_TIMEOUT", "PROXIES_FILE", "PROXY_STRATEGY",
		"IDLE_TIMEOUT",
	}

	for _, v := range envVars {
		origEnv[v] = os.Getenv(v)
	}
	defer func() {
		for k, v := range origEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		for _, v := range envVars {
			os.Unsetenv(v)
		}

		cfg := Load()

		if cfg.Host != "0.0.0.0" {
			t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
		}
		if cfg.Port != 8000 {
			t.Errorf("Port = %d, want 8000", cfg.Port)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
		}
		if cfg.MaxConcurrentBrowsers != 2 {
			t.Errorf("MaxConcurrentBrowsers = %d, want 2", cfg.MaxConcurrentBrowsers)
		}
		if cfg.MinDomainDelay != 10*time.Second {
			t.Errorf("MinDomainDelay = %v, want 10s", cfg.MinDomainDelay)
		}
		if cfg.MaxRequestsPerBrowser != 50 {
			t.Errorf("MaxRequestsPerBrowser = %d, want 50", cfg.MaxRequestsPerBrowser)
		}
		if cfg.MaxRetries != 3 {
			t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
		}
		if cfg.JobTTL != 86400*time.Second {
			t.Errorf("JobTTL = %v, want 86400s", cfg.JobTTL)
		}
		if !cfg.ResumeAbandonedJobs {
			t.Error("ResumeAbandonedJobs default should be true")
		}
		if cfg.DatabaseURL != "sqlite:///./storage/jobs.db" {
			t.Errorf("DatabaseURL = %q, want default", cfg.DatabaseURL)
		}
		if cfg.StorageDir != "storage" {
			t.Errorf("StorageDir = %q, want %q", cfg.StorageDir, "storage")
		}
		if cfg.SyncTimeoutDefault != 120*time.Second {
			t.Errorf("SyncTimeoutDefault = %v, want 120s", cfg.SyncTimeoutDefault)
		}
		if cfg.MaxSyncTimeout != 300*time.Second {
			t.Errorf("MaxSyncTimeout = %v, want 300s", cfg.MaxSyncTimeout)
		}
		if cfg.ProxiesFile != "proxies.txt" {
			t.Errorf("ProxiesFile = %q, want %q", cfg.ProxiesFile, "proxies.txt")
		}
		if cfg.ProxyStrategy != "round_robin" {
			t.Errorf("ProxyStrategy = %q, want %q", cfg.ProxyStrategy, "round_robin")
		}
		if cfg.IdleTimeout != 0 {
			t.Errorf("IdleTimeout = %v, want 0", cfg.IdleTimeout)
		}
	})

	t.Run("from env", func(t *testing.T) {
		os.Setenv("PORT", "9000")
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("MAX_CONCURRENT_BROWSERS", "10")
		os.Setenv("MIN_DOMAIN_DELAY", "5")
		os.Setenv("MAX_REQUESTS_PER_BROWSER", "200")
		os.Setenv("CHROME_PATH", "/usr/bin/chromium")
		os.Setenv("MAX_RETRIES", "5")
		os.Setenv("RESUME_ABANDONED_JOBS", "false")
		os.Setenv("PROXY_STRATEGY", "random")

		cfg := Load()

		if cfg.Port != 9000 {
			t.Errorf("Port = %d, want 9000", cfg.Port)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
		}
		if cfg.MaxConcurrentBrowsers != 10 {
			t.Errorf("MaxConcurrentBrowsers = %d, want 10", cfg.MaxConcurrentBrowsers)
		}
		if cfg.MinDomainDelay != 5*time.Second {
			t.Errorf("MinDomainDelay = %v, want 5s (bare int as seconds)", cfg.MinDomainDelay)
		}
		if cfg.MaxRequestsPerBrowser != 200 {
			t.Errorf("MaxRequestsPerBrowser = %d, want 200", cfg.MaxRequestsPerBrowser)
		}
		if cfg.ChromePath != "/usr/bin/chromium" {
			t.Errorf("ChromePath = %q, want %q", cfg.ChromePath, "/usr/bin/chromium")
		}
		if cfg.MaxRetries != 5 {
			t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
		}
		if cfg.ResumeAbandonedJobs {
			t.Error("ResumeAbandonedJobs = true, want false")
		}
		if cfg.ProxyStrategy != "random" {
			t.Errorf("ProxyStrategy = %q, want %q", cfg.ProxyStrategy, "random")
		}
	})

	t.Run("invalid values use defaults", func(t *testing.T) {
		os.Setenv("PORT", "not-a-number")

		cfg := Load()

		if cfg.Port != 8000 {
			t.Errorf("Port with invalid value = %d, want default 8000", cfg.Port)
		}
	})
}

func TestDBPath(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite:///./storage/jobs.db"}
	if got := cfg.DBPath(); got != "./storage/jobs.db" {
		t.Errorf("DBPath() = %q, want %q", got, "./storage/jobs.db")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	if got := getEnv("TEST_VAR", "default"); got != "test-value" {
		t.Errorf("getEnv() = %q, want %q", got, "test-value")
	}

	if got := getEnv("NONEXISTENT_VAR", "default"); got != "default" {
		t.Errorf("getEnv() for missing var = %q, want %q", got, "default")
	}
}

func TestGetEnvInt(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want %d", got, 42)
	}

	os.Setenv("TEST_INT", "not-a-number")
	if got := getEnvInt("TEST_INT", 10); got != 10 {
		t.Errorf("getEnvInt() with invalid value = %d, want default %d", got, 10)
	}

	if got := getEnvInt("NONEXISTENT_VAR", 99); got != 99 {
		t.Errorf("getEnvInt() for missing var = %d, want %d", got, 99)
	}
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DUR", "5m")
	defer os.Unsetenv("TEST_DUR")

	if got := getEnvDuration("TEST_DUR", time.Second); got != 5*time.Minute {
		t.Errorf("getEnvDuration() = %v, want %v", got, 5*time.Minute)
	}

	os.Setenv("TEST_DUR", "30")
	if got := getEnvDuration("TEST_DUR", time.Hour); got != 30*time.Second {
		t.Errorf("getEnvDuration() with bare int = %v, want 30s", got)
	}

	os.Setenv("TEST_DUR", "not-valid-at-all")
	if got := getEnvDuration("TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("getEnvDuration() with invalid value = %v, want default %v", got, time.Hour)
	}

	if got := getEnvDuration("NONEXISTENT_VAR", 30*time.Second); got != 30*time.Second {
		t.Errorf("getEnvDuration() for missing var = %v, want %v", got, 30*time.Second)
	}
}
