package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	GitLab     GitLabConfig     `toml:"gitlab"`
	SharePoint SharePointConfig `toml:"sharepoint"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Summaries  SummariesConfig  `toml:"summaries"`
}

type GitLabConfig struct {
	URL        string   `toml:"url"`
	Token      string   `toml:"token"`
	ProjectIDs []string `toml:"project_ids"`
}

// SharePointConfig points at the document-list site. An empty SiteURL
// leaves the document tools disabled.
type SharePointConfig struct {
	SiteURL  string `toml:"site_url"`
	Token    string `toml:"token"`
	ListName string `toml:"list_name"`
}

type OpenAIConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type SummariesConfig struct {
	MaxConcurrent   int `toml:"max_concurrent"`
	CacheTTLMinutes int `toml:"cache_ttl_minutes"`
}

func DefaultConfig() Config {
	return Config{
		GitLab: GitLabConfig{
			URL: "https://gitlab.com",
		},
		SharePoint: SharePointConfig{
			ListName: "Forms",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Summaries: SummariesConfig{
			MaxConcurrent:   4,
			CacheTTLMinutes: 60,
		},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "gitlab-agent"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GITLAB_URL"); v != "" {
		cfg.GitLab.URL = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_PROJECT_IDS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.GitLab.ProjectIDs = ids
	}
	if v := os.Getenv("SHAREPOINT_SITE_URL"); v != "" {
		cfg.SharePoint.SiteURL = v
	}
	if v := os.Getenv("SHAREPOINT_TOKEN"); v != "" {
		cfg.SharePoint.Token = v
	}
	if v := os.Getenv("SHAREPOINT_LIST"); v != "" {
		cfg.SharePoint.ListName = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
