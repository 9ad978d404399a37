package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config models repairflow.yml.
type Config struct {
	Sales struct {
		// Roles grant sales capability. Any one of them is enough.
		Roles []string `yaml:"roles"`
	} `yaml:"sales"`
	Notifications struct {
		ExcludedIdentities []string `yaml:"excluded_identities"`
	} `yaml:"notifications"`
	Lock struct {
		RedisAddr  string `yaml:"redis_addr"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"lock"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type RBACRole struct {
	Description string `yaml:"description"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with rf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Sales.Roles) == 0 {
		return fmt.Errorf("config.sales.roles is required")
	}
	for _, r := range c.Sales.Roles {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("config.sales.roles contains empty role id")
		}
		if len(c.RBAC.Roles) > 0 {
			if _, ok := c.RBAC.Roles[r]; !ok {
				return fmt.Errorf("sales role %s not declared in config.rbac.roles", r)
			}
		}
	}
	for _, id := range c.Notifications.ExcludedIdentities {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config.notifications.excluded_identities contains empty id")
		}
	}
	if c.Lock.TTLSeconds < 0 {
		return fmt.Errorf("config.lock.ttl_seconds must not be negative")
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("config.log.level: %w", err)
		}
	}
	for roleID := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
	}
	return nil
}

// Excluded reports whether the identity never receives fan-out.
func (c *Config) Excluded(actorID string) bool {
	for _, id := range c.Notifications.ExcludedIdentities {
		if id == actorID {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "repairflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `sales:
  roles: [sale_salesman, sale_salesman_all_leads, sale_manager]

notifications:
  excluded_identities: [__system__, automation_bot]

lock:
  redis_addr: ""
  ttl_seconds: 30

log:
  level: info

rbac:
  roles:
    sale_salesman:
      description: "Sales: own documents only"
    sale_salesman_all_leads:
      description: "Sales: all documents"
    sale_manager:
      description: "Sales: administrator"
    stock_user:
      description: "Inventory: user"
    repair_user:
      description: "Repairs: technician"
`
