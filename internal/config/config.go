package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. It is optional.
const DefaultPath = "projectdesk.yaml"

type Config struct {
	API     APIConfig     `yaml:"api"`
	Console ConsoleConfig `yaml:"console"`
	Log     LogConfig     `yaml:"log"`
}

type APIConfig struct {
	Addr          string        `yaml:"addr"`
	DBPath        string        `yaml:"db_path"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
	AdminName     string        `yaml:"admin_name"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

type ConsoleConfig struct {
	Addr           string        `yaml:"addr"`
	APIBaseURL     string        `yaml:"api_base_url"`
	SessionSecret  string        `yaml:"session_secret"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	StorePath      string        `yaml:"store_path"`
	TemplateDir    string        `yaml:"template_dir"`
	PageSize       int           `yaml:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	Company        CompanyConfig `yaml:"company"`
}

// CompanyConfig is printed as the letterhead of exported documents.
type CompanyConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Phone    string `yaml:"phone"`
	Email    string `yaml:"email"`
	LogoPath string `yaml:"logo_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			Addr:      ":8080",
			DBPath:    "data.db",
			AdminName: "Administrator",
			TokenTTL:  12 * time.Hour,
		},
		Console: ConsoleConfig{
			Addr:           ":3000",
			APIBaseURL:     "http://localhost:8080",
			SessionTTL:     12 * time.Hour,
			PageSize:       25,
			RequestTimeout: 8 * time.Second,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   30 * time.Second,
			Company: CompanyConfig{
				Name: "ProjectDesk",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if it exists) over the defaults and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnvOverrides() {
	setString(&c.API.Addr, "API_ADDR")
	setString(&c.API.DBPath, "AUTH_DB_PATH")
	setString(&c.API.AdminEmail, "ADMIN_EMAIL")
	setString(&c.API.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.API.AdminName, "ADMIN_NAME")
	setString(&c.API.JWTSecret, "JWT_SECRET")
	setDuration(&c.API.TokenTTL, "TOKEN_TTL")

	setString(&c.Console.Addr, "CONSOLE_ADDR")
	setString(&c.Console.APIBaseURL, "API_BASE_URL")
	setString(&c.Console.SessionSecret, "SESSION_SECRET")
	setDuration(&c.Console.SessionTTL, "SESSION_TTL")
	setString(&c.Console.StorePath, "SESSION_STORE_PATH")
	setString(&c.Console.TemplateDir, "TEMPLATE_DIR")
	setInt(&c.Console.PageSize, "PAGE_SIZE")
	setString(&c.Console.Company.Name, "COMPANY_NAME")
	setString(&c.Console.Company.Address, "COMPANY_ADDRESS")
	setString(&c.Console.Company.Phone, "COMPANY_PHONE")
	setString(&c.Console.Company.Email, "COMPANY_EMAIL")
	setString(&c.Console.Company.LogoPath, "COMPANY_LOGO")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")
}

// ValidateAPI checks the settings the development backend needs.
func (c *Config) ValidateAPI() error {
	var errs []error
	if strings.TrimSpace(c.API.Addr) == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if strings.TrimSpace(c.API.DBPath) == "" {
		errs = append(errs, errors.New("api.db_path is required"))
	}
	if c.API.AdminEmail == "" || c.API.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required"))
	}
	if len(c.API.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.API.TokenTTL <= 0 {
		errs = append(errs, errors.New("api.token_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateConsole checks the settings the admin console needs.
func (c *Config) ValidateConsole() error {
	var errs []error
	if strings.TrimSpace(c.Console.Addr) == "" {
		errs = append(errs, errors.New("console.addr is required"))
	}
	if !strings.HasPrefix(c.Console.APIBaseURL, "http://") && !strings.HasPrefix(c.Console.APIBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("console.api_base_url %q must be an http(s) url", c.Console.APIBaseURL))
	}
	if len(c.Console.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 16 characters"))
	}
	if c.Console.PageSize <= 0 {
		errs = append(errs, errors.New("console.page_size must be positive"))
	}
	if c.Console.SessionTTL <= 0 {
		errs = append(errs, errors.New("console.session_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, name string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*dst = value
	}
}

func setInt(dst *int, name string) {
	if value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name))); err == nil {
		*dst = value
	}
}

func setDuration(dst *time.Duration, name string) {
	if value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name))); err == nil {
		*dst = value
	}
}
