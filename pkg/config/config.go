package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/archstrap/archstrap/pkg/engine"
)

// EnvCredential is the environment variable that overrides the configured
// user credential. Preferred over putting the credential in the file.
const EnvCredential = "ARCHSTRAP_PASSWORD"

// Duration is a time.Duration that unmarshals from YAML strings like "2s"
// or "1m30s". Plain integers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the full archstrap configuration as loaded from YAML.
type Settings struct {
	User     UserSettings    `yaml:"user"`
	Network  NetworkSettings `yaml:"network"`
	Packages PackageSettings `yaml:"packages"`
	WSL      WSLSettings     `yaml:"wsl"`
	Steps    StepSettings    `yaml:"steps"`
	Engine   EngineSettings  `yaml:"engine"`
	Logging  LoggingSettings `yaml:"logging"`
	Metrics  MetricsSettings `yaml:"metrics"`
}

// UserSettings describes the account to provision. All fields optional:
// without a name, user-dependent steps skip.
type UserSettings struct {
	Name     string `yaml:"name" validate:"omitempty,max=32,excludesall= \t"`
	Password string `yaml:"password"`
	Shell    string `yaml:"shell" validate:"omitempty,filepath"`
}

// NetworkSettings configures proxies, mirrors and the connectivity probe.
type NetworkSettings struct {
	Proxy           string   `yaml:"proxy" validate:"omitempty,url"`
	ProbeAddr       string   `yaml:"probe_addr" validate:"omitempty,hostname_port"`
	ProbeTimeout    Duration `yaml:"probe_timeout"`
	RegionalMirrors bool     `yaml:"regional_mirrors"`
	Mirrors         []string `yaml:"mirrors" validate:"dive,url"`
}

// PackageSettings lists packages installed by the package steps.
type PackageSettings struct {
	Base     []string `yaml:"base"`
	Optional []string `yaml:"optional"`
}

// WSLSettings configures /etc/wsl.conf generation.
type WSLSettings struct {
	Systemd bool `yaml:"systemd"`
}

// StepSettings narrows which registered steps run.
type StepSettings struct {
	// Only, when non-empty, restricts the run to these step keys.
	Only []string `yaml:"only"`

	// Skip removes these step keys from the run.
	Skip []string `yaml:"skip"`
}

// EngineSettings tunes the scheduler, retry policy and lock guard.
type EngineSettings struct {
	MaxParallel    int      `yaml:"max_parallel" validate:"min=0,max=64"`
	RetryAttempts  int      `yaml:"retry_attempts" validate:"min=0,max=20"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`
	GracePeriod    Duration `yaml:"grace_period"`
	LockPath       string   `yaml:"lock_path"`
	StatePath      string   `yaml:"state_path"`
	WorkDir        string   `yaml:"work_dir"`
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format   string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// MetricsSettings configures the optional metrics endpoint.
type MetricsSettings struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"omitempty,hostname_port"`
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	return &Settings{
		Network: NetworkSettings{
			ProbeTimeout: Duration(5 * time.Second),
		},
		Packages: PackageSettings{
			Base: []string{
				"base-devel", "git", "wget", "curl", "zsh", "openssh",
			},
			Optional: []string{
				"vim", "htop", "tmux", "unzip", "man-db",
			},
		},
		WSL: WSLSettings{Systemd: true},
		Engine: EngineSettings{
			MaxParallel:    4,
			RetryAttempts:  3,
			RetryBaseDelay: Duration(2 * time.Second),
			RetryMaxDelay:  Duration(time.Minute),
			GracePeriod:    Duration(10 * time.Second),
			LockPath:       engine.DefaultPkgLockPath,
			StatePath:      "/var/lib/archstrap/state.db",
			WorkDir:        "/tmp/archstrap",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsSettings{
			ListenAddress: ":9090",
		},
	}
}

// Load reads settings from path, layered over the defaults. An empty path
// returns the defaults. The credential environment variable, when set,
// overrides the file's password.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewConfigError(
				fmt.Sprintf("cannot read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, engine.NewConfigError(
				fmt.Sprintf("cannot parse config file %s", path), err)
		}
	}

	if cred := os.Getenv(EnvCredential); cred != "" {
		s.User.Password = cred
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks field constraints and cross-field rules.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return engine.NewConfigError("invalid configuration", err)
	}
	if len(s.Steps.Only) > 0 && len(s.Steps.Skip) > 0 {
		return engine.NewConfigError("steps.only and steps.skip are mutually exclusive", nil)
	}
	return nil
}

// RunContext converts the settings into the engine's immutable run context.
func (s *Settings) RunContext() *engine.RunContext {
	rc := &engine.RunContext{
		Username:              s.User.Name,
		Credential:            engine.Secret(s.User.Password),
		Shell:                 s.User.Shell,
		Proxy:                 s.Network.Proxy,
		Mirrors:               append([]string(nil), s.Network.Mirrors...),
		EnableRegionalMirrors: s.Network.RegionalMirrors,
		EnableSystemd:         s.WSL.Systemd,
		WorkDir:               s.Engine.WorkDir,
	}
	if rc.Shell == "" {
		rc.Shell = "/usr/bin/zsh"
	}
	if rc.Username != "" {
		rc.UserHome = filepath.Join("/home", rc.Username)
	}
	return rc
}

// RetryPolicy converts the engine settings into the retry policy.
func (s *Settings) RetryPolicy() engine.RetryPolicy {
	p := engine.RetryPolicy{
		MaxAttempts: s.Engine.RetryAttempts,
		BaseDelay:   s.Engine.RetryBaseDelay.Std(),
		MaxDelay:    s.Engine.RetryMaxDelay.Std(),
	}
	if p.MaxAttempts <= 0 {
		p = engine.DefaultRetryPolicy()
	}
	return p
}
