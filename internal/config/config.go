package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultConfigFile is used when no --config-file flag is given.
	DefaultConfigFile = "upstream-watch.yml"

	BackendExec  = "exec"
	BackendGoGit = "gogit"
)

// Logger provides an application-wide definition of a Logger interface.
type Logger interface {
	logrus.FieldLogger
	WriterLevel(level logrus.Level) *io.PipeWriter
}

// Config contains the application configuration.
type Config struct {
	LogLevel logrus.Level `yaml:"logLevel"`
	Watch    Watch        `yaml:"watch"`
	Git      Git          `yaml:"git"`
	Server   Server       `yaml:"server"`
}

// Watch contains the configuration of the poll loop.
type Watch struct {
	Paths        []string      `yaml:"paths"`
	Period       time.Duration `yaml:"period"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
	ResultBuffer int           `yaml:"resultBuffer"`
	HistorySize  int           `yaml:"historySize"`
}

// Git contains configuration for talking to git and the remote shell.
type Git struct {
	Path       string        `yaml:"path"`
	Backend    string        `yaml:"backend"`
	SSHCommand string        `yaml:"sshCommand"`
	SSHHome    string        `yaml:"sshHome"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Server contains configuration for the HTTP control API.
type Server struct {
	ListenAddress   string        `yaml:"listenAddress"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AddFlags registers the configuration flags on the flag set and returns the
// variable holding the config file path.
func AddFlags(flags *pflag.FlagSet) *string {
	configFile := DefaultConfigFile
	flags.StringVarP(&configFile, "config-file", "c", configFile, "Path to configuration file.")
	return &configFile
}

// Load reads the configuration file and applies defaults.
func Load(configFile string) (Config, error) {
	if configFile == "" {
		return Config{}, errors.New("config-file can not be empty")
	}

	file, err := os.Open(configFile)
	if err != nil {
		return Config{}, fmt.Errorf("can not open configuration file %q: %w", configFile, err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse decodes a configuration from r and applies defaults.
func Parse(r io.Reader) (Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("can not parse configuration file: %w", err)
	}

	if err := setDefaults(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(cfg *Config) error {
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logrus.InfoLevel
	}

	paths := make([]string, 0, len(cfg.Watch.Paths))
	for _, p := range cfg.Watch.Paths {
		expanded, err := ExpandPath(p)
		if err != nil {
			return fmt.Errorf("can not expand path %q: %w", p, err)
		}

		if expanded == "" {
			continue
		}
		paths = append(paths, expanded)
	}
	cfg.Watch.Paths = paths

	if cfg.Watch.Period == 0 {
		cfg.Watch.Period = 5 * time.Minute
	}

	if cfg.Watch.RetryDelay == 0 {
		cfg.Watch.RetryDelay = 1 * time.Second
	}

	if cfg.Watch.ResultBuffer <= 0 {
		cfg.Watch.ResultBuffer = 16
	}

	if cfg.Watch.HistorySize <= 0 {
		cfg.Watch.HistorySize = 50
	}

	if cfg.Git.Path == "" {
		cfg.Git.Path = "git"
	}

	switch cfg.Git.Backend {
	case "":
		cfg.Git.Backend = BackendExec
	case BackendExec, BackendGoGit:
	default:
		return fmt.Errorf("unknown git backend: %q", cfg.Git.Backend)
	}

	if cfg.Git.SSHCommand == "" {
		cfg.Git.SSHCommand = "ssh"
	}

	if cfg.Git.SSHHome != "" {
		home, err := ExpandPath(cfg.Git.SSHHome)
		if err != nil {
			return fmt.Errorf("can not expand sshHome: %w", err)
		}
		cfg.Git.SSHHome = home
	}

	if cfg.Git.Timeout == 0 {
		cfg.Git.Timeout = 60 * time.Second
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 2 * time.Second
	}

	return nil
}

// ExpandPath replaces environment variables and a leading tilde in p.
func ExpandPath(p string) (string, error) {
	return homedir.Expand(os.ExpandEnv(p))
}
