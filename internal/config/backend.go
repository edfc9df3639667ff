package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Backends a data connection can run.
const (
	BackendExec = "exec"
	BackendSSH  = "ssh"
	BackendTail = "tail"
)

// SSHConfig configures the ssh backend: a shell on a remote host.
type SSHConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Command  string `yaml:"command"`
	TermType string `yaml:"term_type"`

	Password            string `yaml:"password"`
	KeyboardInteractive bool   `yaml:"keyboard_interactive"`
	PrivateKeyFile      string `yaml:"private_key_file"`
	Passphrase          string `yaml:"passphrase"`

	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
}

// TailConfig configures the tail backend: followed log files.
type TailConfig struct {
	Files        []TailFile    `yaml:"files"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TailFile is one followed file. Syntax names colouring rules (level,
// slog-text, slog-json, syslog); Filter keeps only matching lines.
type TailFile struct {
	Path   string   `yaml:"path"`
	Syntax []string `yaml:"syntax"`
	Filter string   `yaml:"filter"`
}

func (c Config) validateBackend() error {
	switch c.Server.Backend {
	case BackendExec:
	case BackendSSH:
		if c.SSH.Host == "" {
			return errors.New("ssh.host is required for the ssh backend")
		}
		if c.SSH.Port < 0 || c.SSH.Port > 65535 {
			return fmt.Errorf("ssh.port out of range: %d", c.SSH.Port)
		}
		if c.SSH.Password == "" && c.SSH.PrivateKeyFile == "" {
			return errors.New("ssh.password or ssh.private_key_file is required")
		}
		if c.SSH.KnownHosts == "" && !c.SSH.InsecureIgnoreHostKey {
			return errors.New("ssh.known_hosts is required unless ssh.insecure_ignore_host_key is set")
		}
	case BackendTail:
		if len(c.Tail.Files) == 0 {
			return errors.New("tail.files is required for the tail backend")
		}
		for i, f := range c.Tail.Files {
			if f.Path == "" {
				return fmt.Errorf("tail.files[%d].path is required", i)
			}
			if f.Filter != "" {
				if _, err := regexp.Compile(f.Filter); err != nil {
					return fmt.Errorf("tail.files[%d].filter: %w", i, err)
				}
			}
		}
		if c.Tail.PollInterval < 0 {
			return fmt.Errorf("tail.poll_interval must not be negative: %s", c.Tail.PollInterval)
		}
	default:
		return fmt.Errorf("unknown server.backend %q", c.Server.Backend)
	}
	return nil
}
