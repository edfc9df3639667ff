package main

import (
	"fmt"
	"regexp"

	"github.com/remote-agent-terminal/webterm/internal/config"
	"github.com/remote-agent-terminal/webterm/internal/registry"
	"github.com/remote-agent-terminal/webterm/internal/sshterm"
	"github.com/remote-agent-terminal/webterm/internal/tailterm"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

// newSpawner returns what data connections run for the configured
// backend. Only the exec backend is tracked by the registry.
func newSpawner(cfg config.Config, reg *registry.Registry) (webterm.Spawner, error) {
	switch cfg.Server.Backend {
	case config.BackendSSH:
		return newSSHSpawner(cfg.SSH)
	case config.BackendTail:
		return newTailSpawner(cfg.Tail)
	default:
		return reg, nil
	}
}

func newSSHSpawner(c config.SSHConfig) (*sshterm.Spawner, error) {
	auth, err := sshterm.AuthMethods(sshterm.AuthConfig{
		Password:            c.Password,
		KeyboardInteractive: c.KeyboardInteractive,
		PrivateKeyFile:      c.PrivateKeyFile,
		Passphrase:          c.Passphrase,
	})
	if err != nil {
		return nil, err
	}
	hostKey, err := sshterm.HostKeyCallback(c.KnownHosts, c.InsecureIgnoreHostKey)
	if err != nil {
		return nil, err
	}
	return sshterm.New(sshterm.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		TermType:        c.TermType,
		Command:         c.Command,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}), nil
}

func newTailSpawner(c config.TailConfig) (*tailterm.Spawner, error) {
	sources := make([]tailterm.Source, 0, len(c.Files))
	for _, f := range c.Files {
		src := tailterm.Source{Path: f.Path}
		if f.Filter != "" {
			re, err := regexp.Compile(f.Filter)
			if err != nil {
				return nil, fmt.Errorf("tail filter for %s: %w", f.Path, err)
			}
			src.Plugins = append(src.Plugins, tailterm.Grep(re))
		}
		if len(f.Syntax) > 0 {
			hl, err := tailterm.Highlight(f.Syntax...)
			if err != nil {
				return nil, fmt.Errorf("tail syntax for %s: %w", f.Path, err)
			}
			src.Plugins = append(src.Plugins, hl)
		}
		sources = append(sources, src)
	}
	return tailterm.New(tailterm.Config{Sources: sources, PollInterval: c.PollInterval}), nil
}
