package sshterm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig lists the credentials offered to the remote host, in the
// order public key, password, keyboard-interactive.
type AuthConfig struct {
	Password       string
	PrivateKeyFile string
	Passphrase     string

	// KeyboardInteractive answers every prompt with Password.
	KeyboardInteractive bool
}

// AuthMethods builds the ssh auth methods for cfg.
func AuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		m, err := PrivateKey(key, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.PrivateKeyFile, err)
		}
		methods = append(methods, m)
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
		if cfg.KeyboardInteractive {
			methods = append(methods, ssh.KeyboardInteractive(answerAll(cfg.Password)))
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh credentials configured")
	}
	return methods, nil
}

// PrivateKey parses a PEM private key, decrypting it when passphrase is set.
func PrivateKey(key []byte, passphrase string) (ssh.AuthMethod, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func answerAll(answer string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = answer
		}
		return answers, nil
	}
}

// HostKeyCallback verifies hosts against a known_hosts file. With no file,
// insecure must be set explicitly to accept any host key.
func HostKeyCallback(knownHostsFile string, insecure bool) (ssh.HostKeyCallback, error) {
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		return cb, nil
	}
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.New("ssh.known_hosts is required unless ssh.insecure_ignore_host_key is set")
}
