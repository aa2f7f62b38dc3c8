package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/reviewapps-dev/rdeploy/internal/config"
)

// PassphraseFunc is asked for a key passphrase when the host config has
// none. Returning an error aborts the dial.
type PassphraseFunc func(host config.Host) ([]byte, error)

// keyCache keeps decrypted signers by key path. Loads are serialised, so
// hosts sharing an encrypted key ask for its passphrase once per run and
// never at the same time.
type keyCache struct {
	mu      sync.Mutex
	signers map[string]ssh.Signer
}

func (c *keyCache) load(host config.Host, askPassphrase PassphraseFunc) (ssh.Signer, error) {
	if c == nil {
		return loadKey(host, askPassphrase)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if signer, ok := c.signers[host.PrivateKey]; ok {
		return signer, nil
	}
	signer, err := loadKey(host, askPassphrase)
	if err != nil {
		return nil, err
	}
	if c.signers == nil {
		c.signers = map[string]ssh.Signer{}
	}
	c.signers[host.PrivateKey] = signer
	return signer, nil
}

// authMethods builds the ssh auth chain for host. The returned closer
// releases the agent socket, if one was opened. keys may be nil.
func authMethods(host config.Host, keys *keyCache, askPassphrase PassphraseFunc) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closer := func() {}

	if host.PrivateKey != "" {
		signer, err := keys.load(host, askPassphrase)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if host.Agent {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, closer, errors.New("agent auth requested but SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, closer, fmt.Errorf("ssh agent: %w", err)
		}
		closer = func() { conn.Close() }
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	password := host.Password
	if password == "" && host.KeyringService != "" {
		secret, err := keyring.Get(host.KeyringService, host.User)
		if err != nil {
			closer()
			return nil, func() {}, fmt.Errorf("keyring %s/%s: %w", host.KeyringService, host.User, err)
		}
		password = secret
	}
	if password != "" {
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, closer, errors.New("no authentication method configured (password, private_key, agent or keyring_service)")
	}
	return methods, closer, nil
}

func loadKey(host config.Host, askPassphrase PassphraseFunc) (ssh.Signer, error) {
	pem, err := os.ReadFile(host.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", host.PrivateKey, err)
		}
		return signer, nil
	}

	passphrase := []byte(host.Passphrase)
	if len(passphrase) == 0 {
		if askPassphrase == nil {
			return nil, fmt.Errorf("private key %s is encrypted and no passphrase was given", host.PrivateKey)
		}
		if passphrase, err = askPassphrase(host); err != nil {
			return nil, fmt.Errorf("passphrase: %w", err)
		}
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %s: %w", host.PrivateKey, err)
	}
	return signer, nil
}

func hostKeyCallback(host config.Host) (ssh.HostKeyCallback, error) {
	if host.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := host.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w (set insecure_ignore_host_key to skip verification)", path, err)
	}
	return knownhosts.New(path)
}
