package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	ncerr "rexd/internal/errors"
)

// defaultKeyNames are looked up in ~/.ssh when no credential was
// asked for explicitly.
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

var errEncryptedKey = errors.New("key is passphrase protected")

// Credentials produces the client half of an SSH handshake for one
// SSHConfig: which authentication methods to offer and how to check
// the gateway's host key.  Close it once the handshake is over.
type Credentials struct {
	cfg *SSHConfig

	// Home is where .ssh lives.  Empty means the user's home
	// directory.
	Home string
	// AgentSocket is the ssh-agent socket.  Empty means
	// $SSH_AUTH_SOCK.
	AgentSocket string
	// Prompt reads a secret from the user.  Nil means the controlling
	// terminal.
	Prompt func(prompt string) ([]byte, error)

	agentConn net.Conn
}

// NewCredentials returns Credentials for cfg with the defaults above.
func NewCredentials(cfg *SSHConfig) *Credentials {
	return &Credentials{cfg: cfg}
}

// Methods returns the authentication methods to offer, key file
// first, then the agent, then a password.  Whatever was asked for
// explicitly must be usable.  With nothing asked for, the agent and
// the unencrypted default keys are offered when present, and finding
// neither is ErrAuthFailed.
func (c *Credentials) Methods() ([]ssh.AuthMethod, error) {
	var out []ssh.AuthMethod

	if c.cfg.KeyPath != "" {
		m, err := c.keyFile(c.cfg.KeyPath, true)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", c.cfg.KeyPath, err)
		}
		out = append(out, m)
	}
	if c.cfg.UseAgent {
		m, err := c.agentMethod()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		out = append(out, m)
	}
	if c.cfg.PromptPass {
		// asked only if the gateway gets as far as wanting a password
		out = append(out, ssh.PasswordCallback(c.password))
	}
	if len(out) > 0 {
		return out, nil
	}

	if m, err := c.agentMethod(); err == nil {
		out = append(out, m)
	}
	out = append(out, c.defaultKeys()...)
	if len(out) == 0 {
		return nil, fmt.Errorf(
			"%w: no SSH credentials found, use --ssh-key, --ssh-password or --ssh-agent",
			ncerr.ErrAuthFailed)
	}
	return out, nil
}

// HostKeys returns the host key check for the gateway: known_hosts
// (KnownHosts, or ~/.ssh/known_hosts) when strict, anything otherwise.
func (c *Credentials) HostKeys() (ssh.HostKeyCallback, error) {
	if !c.cfg.StrictHostKey {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := c.cfg.KnownHosts
	if file == "" {
		dir, err := c.sshDir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(dir, "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", file, err)
	}
	return cb, nil
}

// Close releases the agent connection, if one was opened.
func (c *Credentials) Close() error {
	if c.agentConn == nil {
		return nil
	}
	err := c.agentConn.Close()
	c.agentConn = nil
	return err
}

// keyFile loads a private key.  An encrypted key prompts for its
// passphrase only when ask is set.
func (c *Credentials) keyFile(path string, ask bool) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
	case !errors.As(err, &missing):
		return nil, fmt.Errorf("parsing key: %w", err)
	case !ask:
		return nil, errEncryptedKey
	default:
		pass, err := c.ask(fmt.Sprintf("Enter passphrase for %s: ", path))
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		if signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass); err != nil {
			return nil, fmt.Errorf("decrypting key: %w", err)
		}
	}
	return ssh.PublicKeys(signer), nil
}

// defaultKeys offers the well-known key files that exist and need no
// passphrase; encrypted ones are expected to be loaded in the agent.
func (c *Credentials) defaultKeys() []ssh.AuthMethod {
	dir, err := c.sshDir()
	if err != nil {
		return nil
	}
	var out []ssh.AuthMethod
	for _, name := range defaultKeyNames {
		if m, err := c.keyFile(filepath.Join(dir, name), false); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *Credentials) agentMethod() (ssh.AuthMethod, error) {
	sock := c.AgentSocket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	if c.agentConn == nil {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
		}
		c.agentConn = conn
	}
	return ssh.PublicKeysCallback(agent.NewClient(c.agentConn).Signers), nil
}

func (c *Credentials) password() (string, error) {
	pass, err := c.ask(fmt.Sprintf("%s@%s's password: ", c.cfg.User, c.cfg.Host))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}

func (c *Credentials) ask(prompt string) ([]byte, error) {
	if c.Prompt != nil {
		return c.Prompt(prompt)
	}
	return readSecret(prompt)
}

func (c *Credentials) sshDir() (string, error) {
	home := c.Home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
	}
	return filepath.Join(home, ".ssh"), nil
}

// readSecret prompts on the controlling terminal.  Stdin is left alone
// because the client reads the commands to send from it.
func readSecret(prompt string) ([]byte, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no terminal to prompt on: %w", err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("/dev/tty is not a terminal")
	}
	fmt.Fprint(tty, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(tty)
	return pass, err
}
