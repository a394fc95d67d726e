package inventory

import (
	"fmt"
	"iter"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kevinburke/ssh_config"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/tastythames/sshscan/internal/scheduler"
	"github.com/tastythames/sshscan/internal/sshclient"
)

type Inventory struct {
	Defaults    Defaults           `yaml:"defaults"`
	SSHConfig   string             `yaml:"ssh_config"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Commands    []CommandConfig    `yaml:"commands"`
	Targets     []Target           `yaml:"targets"`

	jobs []scheduler.Job
}

type Defaults struct {
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Timeout        time.Duration `yaml:"timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type CredentialConfig struct {
	Name          string `yaml:"name"`
	User          string `yaml:"user"`
	PasswordEnv   string `yaml:"password_env"` // e.g. SSH_PASS_ECS1
	PasswordFile  string `yaml:"password_file"`
	KeyPath       string `yaml:"key_path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

type CommandConfig struct {
	Name    string   `yaml:"name"`
	Builtin string   `yaml:"builtin"`
	Run     []string `yaml:"run"`
}

type Target struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"` // host, ssh_config alias or CIDR
	Port    int               `yaml:"port"`
	Labels  map[string]string `yaml:"labels"`
	SSH     SSHConfig         `yaml:"ssh"`

	// Credentials and Commands reference entries by name. Empty means all,
	// in declared order.
	Credentials []string `yaml:"credentials"`
	Commands    []string `yaml:"commands"`

	Timeout        time.Duration `yaml:"timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// SSHConfig is an inline credential tried before the referenced ones.
type SSHConfig struct {
	User string     `yaml:"user"`
	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	PasswordEnv string `yaml:"password_env"`
	KeyPath     string `yaml:"key_path"`
}

// Load reads and resolves an inventory. Every problem found is reported, not
// only the first.
func Load(fs afero.Fs, path string) (*Inventory, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "read inventory")
	}

	var inv Inventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return nil, errors.Wrap(err, "yaml unmarshal")
	}

	// normalize defaults
	if inv.Defaults.Port == 0 {
		inv.Defaults.Port = scheduler.DefaultPort
	}
	if inv.Defaults.User == "" {
		inv.Defaults.User = "root"
	}
	if inv.Defaults.Timeout <= 0 {
		inv.Defaults.Timeout = scheduler.DefaultTimeout
	}
	// there is no keepalive, so a half-open connection only ends at this limit
	if inv.Defaults.CommandTimeout <= 0 {
		inv.Defaults.CommandTimeout = scheduler.DefaultCommandTimeout
	}

	r := resolver{fs: fs, inv: &inv}
	r.loadSSHConfig(filepath.Dir(path))
	r.resolveCredentials()
	r.resolveCommands()
	r.buildJobs()
	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Jobs yields one job per resolved target.
func (inv *Inventory) Jobs() iter.Seq[scheduler.Job] {
	return func(yield func(scheduler.Job) bool) {
		for _, j := range inv.jobs {
			if !yield(j) {
				return
			}
		}
	}
}

// Len is the number of jobs Jobs yields.
func (inv *Inventory) Len() int { return len(inv.jobs) }

type resolver struct {
	fs   afero.Fs
	inv  *Inventory
	errs *multierror.Error

	sshCfg *ssh_config.Config
	creds  []scheduler.Credential
	byName map[string]scheduler.Credential
	cmds   map[string]scheduler.CommandSpec
}

func (r *resolver) fail(format string, args ...any) {
	r.errs = multierror.Append(r.errs, fmt.Errorf(format, args...))
}

func (r *resolver) loadSSHConfig(baseDir string) {
	path := r.inv.SSHConfig
	if path == "" {
		return
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			r.fail("ssh_config: %v", err)
			return
		}
		path = filepath.Join(home, path[2:])
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	f, err := r.fs.Open(path)
	if err != nil {
		r.fail("ssh_config: %v", err)
		return
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		r.fail("ssh_config %s: %v", path, err)
		return
	}
	r.sshCfg = cfg
}

func (r *resolver) resolveCredentials() {
	r.byName = map[string]scheduler.Credential{}
	for i, c := range r.inv.Credentials {
		if c.Name == "" {
			r.fail("credentials[%d]: name is required", i)
			continue
		}
		if _, dup := r.byName[c.Name]; dup {
			r.fail("credential %q: declared twice", c.Name)
			continue
		}
		cred, err := r.secret(c)
		if err != nil {
			r.fail("credential %q: %v", c.Name, err)
			continue
		}
		r.creds = append(r.creds, cred)
		r.byName[c.Name] = cred
	}
}

func (r *resolver) secret(c CredentialConfig) (scheduler.Credential, error) {
	cred := scheduler.Credential{Name: c.Name, Username: c.User}

	switch {
	case c.PasswordEnv != "":
		cred.Password = os.Getenv(c.PasswordEnv)
		if cred.Password == "" {
			return cred, fmt.Errorf("env %s is empty", c.PasswordEnv)
		}
	case c.PasswordFile != "":
		b, err := afero.ReadFile(r.fs, c.PasswordFile)
		if err != nil {
			return cred, errors.Wrap(err, "password_file")
		}
		cred.Password = strings.TrimRight(string(b), "\r\n")
	}

	if c.KeyPath != "" {
		b, err := afero.ReadFile(r.fs, c.KeyPath)
		if err != nil {
			return cred, errors.Wrap(err, "key_path")
		}
		cred.PrivateKey = b
		if c.PassphraseEnv != "" {
			cred.Passphrase = os.Getenv(c.PassphraseEnv)
		}
	}

	if cred.Password == "" && len(cred.PrivateKey) == 0 {
		return cred, errors.New("needs password_env, password_file or key_path")
	}
	return cred, nil
}

func (r *resolver) resolveCommands() {
	r.cmds = map[string]scheduler.CommandSpec{}
	for i, c := range r.inv.Commands {
		var spec scheduler.CommandSpec
		switch {
		case c.Builtin != "" && len(c.Run) > 0:
			r.fail("commands[%d]: builtin and run are exclusive", i)
			continue
		case c.Builtin != "":
			b, err := sshclient.LookupBuiltin(c.Builtin)
			if err != nil {
				r.fail("commands[%d]: %v", i, err)
				continue
			}
			spec = b.Spec(c.Name)
		case len(c.Run) > 0:
			spec = scheduler.Command(c.Run...)
			if c.Name != "" {
				spec.Name = c.Name
			}
		default:
			r.fail("commands[%d]: needs builtin or run", i)
			continue
		}
		if _, dup := r.cmds[spec.Name]; dup {
			r.fail("command %q: declared twice", spec.Name)
			continue
		}
		r.cmds[spec.Name] = spec
		// keep declared order for targets that take every command
		r.inv.Commands[i].Name = spec.Name
	}
}

func (r *resolver) buildJobs() {
	for i, t := range r.inv.Targets {
		if strings.TrimSpace(t.Address) == "" {
			r.fail("targets[%d]: address is required", i)
			continue
		}

		hosts := []string{t.Address}
		if strings.Contains(t.Address, "/") {
			ips, err := expandCIDR(t.Address)
			if err != nil {
				r.fail("target %s: %v", t.Address, err)
				continue
			}
			hosts = ips
		}

		commands, ok := r.commandsFor(t)
		if !ok {
			continue
		}
		for _, host := range hosts {
			job, ok := r.job(t, host, commands)
			if ok {
				r.inv.jobs = append(r.inv.jobs, job)
			}
		}
	}

	r.inv.jobs = lo.UniqBy(r.inv.jobs, func(j scheduler.Job) string {
		return net.JoinHostPort(j.Target, strconv.Itoa(j.Port))
	})
}

func (r *resolver) commandsFor(t Target) ([]scheduler.CommandSpec, bool) {
	names := t.Commands
	if len(names) == 0 {
		names = lo.Map(r.inv.Commands, func(c CommandConfig, _ int) string { return c.Name })
	}
	ok := true
	specs := make([]scheduler.CommandSpec, 0, len(names))
	for _, n := range names {
		spec, found := r.cmds[n]
		if !found {
			// invalid command entries were already reported
			if len(t.Commands) > 0 {
				r.fail("target %s: unknown command %q", t.Address, n)
				ok = false
			}
			continue
		}
		specs = append(specs, spec)
	}
	return specs, ok
}

func (r *resolver) job(t Target, host string, commands []scheduler.CommandSpec) (scheduler.Job, bool) {
	alias := host
	port := t.Port
	user := r.inv.Defaults.User

	if r.sshCfg != nil {
		if v, _ := r.sshCfg.Get(alias, "HostName"); v != "" {
			host = v
		}
		if v, _ := r.sshCfg.Get(alias, "Port"); v != "" && port == 0 {
			p, err := strconv.Atoi(v)
			if err != nil {
				r.fail("target %s: ssh_config port %q: %v", alias, v, err)
				return scheduler.Job{}, false
			}
			port = p
		}
		if v, _ := r.sshCfg.Get(alias, "User"); v != "" {
			user = v
		}
	}
	if port == 0 {
		port = r.inv.Defaults.Port
	}

	creds, ok := r.credentialsFor(t, user)
	if !ok {
		return scheduler.Job{}, false
	}

	labels := lo.Assign(map[string]string{}, t.Labels)
	if t.Name != "" {
		if _, set := labels["name"]; !set {
			labels["name"] = t.Name
		}
	}

	timeout := lo.Ternary(t.Timeout > 0, t.Timeout, r.inv.Defaults.Timeout)
	cmdTimeout := lo.Ternary(t.CommandTimeout > 0, t.CommandTimeout, r.inv.Defaults.CommandTimeout)

	return scheduler.Job{
		Target:         host,
		Port:           port,
		Labels:         labels,
		Timeout:        timeout,
		CommandTimeout: cmdTimeout,
		Credentials:    creds,
		Commands:       commands,
	}, true
}

func (r *resolver) credentialsFor(t Target, defaultUser string) ([]scheduler.Credential, bool) {
	var out []scheduler.Credential

	inline, present, err := r.inlineCredential(t, defaultUser)
	if err != nil {
		r.fail("target %s: ssh.auth: %v", t.Address, err)
		return nil, false
	}
	if present {
		out = append(out, inline)
	}

	refs := r.creds
	if len(t.Credentials) > 0 {
		refs = nil
		for _, n := range t.Credentials {
			nc, found := r.byName[n]
			if !found {
				r.fail("target %s: unknown credential %q", t.Address, n)
				return nil, false
			}
			refs = append(refs, nc)
		}
	}

	for _, c := range refs {
		if c.Username == "" {
			c.Username = defaultUser
		}
		out = append(out, c)
	}
	return out, true
}

// inlineCredential resolves a target's own ssh block.
func (r *resolver) inlineCredential(t Target, defaultUser string) (scheduler.Credential, bool, error) {
	a := t.SSH.Auth
	if a.PasswordEnv == "" && a.KeyPath == "" {
		return scheduler.Credential{}, false, nil
	}
	name := lo.Ternary(t.Name != "", t.Name, t.Address)
	user := lo.Ternary(t.SSH.User != "", t.SSH.User, defaultUser)

	cred, err := r.secret(CredentialConfig{Name: name, User: user, PasswordEnv: a.PasswordEnv, KeyPath: a.KeyPath})
	return cred, true, err
}
