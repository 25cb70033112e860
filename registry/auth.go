package registry

import (
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Credentials for one registry host. Username and Password take precedence
// over Token.
type Credentials struct {
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
}

func (c Credentials) authenticator() authn.Authenticator {
	if c.Username != "" && c.Password != "" {
		return &authn.Basic{Username: c.Username, Password: c.Password}
	}
	if c.Token != "" {
		return &authn.Bearer{Token: c.Token}
	}
	return authn.Anonymous
}

// AuthProvider is an authn.Keychain that looks up credentials in order:
// explicitly configured hosts, per-host environment variables, then the
// default keychain (docker config files and credential helpers).
type AuthProvider struct {
	hosts    map[string]Credentials
	fallback authn.Keychain
	getenv   func(string) string
}

// NewAuthProvider creates a keychain over hosts, which may be nil
func NewAuthProvider(hosts map[string]Credentials) *AuthProvider {
	return &AuthProvider{
		hosts:    hosts,
		fallback: authn.DefaultKeychain,
		getenv:   os.Getenv,
	}
}

// Resolve implements authn.Keychain
func (a *AuthProvider) Resolve(res authn.Resource) (authn.Authenticator, error) {
	host := res.RegistryStr()
	if c, ok := a.hosts[host]; ok {
		if auth := c.authenticator(); auth != authn.Anonymous {
			return auth, nil
		}
	}
	if auth := a.fromEnvironment(host); auth != authn.Anonymous {
		return auth, nil
	}
	if a.fallback == nil {
		return authn.Anonymous, nil
	}
	return a.fallback.Resolve(res)
}

// fromEnvironment reads <HOST>_USERNAME/_PASSWORD or <HOST>_TOKEN, where
// HOST is the registry host upper-cased with '.', '-' and ':' replaced by
// '_'. Docker Hub also accepts DOCKER_USERNAME and friends.
func (a *AuthProvider) fromEnvironment(host string) authn.Authenticator {
	prefixes := []string{EnvPrefix(host)}
	if host == name.DefaultRegistry || host == "docker.io" {
		prefixes = append(prefixes, "DOCKER")
	}
	for _, p := range prefixes {
		c := Credentials{
			Username: a.getenv(p + "_USERNAME"),
			Password: a.getenv(p + "_PASSWORD"),
			Token:    a.getenv(p + "_TOKEN"),
		}
		if auth := c.authenticator(); auth != authn.Anonymous {
			return auth
		}
	}
	return authn.Anonymous
}

// EnvPrefix returns the environment variable prefix used for host
func EnvPrefix(host string) string {
	return strings.NewReplacer(".", "_", "-", "_", ":", "_").Replace(strings.ToUpper(host))
}
