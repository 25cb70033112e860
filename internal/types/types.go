package types

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"
)

type Platform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
}

func (p Platform) String() string {
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

func ParsePlatform(platform string) Platform {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 {
		return Platform{OS: "linux", Architecture: "amd64"}
	}

	p := Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}

	if len(parts) > 2 {
		p.Variant = parts[2]
	}

	return p
}

// GetHostPlatform returns linux plus the architecture of the running binary;
// images are always linux images regardless of the build host.
func GetHostPlatform() Platform {
	return Platform{
		OS:           "linux",
		Architecture: runtime.GOARCH,
	}
}

// Package is one installed package as reported by a resolver, ranked by
// popularity. Files are absolute paths inside the installed root.
type Package struct {
	Name      string    `json:"name"`
	EVR       string    `json:"evr"`
	Arch      string    `json:"arch"`
	Files     []string  `json:"files"`
	BuildTime time.Time `json:"buildtime"`
}

// NEVRA renders the package as name-evr.arch.
func (p Package) NEVRA() string {
	if p.Arch == "" {
		return fmt.Sprintf("%s-%s", p.Name, p.EVR)
	}
	return fmt.Sprintf("%s-%s.%s", p.Name, p.EVR, p.Arch)
}

// ImageSpec holds the user-facing parts of the image configuration.
type ImageSpec struct {
	User         string            `yaml:"user,omitempty" json:"user,omitempty"`
	ExposedPorts []string          `yaml:"exposed_ports,omitempty" json:"exposed_ports,omitempty"`
	Envs         map[string]string `yaml:"envs,omitempty" json:"envs,omitempty"`
	Entrypoint   []string          `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	Cmd          []string          `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Volumes      []string          `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Labels       map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	WorkingDir   string            `yaml:"workingdir,omitempty" json:"workingdir,omitempty"`
	StopSignal   string            `yaml:"stopsignal,omitempty" json:"stopsignal,omitempty"`
	Author       string            `yaml:"author,omitempty" json:"author,omitempty"`
}

// Repository is a package repository reference. In configuration files it may
// be written as a bare URL, a bare repository id, or a mapping with an
// optional id, a url and extra options.
type Repository struct {
	ID      string            `yaml:"id,omitempty" json:"id,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// UnmarshalYAML accepts the string and mapping forms of a repository.
func (r *Repository) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		if strings.Contains(s, "://") {
			*r = Repository{URL: s}
		} else {
			*r = Repository{ID: s}
		}
		return nil
	}

	type plain Repository
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	if p.URL == "" && p.ID == "" {
		return fmt.Errorf("repository must set id or url")
	}
	*r = Repository(p)
	return nil
}

// EffectiveID returns the explicit id when present, otherwise an id derived
// from the URL as the host followed by the path segments, joined by "_".
func (r Repository) EffectiveID() string {
	if r.ID != "" {
		return r.ID
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return strings.Trim(strings.ReplaceAll(r.URL, "/", "_"), "_")
	}
	parts := []string{u.Host}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "_")
}
