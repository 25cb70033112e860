package types

import (
	"testing"

	"gopkg.in/yaml.v2"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"linux/amd64", Platform{OS: "linux", Architecture: "amd64"}},
		{"linux/arm/v7", Platform{OS: "linux", Architecture: "arm", Variant: "v7"}},
		{"garbage", Platform{OS: "linux", Architecture: "amd64"}},
	}
	for _, tt := range tests {
		if got := ParsePlatform(tt.in); got != tt.want {
			t.Errorf("ParsePlatform(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if tt.in != "garbage" && ParsePlatform(tt.in).String() != tt.in {
			t.Errorf("String() did not round-trip %q", tt.in)
		}
	}
}

func TestPackageNEVRA(t *testing.T) {
	p := Package{Name: "bash", EVR: "5.1-2", Arch: "x86_64"}
	if got := p.NEVRA(); got != "bash-5.1-2.x86_64" {
		t.Errorf("NEVRA() = %q", got)
	}
	p.Arch = ""
	if got := p.NEVRA(); got != "bash-5.1-2" {
		t.Errorf("NEVRA() without arch = %q", got)
	}
}

func TestRepositoryUnmarshalYAML(t *testing.T) {
	doc := `
- https://packages.example.com/base/x86_64/
- updates
- id: extras
  url: https://mirror.example.com/extras
  options:
    gpgcheck: "1"
- url: https://cdn.example.org/a/b
`
	var repos []Repository
	if err := yaml.Unmarshal([]byte(doc), &repos); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(repos) != 4 {
		t.Fatalf("got %d repositories, want 4", len(repos))
	}

	want := []string{
		"packages.example.com_base_x86_64",
		"updates",
		"extras",
		"cdn.example.org_a_b",
	}
	for i, w := range want {
		if got := repos[i].EffectiveID(); got != w {
			t.Errorf("repos[%d].EffectiveID() = %q, want %q", i, got, w)
		}
	}

	if repos[1].ID != "updates" || repos[1].URL != "" {
		t.Errorf("bare id parsed as %+v", repos[1])
	}
	if repos[2].Options["gpgcheck"] != "1" {
		t.Errorf("options not parsed: %+v", repos[2].Options)
	}
}

func TestRepositoryUnmarshalYAMLRejectsEmpty(t *testing.T) {
	var repos []Repository
	if err := yaml.Unmarshal([]byte("- options: {a: b}\n"), &repos); err == nil {
		t.Fatal("expected error for repository without id or url")
	}
}
