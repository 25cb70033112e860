package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/internal/types"
)

// Methods understood by a resolver program
const (
	MethodMostPopularPackages = "most_popular_packages"
	MethodResolve             = "resolve"
)

// Call is one request written to a resolver program's stdin
type Call struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Reply is read from the program's stdout. A non-empty Error fails the call.
type Reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// ResolveRequest asks for the full package set satisfying Specs
type ResolveRequest struct {
	Specs        []string           `json:"specs"`
	Repositories []types.Repository `json:"repositories"`
	GPGKeys      []string           `json:"gpgkeys,omitempty"`
}

// Checksum of a package file
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
}

// ResolvedPackage is a repository package chosen by resolution
type ResolvedPackage struct {
	Name     string   `json:"name"`
	EVR      string   `json:"evr"`
	Checksum Checksum `json:"checksum"`
	RepoID   string   `json:"repoid"`
}

// LocalPackage is a package given as a local .rpm file
type LocalPackage struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires"`
}

// RepoKeyConfig carries signing key material per repository
type RepoKeyConfig struct {
	GPGCheck bool     `json:"gpgcheck"`
	Keys     []string `json:"keys"`
}

// ResolveResponse is the result of MethodResolve
type ResolveResponse struct {
	Packages      []ResolvedPackage        `json:"packages"`
	LocalPackages []LocalPackage           `json:"local_packages"`
	RepoKeyConfig map[string]RepoKeyConfig `json:"repo_key_config"`
}

// Command delegates to an external program speaking a single JSON call per
// process over stdin and stdout.
type Command struct {
	Path   string
	Args   []string
	Env    []string
	Logger logrus.FieldLogger
}

// ParseCommand splits a command line such as "python3 resolve.py" into a
// Command. Arguments are separated by whitespace without shell quoting.
func ParseCommand(line string, log logrus.FieldLogger) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, rerrors.NewValidationError("parse_resolver_command", "resolver command is empty", nil)
	}
	return Command{Path: fields[0], Args: fields[1:], Logger: log}, nil
}

// MostPopularPackages implements Resolver
func (c Command) MostPopularPackages(ctx context.Context, req Request) ([]types.Package, error) {
	var pkgs []types.Package
	if err := c.call(ctx, MethodMostPopularPackages, req, &pkgs); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// Resolve asks the program to resolve package specs against repositories
func (c Command) Resolve(ctx context.Context, req ResolveRequest) (ResolveResponse, error) {
	var resp ResolveResponse
	err := c.call(ctx, MethodResolve, req, &resp)
	return resp, err
}

func (c Command) call(ctx context.Context, method string, params, result interface{}) error {
	in, err := json.Marshal(Call{Method: method, Params: params})
	if err != nil {
		return rerrors.NewResolverError(method, "encode request", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := logging.OrDiscard(c.Logger).WithField("method", method).WithField("program", c.Path)
	log.Debug("Calling resolver")
	if err := cmd.Run(); err != nil {
		msg := "resolver program failed"
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		return rerrors.NewResolverError(method, msg, err)
	}

	var reply Reply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return rerrors.NewResolverError(method, "malformed reply", err)
	}
	if reply.Error != "" {
		return rerrors.NewResolverError(method, reply.Error, nil)
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return rerrors.NewResolverError(method, "malformed result", err)
	}
	return nil
}
