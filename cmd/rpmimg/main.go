package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bibin-skaria/rpmimg/exporters"
	"github.com/bibin-skaria/rpmimg/imager"
	"github.com/bibin-skaria/rpmimg/internal/config"
	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
	"github.com/bibin-skaria/rpmimg/internal/types"
	"github.com/bibin-skaria/rpmimg/layers"
	"github.com/bibin-skaria/rpmimg/ocidir"
	"github.com/bibin-skaria/rpmimg/registry"
	"github.com/bibin-skaria/rpmimg/resolver"
	"github.com/bibin-skaria/rpmimg/rootfs"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		msg := err.Error()
		var be *rerrors.BuildError
		if errors.As(err, &be) {
			msg = be.GetUserFriendlyMessage()
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel  string
	logFormat string
	log       *logrus.Logger
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "rpmimg",
		Short: "Build layered OCI images from RPM install roots",
		Long: `rpmimg turns an installed root filesystem into a reproducible OCI image.
The most popular packages each get their own layer so that images sharing
packages share layers; everything else goes into a final layer.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.log = logging.New(logging.Options{
				Level:  logging.LogLevel(opts.logLevel),
				Format: logging.Format(opts.logFormat),
				Output: cmd.ErrOrStderr(),
			})
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $LOG_LEVEL or info")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newTagsCommand())

	return cmd
}

type buildOptions struct {
	root          string
	layout        string
	configPath    string
	tag           string
	maxLayers     int
	sizeThreshold uint64
	compression   string
	concurrency   int
	labels        []string
	platform      string
	rpmDir        string
	resolverCmd   string
	clean         bool
	touchSymlinks bool
}

func newBuildCommand(g *globalOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an image from an installed root filesystem",
		Long: `Build an image from the root filesystem given by --root into the OCI
image layout at --layout, tagging it with --tag. Package layers need a
resolver: --rpm-dir ranks the .rpm files in a directory, --resolver-cmd
delegates to an external program. Without either, a single layer is built.

SOURCE_DATE_EPOCH, when set, fixes the image creation time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, g.log, opts)
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Installed root filesystem (required)")
	cmd.Flags().StringVar(&opts.layout, "layout", "", "OCI image layout directory (required)")
	cmd.Flags().StringVarP(&opts.configPath, "file", "f", "", "Build file supplying image configuration (default: "+config.DefaultPath+" when present)")
	cmd.Flags().StringVarP(&opts.tag, "tag", "t", imager.DefaultTag, "Tag for the image in the layout")
	cmd.Flags().IntVar(&opts.maxLayers, "max-layers", imager.DefaultMaxLayers, "Maximum number of package layers")
	cmd.Flags().Uint64Var(&opts.sizeThreshold, "size-threshold", imager.DefaultSizeThreshold, "Minimum installed size in bytes for a package layer")
	cmd.Flags().StringVar(&opts.compression, "compression", string(layers.CompressionGzip), "Layer compression (gzip, zstd)")
	cmd.Flags().IntVar(&opts.concurrency, "compression-workers", 0, "zstd encoder workers (default: CPU count)")
	cmd.Flags().StringArrayVar(&opts.labels, "label", nil, "Image label in KEY=VALUE format, overrides the build file")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "Image platform as os/arch[/variant] (default: linux/host arch)")
	cmd.Flags().StringVar(&opts.rpmDir, "rpm-dir", "", "Rank packages from the .rpm files in this directory")
	cmd.Flags().StringVar(&opts.resolverCmd, "resolver-cmd", "", "Rank packages with this external program")
	cmd.Flags().BoolVar(&opts.clean, "clean", false, "Remove install leftovers from the root before building")
	cmd.Flags().BoolVar(&opts.touchSymlinks, "touch-symlinks", false, "Also clamp on-disk symlink mtimes")
	cmd.MarkFlagRequired("root")
	cmd.MarkFlagRequired("layout")
	cmd.MarkFlagsMutuallyExclusive("rpm-dir", "resolver-cmd")

	return cmd
}

func runBuild(cmd *cobra.Command, log *logrus.Logger, opts *buildOptions) error {
	var image types.ImageSpec
	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		image = cfg.Image
	}

	labels, err := config.ParseLabels(opts.labels)
	if err != nil {
		return err
	}
	created, err := config.CreationTime()
	if err != nil {
		return err
	}
	compression, err := layers.ParseCompression(opts.compression)
	if err != nil {
		return err
	}

	if opts.clean {
		if err := rootfs.Clean(opts.root, log); err != nil {
			return err
		}
	}

	var res resolver.Resolver
	maxLayers := opts.maxLayers
	switch {
	case opts.rpmDir != "":
		res = resolver.RPMDir{Dir: opts.rpmDir, Logger: log}
	case opts.resolverCmd != "":
		c, err := resolver.ParseCommand(opts.resolverCmd, log)
		if err != nil {
			return err
		}
		res = c
	default:
		log.Info("No resolver configured, building a single layer")
		maxLayers = 0
	}

	store, err := ocidir.Open(opts.layout, ocidir.Options{Logger: log})
	if err != nil {
		return err
	}

	cfg := imager.Config{
		MaxLayers:     maxLayers,
		SizeThreshold: opts.sizeThreshold,
		CreationTime:  created,
		Compression:   layers.CompressionOptions{Type: compression, Concurrency: opts.concurrency},
		Image:         image,
		Labels:        labels,
		Tag:           opts.tag,
		TouchSymlinks: opts.touchSymlinks,
		Logger:        log,
	}
	if opts.platform != "" {
		cfg.Platform = types.ParsePlatform(opts.platform)
	}

	im, err := imager.New(opts.root, store, res, cfg)
	if err != nil {
		return err
	}
	desc, err := im.CreateImage(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", opts.tag, desc.Digest)
	return nil
}

func newResolveCommand(g *globalOptions) *cobra.Command {
	var (
		configPath  string
		resolverCmd string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the packages of a build file",
		Long: `Send the packages, repositories and GPG keys of the build file's
contents section to the resolver program given by --resolver-cmd and print
the resolved package set as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			specs, err := cfg.Contents.Specs()
			if err != nil {
				return err
			}
			res, err := resolver.ParseCommand(resolverCmd, g.log)
			if err != nil {
				return err
			}

			g.log.WithField("specs", len(specs)).WithField("repositories", len(cfg.Contents.Repositories)).Info("Resolving packages")
			resp, err := res.Resolve(cmd.Context(), resolver.ResolveRequest{
				Specs:        specs,
				Repositories: cfg.Contents.Repositories,
				GPGKeys:      cfg.Contents.GPGKeys,
			})
			if err != nil {
				return err
			}
			g.log.WithField("packages", len(resp.Packages)).WithField("local_packages", len(resp.LocalPackages)).Info("Resolved packages")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&configPath, "file", "f", config.DefaultPath, "Build file")
	cmd.Flags().StringVar(&resolverCmd, "resolver-cmd", "", "Resolver program (required)")
	cmd.MarkFlagRequired("resolver-cmd")
	return cmd
}

func newPushCommand(g *globalOptions) *cobra.Command {
	var (
		layout   string
		tag      string
		insecure bool
	)
	cmd := &cobra.Command{
		Use:   "push DESTINATION",
		Short: "Push an image from a layout to a registry",
		Long: `Push the image tagged --tag in the OCI image layout at --layout to
DESTINATION, for example registry.example.com/team/app:1.0. Credentials
come from <HOST>_USERNAME/<HOST>_PASSWORD or <HOST>_TOKEN environment
variables, then the docker configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := registry.Push(cmd.Context(), layout, tag, args[0], registry.PushOptions{
				Insecure: insecure,
				Logger:   g.log,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", args[0], digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&layout, "layout", "", "OCI image layout directory (required)")
	cmd.Flags().StringVarP(&tag, "tag", "t", imager.DefaultTag, "Tag of the image in the layout")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plain HTTP and unverified TLS")
	cmd.MarkFlagRequired("layout")
	return cmd
}

func newExportCommand(g *globalOptions) *cobra.Command {
	var (
		layout    string
		tag       string
		format    string
		output    string
		reference string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an image from a layout to an archive",
		Long:  "Export the image tagged --tag to a file. Formats: " + strings.Join(exporters.ListExporters(), ", ") + ".",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := exporters.GetExporter(format)
			if err != nil {
				return err
			}
			created, err := config.CreationTime()
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Base(filepath.Clean(layout)) + "-" + tag + ".tar"
			}
			return e.Export(cmd.Context(), exporters.Request{
				Layout:    layout,
				Tag:       tag,
				Output:    output,
				Reference: reference,
				ClampTime: created,
				Logger:    g.log,
			})
		},
	}
	cmd.Flags().StringVar(&layout, "layout", "", "OCI image layout directory (required)")
	cmd.Flags().StringVarP(&tag, "tag", "t", imager.DefaultTag, "Tag of the image in the layout")
	cmd.Flags().StringVar(&format, "format", "docker-archive", "Output format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <layout>-<tag>.tar)")
	cmd.Flags().StringVar(&reference, "reference", "", "Image name recorded in docker archives (default: rpmimg:<tag>)")
	cmd.MarkFlagRequired("layout")
	return cmd
}

func newTagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tags LAYOUT",
		Short: "List the tags in an OCI image layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			store, err := ocidir.Open(args[0], ocidir.Options{})
			if err != nil {
				return err
			}
			tags, err := store.Tags()
			if err != nil {
				return err
			}
			for _, t := range tags {
				desc, err := store.Resolve(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t, desc.Digest)
			}
			return nil
		},
	}
}
