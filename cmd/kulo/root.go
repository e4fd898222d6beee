// File: cmd/kulo/root.go
// Brief: Root command wiring flags to discovery and the streaming engine.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/JoseManuelPS/KuLo/internal/config"
	"github.com/JoseManuelPS/KuLo/internal/discovery"
	"github.com/JoseManuelPS/KuLo/internal/kube"
	"github.com/JoseManuelPS/KuLo/internal/logging"
	"github.com/JoseManuelPS/KuLo/internal/render"
	"github.com/JoseManuelPS/KuLo/internal/tailer"
	"github.com/JoseManuelPS/KuLo/internal/version"
)

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	cmd := &cobra.Command{
		Use:   "kulo",
		Short: "Aggregate Kubernetes container logs into one color-coded stream",
		Long: "kulo discovers containers across one or more namespaces, filters them by\n" +
			"label selectors and regex patterns, and streams their logs concurrently\n" +
			"into a single aligned, JSON-aware, color-coded view.",
		Args:          cobra.NoArgs,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvOverrides(cmd.Flags())
			if err := opts.Validate(); err != nil {
				return withCode(1, err)
			}
			return run(cmd.Context(), opts)
		},
	}
	opts.AddFlags(cmd)
	opts.RegisterAliases(cmd)
	return cmd
}

// applyEnvOverrides lets KULO_-prefixed environment variables stand in for
// flags the user did not set explicitly.
func applyEnvOverrides(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("KULO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
			_ = f.Value.Set(val)
		}
	})
}

func run(ctx context.Context, opts *config.Options) error {
	logger := logging.New(opts.Verbosity)

	if opts.NoColorLogs || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	client, err := kube.New()
	if err != nil {
		return withCode(2, err)
	}
	cluster := kube.NewCluster(client.Clientset, logger)

	namespaces, err := discovery.ResolveNamespaces(ctx, cluster, opts.Namespaces, client.Namespace)
	if err != nil {
		return classifyStartupError(err)
	}
	logger.V(1).Info("resolved namespaces", "namespaces", namespaces)

	res, err := discovery.Discover(ctx, cluster, opts, namespaces, logger)
	if err != nil {
		return classifyStartupError(err)
	}

	assigner := render.NewAssigner()
	podNames := make([]string, 0, len(res.Pods))
	for _, pod := range res.Pods {
		podNames = append(podNames, pod.Name)
	}
	assigner.Init(podNames)
	console := render.NewConsole(os.Stdout, assigner, !opts.NoColorLogs, opts.Timestamps)
	console.Admit(res.Containers)

	if len(res.Containers) == 0 {
		console.Warn("no containers matched the given filters")
		if !opts.Follow {
			return withCode(1, errors.New("nothing to stream"))
		}
		// Follow mode keeps watching: rotation may bring matching pods.
	}

	manager := tailer.New(cluster, opts, console, logger)
	if err := manager.Run(ctx, res); err != nil {
		if !manager.Streamed() {
			return withCode(3, err)
		}
		return err
	}
	return nil
}

// classifyStartupError maps pre-stream failures onto exit codes: permission
// problems are exit 2, configuration mistakes exit 1, and everything else is
// a connection failure before any stream was established, exit 3.
func classifyStartupError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, kube.ErrPermissionDenied):
		return withCode(2, err)
	case errors.Is(err, discovery.ErrUnknownNamespace):
		return withCode(1, err)
	default:
		return withCode(3, err)
	}
}
