// File: internal/discovery/discovery.go
// Brief: Namespace resolution, pod filtering, and container expansion.

// Package discovery resolves the run's namespace set, lists matching pods,
// and expands them into the deterministic container list the tailer streams.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/JoseManuelPS/KuLo/internal/config"
	"github.com/JoseManuelPS/KuLo/internal/kube"
)

// ErrUnknownNamespace reports an exact namespace token that does not exist.
// The CLI treats it as a configuration mistake, not a connection failure.
var ErrUnknownNamespace = errors.New("unknown namespace")

// Result is the discovery outcome handed to the tailer: admitted pods, their
// expanded containers, and the namespaces the rotation watcher must cover.
type Result struct {
	Namespaces []string
	Pods       []kube.PodRecord
	Containers []kube.ContainerID
}

// ResolveNamespaces expands the configured namespace tokens. Tokens carrying
// regex metacharacters match against the cluster's namespace list; plain
// tokens are validated to exist. With no tokens, the kubeconfig context
// namespace applies, falling back to "default".
func ResolveNamespaces(ctx context.Context, cluster *kube.Cluster, tokens []string, contextNamespace string) ([]string, error) {
	if len(tokens) == 0 {
		if contextNamespace != "" {
			return []string{contextNamespace}, nil
		}
		return []string{"default"}, nil
	}

	var resolved []string
	seen := make(map[string]struct{})
	add := func(ns string) {
		if _, ok := seen[ns]; ok {
			return
		}
		seen[ns] = struct{}{}
		resolved = append(resolved, ns)
	}

	var all []string
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if !config.IsNamespacePattern(token) {
			exists, err := cluster.NamespaceExists(ctx, token)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, token)
			}
			add(token)
			continue
		}
		re, err := regexp.Compile(token)
		if err != nil {
			return nil, fmt.Errorf("invalid namespace pattern %q: %w", token, err)
		}
		if all == nil {
			all, err = cluster.ListNamespaces(ctx)
			if err != nil {
				return nil, err
			}
		}
		for _, ns := range all {
			if re.MatchString(ns) {
				add(ns)
			}
		}
	}
	sort.Strings(resolved)
	return resolved, nil
}

// Discover lists pods across the resolved namespaces, applies the client-side
// include/exclude filters, expands containers, and sorts the result
// deterministically by (namespace, pod, kind, container).
func Discover(ctx context.Context, cluster *kube.Cluster, opts *config.Options, namespaces []string, log logr.Logger) (*Result, error) {
	result := &Result{Namespaces: namespaces}
	for _, ns := range namespaces {
		pods, _, err := cluster.ListPods(ctx, ns, opts.LabelSelector)
		if err != nil {
			return nil, err
		}
		for _, pod := range pods {
			if !opts.PodAdmitted(pod.Name) {
				continue
			}
			if !Streamable(pod) {
				log.V(1).Info("skipping pod with no readable logs", "namespace", pod.Namespace, "pod", pod.Name, "phase", pod.Phase)
				continue
			}
			result.Pods = append(result.Pods, pod)
			result.Containers = append(result.Containers, ExpandContainers(pod, opts)...)
		}
	}
	SortContainers(result.Containers)
	sort.Slice(result.Pods, func(i, j int) bool {
		if result.Pods[i].Namespace != result.Pods[j].Namespace {
			return result.Pods[i].Namespace < result.Pods[j].Namespace
		}
		return result.Pods[i].Name < result.Pods[j].Name
	})
	return result, nil
}

// Streamable reports whether a pod can plausibly serve logs. Pods in Unknown
// phase with no container statuses have nothing to read; crash-looping pods
// stay in, their logs are exactly what debugging needs.
func Streamable(pod kube.PodRecord) bool {
	if pod.Phase == corev1.PodUnknown && !pod.StatusesKnown {
		return false
	}
	return true
}

// ExpandContainers filters one pod's containers by the configured kind
// exclusions.
func ExpandContainers(pod kube.PodRecord, opts *config.Options) []kube.ContainerID {
	out := make([]kube.ContainerID, 0, len(pod.Containers))
	for _, id := range pod.Containers {
		if opts.ExcludeInit && id.Kind == kube.KindInit {
			continue
		}
		if opts.ExcludeEphemeral && id.Kind == kube.KindEphemeral {
			continue
		}
		out = append(out, id)
	}
	return out
}

// SortContainers orders container identities by (namespace, pod, kind, container).
func SortContainers(ids []kube.ContainerID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Pod != b.Pod {
			return a.Pod < b.Pod
		}
		if a.Kind != b.Kind {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		return a.Container < b.Container
	})
}
