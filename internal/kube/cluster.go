// File: internal/kube/cluster.go
// Brief: Asynchronous facade over namespace/pod listing, log streams, and watches.

package kube

import (
	"context"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// Cluster is the thin facade the discovery and tailer layers talk to. All
// operations honor the caller's context; in-flight response bodies close when
// the context is cancelled, so no descriptors leak past shutdown.
type Cluster struct {
	clientset kubernetes.Interface
	log       logr.Logger
}

// NewCluster wraps an existing clientset.
func NewCluster(clientset kubernetes.Interface, log logr.Logger) *Cluster {
	return &Cluster{clientset: clientset, log: log.WithName("cluster")}
}

// ListNamespaces returns the names of all namespaces visible to the caller.
// A 401/403 response surfaces as ErrPermissionDenied.
func (c *Cluster) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		if apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: list namespaces: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for i := range list.Items {
		names = append(names, list.Items[i].Name)
	}
	return names, nil
}

// NamespaceExists reports whether the named namespace is present.
func (c *Cluster) NamespaceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsNotFound(err):
		return false, nil
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return false, fmt.Errorf("%w: get namespace %s: %v", ErrPermissionDenied, name, err)
	default:
		return false, fmt.Errorf("get namespace %s: %w", name, err)
	}
}

// ListPods snapshots the pods of one namespace, filtered server-side by the
// label selector when given. The list's resource version is returned
// alongside the records for watch resumption.
func (c *Cluster) ListPods(ctx context.Context, namespace, labelSelector string) ([]PodRecord, string, error) {
	opts := metav1.ListOptions{}
	if labelSelector != "" {
		opts.LabelSelector = labelSelector
	}
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, opts)
	if err != nil {
		if apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) {
			return nil, "", fmt.Errorf("%w: list pods in %s: %v", ErrPermissionDenied, namespace, err)
		}
		return nil, "", fmt.Errorf("list pods in %s: %w", namespace, err)
	}
	records := make([]PodRecord, 0, len(list.Items))
	for i := range list.Items {
		records = append(records, NewPodRecord(&list.Items[i]))
	}
	return records, list.ResourceVersion, nil
}

// StreamLogs opens the log endpoint for one container. The stream is infinite
// when the context follows, finite otherwise. Open failures are classified
// onto the stream taxonomy; the caller owns closing the returned body.
func (c *Cluster) StreamLogs(ctx context.Context, sc StreamContext) (io.ReadCloser, error) {
	logOpts := &corev1.PodLogOptions{
		Container:  sc.Container.Container,
		Follow:     sc.Follow,
		Timestamps: sc.Timestamps,
	}
	if sc.SinceSeconds > 0 {
		seconds := sc.SinceSeconds
		logOpts.SinceSeconds = &seconds
	}
	if sc.TailLines >= 0 {
		tail := sc.TailLines
		logOpts.TailLines = &tail
	}
	stream, err := c.clientset.CoreV1().Pods(sc.Container.Namespace).
		GetLogs(sc.Container.Pod, logOpts).
		Stream(ctx)
	if err != nil {
		return nil, ClassifyStreamError(err)
	}
	return stream, nil
}

// WatchPods opens one watch session on a namespace, resuming from the given
// resource version. The rotation watcher owns reconnection; a 410 from the
// server means the version is too old and the caller must re-list.
func (c *Cluster) WatchPods(ctx context.Context, namespace, labelSelector, resourceVersion string) (watch.Interface, error) {
	opts := metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	}
	if labelSelector != "" {
		opts.LabelSelector = labelSelector
	}
	w, err := c.clientset.CoreV1().Pods(namespace).Watch(ctx, opts)
	if err != nil {
		return nil, ClassifyStreamError(err)
	}
	return w, nil
}

// IsExpired reports whether a watch error or status event means the resource
// version is gone and a fresh list is required.
func IsExpired(err error) bool {
	return apierrors.IsGone(err) || apierrors.IsResourceExpired(err)
}
