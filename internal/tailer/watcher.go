// File: internal/tailer/watcher.go
// Brief: Follow-mode rotation watcher over pod lifecycle events.

package tailer

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/JoseManuelPS/KuLo/internal/kube"
)

// watchNamespace keeps one namespace under watch for the whole run. It lists
// to obtain a resource version, watches from there, and reconnects with the
// producer backoff on disconnect; a 410 forces a fresh list. Consecutive
// failures past the threshold declare the session unrecoverable: the returned
// error cancels the whole fabric through the errgroup.
func (m *Manager) watchNamespace(ctx context.Context, namespace string) error {
	retry := 0
	resourceVersion := ""
	for {
		if ctx.Err() != nil {
			return nil
		}
		if retry >= maxWatcherFailures {
			return fmt.Errorf("pod watch for %s failed %d consecutive times", namespace, retry)
		}

		if resourceVersion == "" {
			pods, listRV, err := m.cluster.ListPods(ctx, namespace, m.opts.LabelSelector)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.log.V(1).Info("rotation re-list failed", "namespace", namespace, "error", err.Error())
				if !m.sleep(ctx, Delay(retry)) {
					return nil
				}
				retry++
				continue
			}
			resourceVersion = listRV
			// Pods that appeared during the watch gap surface here; the
			// seen-pod set keeps replays idempotent.
			for _, pod := range pods {
				m.handlePodAdded(ctx, pod)
			}
		}

		w, err := m.cluster.WatchPods(ctx, namespace, m.opts.LabelSelector, resourceVersion)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if kube.IsExpired(err) {
				resourceVersion = ""
				continue
			}
			m.log.V(1).Info("pod watch failed; backing off", "namespace", namespace, "error", err.Error())
			if !m.sleep(ctx, Delay(retry)) {
				return nil
			}
			retry++
			continue
		}

		expired := m.consumeWatch(ctx, w, &resourceVersion)
		w.Stop()
		if ctx.Err() != nil {
			return nil
		}
		if expired {
			resourceVersion = ""
			continue
		}
		retry = 0
		if !m.sleep(ctx, Delay(0)) {
			return nil
		}
	}
}

// consumeWatch drains one watch session. Returns true when the server
// reported an expired resource version and the caller must re-list.
func (m *Manager) consumeWatch(ctx context.Context, w watch.Interface, resourceVersion *string) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-w.ResultChan():
			if !ok {
				return false
			}
			switch event.Type {
			case watch.Error:
				err := apierrors.FromObject(event.Object)
				if kube.IsExpired(err) {
					return true
				}
				m.log.V(1).Info("pod watch event error", "error", err.Error())
				return false
			case watch.Bookmark:
				if pod, ok := event.Object.(*corev1.Pod); ok {
					*resourceVersion = pod.ResourceVersion
				}
			case watch.Added, watch.Modified, watch.Deleted:
				pod, ok := event.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				*resourceVersion = pod.ResourceVersion
				// Deletions need no action: the affected producer sees
				// StreamGone or EOF on its own. Only additions start
				// producers.
				if event.Type == watch.Added {
					m.handlePodAdded(ctx, kube.NewPodRecord(pod))
				}
			}
		}
	}
}
