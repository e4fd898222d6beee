// File: internal/tailer/tailer.go
// Brief: The producer-consumer streaming engine at the heart of kulo.

// Package tailer multiplexes N reconnecting container log streams into one
// bounded render queue drained by a single consumer. It owns the queue, the
// concurrency semaphore, the live-producer set, and the shutdown protocol;
// in follow mode it also watches pod lifecycle events and attaches to pods
// that appear after start.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/JoseManuelPS/KuLo/internal/config"
	"github.com/JoseManuelPS/KuLo/internal/discovery"
	"github.com/JoseManuelPS/KuLo/internal/kube"
	"github.com/JoseManuelPS/KuLo/internal/render"
)

const (
	logScannerInitial = 64 * 1024
	logScannerMax     = 1024 * 1024

	defaultQueueSize     = 1024
	defaultPollInterval  = 250 * time.Millisecond
	defaultGraceDeadline = 2 * time.Second

	// maxWatcherFailures bounds consecutive rotation-watcher failures before
	// the whole session is considered unrecoverable.
	maxWatcherFailures = 10
)

// Cluster is the slice of the kube facade the engine needs. *kube.Cluster
// satisfies it; tests substitute fakes.
type Cluster interface {
	ListPods(ctx context.Context, namespace, labelSelector string) ([]kube.PodRecord, string, error)
	StreamLogs(ctx context.Context, sc kube.StreamContext) (io.ReadCloser, error)
	WatchPods(ctx context.Context, namespace, labelSelector, resourceVersion string) (watch.Interface, error)
}

// admitter is the optional layout hook the snapshot renderer implements so
// rotation can widen alignment and update prefix omission. The engine only
// requires the Renderer contract.
type admitter interface {
	Admit([]kube.ContainerID)
}

// item is one slot on the render queue.
type item struct {
	entry    render.Entry
	warn     string
	sentinel bool
}

// Manager owns all mutable session state: the queue, the cancellation scope,
// the live-producer set, and the seen-pod set. Callers construct one per run.
type Manager struct {
	cluster  Cluster
	opts     *config.Options
	renderer render.Renderer
	log      logr.Logger

	queue         chan item
	sem           *semaphore.Weighted
	pollInterval  time.Duration
	graceDeadline time.Duration

	// eg is the producer/watcher fabric: the first watcher that declares
	// the session unrecoverable cancels every other task through it.
	eg *errgroup.Group

	mu       sync.Mutex
	live     map[kube.ContainerID]struct{}
	seenPods map[string]struct{}

	streamedMu sync.Mutex
	streamed   bool
}

// New builds a Manager for one run.
func New(cluster Cluster, opts *config.Options, renderer render.Renderer, log logr.Logger) *Manager {
	m := &Manager{
		cluster:       cluster,
		opts:          opts,
		renderer:      renderer,
		log:           log.WithName("tailer"),
		queue:         make(chan item, defaultQueueSize),
		pollInterval:  defaultPollInterval,
		graceDeadline: defaultGraceDeadline,
		live:          make(map[kube.ContainerID]struct{}),
		seenPods:      make(map[string]struct{}),
	}
	if opts.MaxContainers > 0 {
		m.sem = semaphore.NewWeighted(int64(opts.MaxContainers))
	}
	return m
}

// Streamed reports whether at least one log stream was established. The CLI
// uses it to distinguish connection failures from mid-run trouble.
func (m *Manager) Streamed() bool {
	m.streamedMu.Lock()
	defer m.streamedMu.Unlock()
	return m.streamed
}

func (m *Manager) markStreamed() {
	m.streamedMu.Lock()
	m.streamed = true
	m.streamedMu.Unlock()
}

// Run blocks until every producer finishes naturally (snapshot mode), the
// context is cancelled, or an unrecoverable error occurs. On return no task
// is executing, no stream is open, and the queue is empty.
func (m *Manager) Run(ctx context.Context, res *discovery.Result) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)
	m.eg = eg

	for _, pod := range res.Pods {
		m.seenPods[seenKey(pod)] = struct{}{}
	}

	containers := res.Containers
	truncated := 0
	if m.opts.MaxContainers > 0 && len(containers) > m.opts.MaxContainers {
		truncated = len(containers) - m.opts.MaxContainers
		containers = containers[:m.opts.MaxContainers]
	}

	// The consumer starts before any producer so no enqueued entry can be
	// lost for want of a reader.
	consumerDone := make(chan struct{})
	go m.consume(consumerDone)

	if truncated > 0 {
		m.enqueue(egCtx, item{warn: fmt.Sprintf(
			"%d containers matched but --max-containers=%d; streaming the first %d and skipping %d",
			len(res.Containers), m.opts.MaxContainers, len(containers), truncated)})
	}

	for _, id := range containers {
		m.startProducer(egCtx, m.streamContext(id))
	}
	if m.opts.Follow {
		for _, ns := range res.Namespaces {
			ns := ns
			eg.Go(func() error { return m.watchNamespace(egCtx, ns) })
		}
	}

	// In follow mode the watchers keep the group alive, so Wait returns
	// only on shutdown or a fatal watcher error; in snapshot mode it
	// returns once every producer has drained its stream.
	waitCh := make(chan error, 1)
	go func() { waitCh <- eg.Wait() }()

	var firstErr error
	waited := false
	select {
	case firstErr = <-waitCh:
		waited = true
	case <-egCtx.Done():
	}

	// Shutdown protocol: stop everything, give producers a bounded grace
	// period, then push the sentinel and wait for the consumer to drain.
	cancel()
	if !waited {
		select {
		case firstErr = <-waitCh:
		case <-time.After(m.graceDeadline):
			m.log.V(1).Info("grace deadline hit; producers forcibly cancelled")
		}
	}
	m.enqueueSentinel()
	<-consumerDone
	for {
		select {
		case <-m.queue:
		default:
			return firstErr
		}
	}
}

func seenKey(pod kube.PodRecord) string {
	return pod.Namespace + "/" + pod.Name + "/" + pod.UID
}

func (m *Manager) streamContext(id kube.ContainerID) kube.StreamContext {
	return kube.StreamContext{
		Container:    id,
		SinceSeconds: m.opts.SinceSeconds,
		TailLines:    m.opts.TailLines,
		Follow:       m.opts.Follow,
		Timestamps:   m.opts.Timestamps,
	}
}

// consume is the sole task that touches the renderer. It drains the queue in
// FIFO order and exits on the shutdown sentinel; the short dequeue timeout
// keeps the loop responsive even when the queue idles.
func (m *Manager) consume(done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case it := <-m.queue:
			switch {
			case it.sentinel:
				return
			case it.warn != "":
				m.renderer.Warn(it.warn)
			default:
				m.renderer.Render(it.entry)
			}
		case <-time.After(m.pollInterval):
		}
	}
}

// enqueue blocks when the queue is full: backpressure flows from the terminal
// through the queue to the network readers.
func (m *Manager) enqueue(ctx context.Context, it item) bool {
	select {
	case m.queue <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

// enqueueSentinel places the sentinel behind every pending entry. The
// consumer keeps draining until it reads the sentinel, so the send always
// completes and nothing queued ahead of it is dropped; entries that land
// beyond the sentinel are discarded by Run.
func (m *Manager) enqueueSentinel() {
	m.queue <- item{sentinel: true}
}

// startProducer registers the container and launches its producer task on
// the group. Every container identity has at most one live producer.
// Producers never return errors: per-stream trouble is retried or reported
// through the renderer, so only a watcher can fail the whole fabric.
func (m *Manager) startProducer(ctx context.Context, sc kube.StreamContext) {
	if ctx.Err() != nil {
		return
	}
	key := sc.Container
	m.mu.Lock()
	if _, dup := m.live[key]; dup {
		m.mu.Unlock()
		return
	}
	m.live[key] = struct{}{}
	m.mu.Unlock()

	m.eg.Go(func() error {
		defer func() {
			m.mu.Lock()
			delete(m.live, key)
			m.mu.Unlock()
		}()
		m.runProducer(ctx, sc)
		return nil
	})
}

// runProducer streams one container with reconnect-and-backoff semantics.
// The semaphore gates the streaming phase only; a producer waiting on it
// holds no network resources.
func (m *Manager) runProducer(ctx context.Context, sc kube.StreamContext) {
	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)
	}

	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		stream, err := m.cluster.StreamLogs(ctx, sc)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, kube.ErrPermissionDenied):
				m.enqueue(ctx, item{warn: fmt.Sprintf("cannot read logs from %s: permission denied", sc.Container)})
				return
			case errors.Is(err, kube.ErrStreamGone):
				m.log.V(1).Info("stream gone before open", "container", sc.Container.String())
				return
			default:
				m.log.V(1).Info("stream open failed; backing off", "container", sc.Container.String(), "retry", retry, "error", err.Error())
				if !m.sleep(ctx, Delay(retry)) {
					return
				}
				retry++
				continue
			}
		}

		m.markStreamed()
		readErr := m.pump(ctx, stream, sc)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}
		healthy := time.Since(start) >= healthyStreamPeriod

		if readErr == nil {
			// Normal EOF. Snapshot streams are done; follow streams
			// reconnect in case the container restarts in place.
			if !sc.Follow {
				return
			}
			retry = 0
			if !m.sleep(ctx, Delay(0)) {
				return
			}
			continue
		}
		if errors.Is(readErr, kube.ErrStreamGone) {
			return
		}
		m.log.V(1).Info("stream interrupted; backing off", "container", sc.Container.String(), "retry", retry, "error", readErr.Error())
		if !m.sleep(ctx, Delay(retry)) {
			return
		}
		if healthy {
			retry = 0
		} else {
			retry++
		}
	}
}

// pump reads lines until EOF, error, or cancellation, enqueuing one entry per
// line. Returns nil on EOF.
func (m *Manager) pump(ctx context.Context, stream io.Reader, sc kube.StreamContext) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, logScannerInitial), logScannerMax)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if m.opts.ExcludeLineRegex != nil && m.opts.ExcludeLineRegex.MatchString(line) {
			continue
		}
		if !m.enqueue(ctx, item{entry: m.makeEntry(sc, line)}) {
			return nil
		}
	}
	err := scanner.Err()
	if err == nil || err == io.EOF {
		return nil
	}
	return fmt.Errorf("%w: %v", kube.ErrStreamInterrupted, err)
}

// makeEntry splits the API timestamp prefix off when --timestamps requested
// it; everything else about the line is left for the renderer.
func (m *Manager) makeEntry(sc kube.StreamContext, line string) render.Entry {
	entry := render.Entry{Container: sc.Container, Raw: line}
	if m.opts.Timestamps {
		if stamp, rest, ok := strings.Cut(line, " "); ok {
			if ts, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
				entry.Timestamp = ts
				entry.Raw = rest
			}
		}
	}
	return entry
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// handlePodAdded runs the rotation path: filter, dedup by {namespace, pod,
// uid}, expand containers, and start producers still gated by the semaphore.
func (m *Manager) handlePodAdded(ctx context.Context, pod kube.PodRecord) {
	if !m.opts.PodAdmitted(pod.Name) {
		return
	}
	if !discovery.Streamable(pod) {
		return
	}
	key := seenKey(pod)
	m.mu.Lock()
	if _, seen := m.seenPods[key]; seen {
		m.mu.Unlock()
		return
	}
	m.seenPods[key] = struct{}{}
	m.mu.Unlock()

	containers := discovery.ExpandContainers(pod, m.opts)
	if len(containers) == 0 {
		return
	}
	m.log.V(1).Info("pod rotation detected", "namespace", pod.Namespace, "pod", pod.Name, "containers", len(containers))
	if a, ok := m.renderer.(admitter); ok {
		a.Admit(containers)
	}
	for _, id := range containers {
		m.startProducer(ctx, m.streamContext(id))
	}
}
