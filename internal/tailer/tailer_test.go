// File: internal/tailer/tailer_test.go
// Brief: Engine behavior: ordering, backoff, cap, rotation, and shutdown.

package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/JoseManuelPS/KuLo/internal/config"
	"github.com/JoseManuelPS/KuLo/internal/discovery"
	"github.com/JoseManuelPS/KuLo/internal/kube"
	"github.com/JoseManuelPS/KuLo/internal/render"
)

type recordingRenderer struct {
	mu      sync.Mutex
	entries []render.Entry
	warns   []string
	errs    []string
}

func (r *recordingRenderer) Render(e render.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingRenderer) Warn(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, text)
}

func (r *recordingRenderer) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, text)
}

func (r *recordingRenderer) lines(container string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if container == "" || e.Container.Pod == container {
			out = append(out, e.Raw)
		}
	}
	return out
}

// scriptedStream yields its lines, then either ends (EOF) or fails.
type scriptedStream struct {
	reader   io.Reader
	failWith error
	block    chan struct{} // non-nil: block after lines until closed

	closeOnce sync.Once
	onClose   func()
}

func newScriptedStream(lines []string, failWith error, block bool) *scriptedStream {
	s := &scriptedStream{
		reader:   strings.NewReader(strings.Join(lines, "\n") + lineTail(lines)),
		failWith: failWith,
	}
	if block {
		s.block = make(chan struct{})
	}
	return s
}

func lineTail(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "\n"
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err == io.EOF {
		if s.block != nil {
			<-s.block
			return 0, io.EOF
		}
		if s.failWith != nil {
			return n, s.failWith
		}
	}
	return n, err
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() {
		if s.block != nil {
			close(s.block)
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

type fakeCluster struct {
	mu            sync.Mutex
	streams       map[string][]*scriptedStream // keyed by pod name, consumed in order
	streamErrs    map[string]error             // immediate open failure, once
	pods          []kube.PodRecord
	watcher       *watch.FakeWatcher
	concurrent    int
	maxConcurrent int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		streams:    make(map[string][]*scriptedStream),
		streamErrs: make(map[string]error),
		watcher:    watch.NewFake(),
	}
}

func (f *fakeCluster) addStream(pod string, s *scriptedStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[pod] = append(f.streams[pod], s)
}

func (f *fakeCluster) ListPods(ctx context.Context, namespace, labelSelector string) ([]kube.PodRecord, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kube.PodRecord(nil), f.pods...), "1", nil
}

func (f *fakeCluster) StreamLogs(ctx context.Context, sc kube.StreamContext) (io.ReadCloser, error) {
	f.mu.Lock()
	if err, ok := f.streamErrs[sc.Container.Pod]; ok {
		delete(f.streamErrs, sc.Container.Pod)
		f.mu.Unlock()
		return nil, err
	}
	queue := f.streams[sc.Container.Pod]
	if len(queue) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: no more scripted streams", kube.ErrStreamGone)
	}
	s := queue[0]
	f.streams[sc.Container.Pod] = queue[1:]
	f.concurrent++
	if f.concurrent > f.maxConcurrent {
		f.maxConcurrent = f.concurrent
	}
	f.mu.Unlock()

	s.onClose = func() {
		f.mu.Lock()
		f.concurrent--
		f.mu.Unlock()
	}
	return s, nil
}

func (f *fakeCluster) WatchPods(ctx context.Context, namespace, labelSelector, resourceVersion string) (watch.Interface, error) {
	return f.watcher, nil
}

func mainID(pod string) kube.ContainerID {
	return kube.ContainerID{Namespace: "default", Pod: pod, Container: "app", Kind: kube.KindMain}
}

func testOptions(follow bool) *config.Options {
	opts := config.NewOptions()
	opts.Follow = follow
	if err := opts.Validate(); err != nil {
		panic(err)
	}
	return opts
}

func resultFor(ids ...kube.ContainerID) *discovery.Result {
	res := &discovery.Result{Namespaces: []string{"default"}}
	byPod := map[string]bool{}
	for _, id := range ids {
		res.Containers = append(res.Containers, id)
		if !byPod[id.Pod] {
			byPod[id.Pod] = true
			res.Pods = append(res.Pods, kube.PodRecord{
				Namespace: id.Namespace, Name: id.Pod, UID: "uid-" + id.Pod,
				Phase: corev1.PodRunning, StatusesKnown: true,
				Containers: []kube.ContainerID{id},
			})
		}
	}
	return res
}

func TestDelay(t *testing.T) {
	cases := map[int]time.Duration{
		0: time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		5: 32 * time.Second,
		6: 60 * time.Second,
		9: 60 * time.Second,
	}
	for n, want := range cases {
		if got := Delay(n); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestSnapshotRendersAllLinesInOrder(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream([]string{"hello", "world"}, nil, false))
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := renderer.lines("web")
	if strings.Join(got, ",") != "hello,world" {
		t.Fatalf("unexpected lines: %v", got)
	}
	if !m.Streamed() {
		t.Fatalf("Streamed should report true once a stream opened")
	}
}

func TestPerContainerOrderPreserved(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = fmt.Sprintf("line-%03d", i)
	}
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream(lines, nil, false))
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())
	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := renderer.lines("web")
	if len(got) != len(lines) {
		t.Fatalf("expected %d lines, got %d", len(lines), len(got))
	}
	for i := range lines {
		if got[i] != lines[i] {
			t.Fatalf("order violated at %d: got %q want %q", i, got[i], lines[i])
		}
	}
}

func TestTransientFailureReconnects(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream([]string{"a", "b", "c"}, errors.New("connection reset"), false))
	cluster.addStream("web", newScriptedStream([]string{"d", "e"}, nil, false))
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	got := renderer.lines("web")
	if strings.Join(got, ",") != "a,b,c,d,e" {
		t.Fatalf("expected all five lines across the reconnect, got %v", got)
	}
}

func TestPermissionDeniedWarnsOnceAndExits(t *testing.T) {
	cluster := newFakeCluster()
	cluster.streamErrs["web"] = fmt.Errorf("%w: logs verb forbidden", kube.ErrPermissionDenied)
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(renderer.warns) != 1 {
		t.Fatalf("expected exactly one warning, got %v", renderer.warns)
	}
	if len(renderer.lines("")) != 0 {
		t.Fatalf("no log entries expected")
	}
}

func TestStreamGoneExitsSilently(t *testing.T) {
	cluster := newFakeCluster()
	cluster.streamErrs["web"] = fmt.Errorf("%w: pod deleted", kube.ErrStreamGone)
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(renderer.warns) != 0 || len(renderer.entries) != 0 {
		t.Fatalf("StreamGone must be silent, got warns=%v entries=%d", renderer.warns, len(renderer.entries))
	}
}

func TestMaxContainersTruncatesAndWarns(t *testing.T) {
	cluster := newFakeCluster()
	var ids []kube.ContainerID
	for i := 0; i < 25; i++ {
		pod := fmt.Sprintf("pod-%02d", i)
		ids = append(ids, mainID(pod))
		cluster.addStream(pod, newScriptedStream([]string{"x"}, nil, false))
	}
	renderer := &recordingRenderer{}
	opts := testOptions(false)
	opts.MaxContainers = 10
	m := New(cluster, opts, renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(ids...)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(renderer.warns) != 1 {
		t.Fatalf("expected a truncation warning, got %v", renderer.warns)
	}
	pods := map[string]bool{}
	for _, e := range renderer.entries {
		pods[e.Container.Pod] = true
	}
	if len(pods) != 10 {
		t.Fatalf("exactly the first 10 containers should stream, got %d", len(pods))
	}
	if cluster.maxConcurrent > 10 {
		t.Fatalf("streaming concurrency exceeded the cap: %d", cluster.maxConcurrent)
	}
}

func TestSemaphoreGatesRotationProducers(t *testing.T) {
	cluster := newFakeCluster()
	first := newScriptedStream([]string{"v1"}, nil, true)
	cluster.addStream("app-v1", first)
	cluster.addStream("app-v2", newScriptedStream([]string{"v2"}, nil, false))
	renderer := &recordingRenderer{}
	opts := testOptions(true)
	opts.MaxContainers = 1
	m := New(cluster, opts, renderer, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, resultFor(mainID("app-v1"))) }()

	waitFor(t, func() bool { return len(renderer.lines("app-v1")) == 1 })

	cluster.watcher.Add(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "app-v2", UID: "uid-v2"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning, ContainerStatuses: []corev1.ContainerStatus{{Name: "app"}}},
	})

	// app-v2 must wait on the semaphore while app-v1 still streams.
	time.Sleep(300 * time.Millisecond)
	if len(renderer.lines("app-v2")) != 0 {
		t.Fatalf("second producer streamed past the concurrency cap")
	}

	first.Close()
	waitFor(t, func() bool { return len(renderer.lines("app-v2")) == 1 })
	if cluster.maxConcurrent > 1 {
		t.Fatalf("cap of 1 violated: max concurrent %d", cluster.maxConcurrent)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRotationStartsProducerForNewPod(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("app-v1", newScriptedStream([]string{"old"}, nil, true))
	cluster.addStream("app-v2", newScriptedStream([]string{"new"}, nil, false))
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(true), renderer, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, resultFor(mainID("app-v1"))) }()

	waitFor(t, func() bool { return len(renderer.lines("app-v1")) == 1 })

	cluster.watcher.Add(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "app-v2", UID: "uid-v2"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning, ContainerStatuses: []corev1.ContainerStatus{{Name: "app"}}},
	})
	waitFor(t, func() bool { return len(renderer.lines("app-v2")) == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRotationIgnoresFilteredAndSeenPods(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("app-v1", newScriptedStream([]string{"old"}, nil, true))
	renderer := &recordingRenderer{}
	opts := testOptions(true)
	opts.ExcludePatterns = []string{"canary"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m := New(cluster, opts, renderer, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, resultFor(mainID("app-v1"))) }()

	waitFor(t, func() bool { return len(renderer.lines("app-v1")) == 1 })

	// Excluded by filter.
	cluster.watcher.Add(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "app-canary", UID: "uid-c"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	})
	// Already seen: same pod identity as the initial set.
	cluster.watcher.Add(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "app-v1", UID: "uid-app-v1"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	})

	time.Sleep(300 * time.Millisecond)
	m.mu.Lock()
	liveCount := len(m.live)
	m.mu.Unlock()
	if liveCount != 1 {
		t.Fatalf("filtered/seen pods must not gain producers, live=%d", liveCount)
	}

	cancel()
	<-done
}

func TestShutdownDrainsQueueBeforeReturn(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = fmt.Sprintf("n-%d", i)
	}
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream(lines, nil, false))
	renderer := &recordingRenderer{}
	m := New(cluster, testOptions(false), renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(renderer.lines("web")) != len(lines) {
		t.Fatalf("all enqueued entries must render before Run returns: %d/%d", len(renderer.lines("web")), len(lines))
	}
	if len(m.queue) != 0 {
		t.Fatalf("queue must be empty after Run, has %d", len(m.queue))
	}
}

func TestTimestampSplitWhenRequested(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream([]string{"2026-07-31T10:00:00.000000000Z payload text"}, nil, false))
	renderer := &recordingRenderer{}
	opts := testOptions(false)
	opts.Timestamps = true
	m := New(cluster, opts, renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(renderer.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(renderer.entries))
	}
	e := renderer.entries[0]
	if e.Raw != "payload text" {
		t.Fatalf("timestamp prefix should be stripped, got %q", e.Raw)
	}
	if e.Timestamp.IsZero() {
		t.Fatalf("timestamp should be parsed")
	}
}

func TestExcludeLineFiltersProducerSide(t *testing.T) {
	cluster := newFakeCluster()
	cluster.addStream("web", newScriptedStream([]string{"keep", "healthz probe ok", "keep2"}, nil, false))
	renderer := &recordingRenderer{}
	opts := testOptions(false)
	opts.ExcludeLine = "healthz"
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m := New(cluster, opts, renderer, logr.Discard())

	if err := m.Run(context.Background(), resultFor(mainID("web"))); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := strings.Join(renderer.lines("web"), ","); got != "keep,keep2" {
		t.Fatalf("exclude-line not applied: %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
