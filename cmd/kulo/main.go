// File: cmd/kulo/main.go
// Brief: kulo CLI entrypoint: signal-aware context, klog wiring, exit codes.

// main.go bootstraps kulo: it builds the root Cobra command and executes it
// under a signal-aware context, mapping failures onto the documented exit
// codes (0 normal/interrupt, 1 usage, 2 permission, 3 connection).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/klog/v2"

	"github.com/JoseManuelPS/KuLo/internal/kube"
)

var klogInitOnce sync.Once

func initKlogFlags() {
	klogInitOnce.Do(func() {
		// Initialize klog's flags so client-go verbosity stays out of the
		// log stream unless asked for.
		klog.InitFlags(nil)
		_ = flag.CommandLine.Set("logtostderr", "true")
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	// The first interrupt cancels ctx and lets the engine drain; a second
	// interrupt is a hard stop, matching kubectl UX.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt: forcing exit")
		os.Exit(130)
	}()

	initKlogFlags()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	os.Exit(exitCodeFor(err))
}

// codedError pins an exit code onto an error without losing its chain.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func exitCodeFor(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, kube.ErrPermissionDenied) || apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) {
		return 2
	}
	return 1
}

func handleError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	message := err.Error()
	switch {
	case apierrors.IsUnauthorized(err):
		message = fmt.Sprintf("%s\nHint: kubeconfig credentials were rejected. Run 'kubectl config view' to confirm the active user.", err)
	case errors.Is(err, kube.ErrPermissionDenied) || apierrors.IsForbidden(err):
		message = fmt.Sprintf("%s\nHint: missing Kubernetes RBAC permissions for the pods/log and list verbs.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
