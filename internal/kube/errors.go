// File: internal/kube/errors.go
// Brief: Stream-failure taxonomy shared by the cluster facade and the tailer.

package kube

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// The stream taxonomy separates "give up on this stream" from "retry with
// backoff" from "tell the user once and stop".
var (
	// ErrPermissionDenied marks 401/403 responses. Never retried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStreamGone marks 404/410: the container or pod disappeared.
	ErrStreamGone = errors.New("stream gone")
	// ErrStreamInterrupted marks transient network or read failures.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// ClassifyStreamError maps an API or transport error onto the stream taxonomy.
// Context cancellation passes through untouched so callers can tell shutdown
// apart from stream failure.
func ClassifyStreamError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case apierrors.IsNotFound(err) || apierrors.IsGone(err):
		return fmt.Errorf("%w: %v", ErrStreamGone, err)
	default:
		return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}
}
