// File: internal/kube/types.go
// Brief: Immutable records describing pods, containers, and log streams.

package kube

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// ContainerKind distinguishes the three container classes a pod can carry.
type ContainerKind string

const (
	KindInit      ContainerKind = "init"
	KindMain      ContainerKind = "main"
	KindEphemeral ContainerKind = "ephemeral"
)

// Rank orders kinds for deterministic sorting: init, main, ephemeral.
func (k ContainerKind) Rank() int {
	switch k {
	case KindInit:
		return 0
	case KindMain:
		return 1
	case KindEphemeral:
		return 2
	}
	return 3
}

// ContainerID uniquely keys one log stream within a run.
type ContainerID struct {
	Namespace string
	Pod       string
	Container string
	Kind      ContainerKind
}

func (c ContainerID) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Namespace, c.Pod, c.Container)
}

// PodRecord is an immutable snapshot of a pod at discovery time. Rotation
// yields new records with new identities; records are never mutated.
type PodRecord struct {
	Namespace     string
	Name          string
	UID           string
	Labels        map[string]string
	Phase         corev1.PodPhase
	Containers    []ContainerID
	StatusesKnown bool
}

// NewPodRecord snapshots a pod into an immutable record, expanding its
// containers in lifecycle order: init, main, ephemeral.
func NewPodRecord(pod *corev1.Pod) PodRecord {
	rec := PodRecord{
		Namespace:     pod.Namespace,
		Name:          pod.Name,
		UID:           string(pod.UID),
		Phase:         pod.Status.Phase,
		StatusesKnown: len(pod.Status.ContainerStatuses) > 0 || len(pod.Status.InitContainerStatuses) > 0,
	}
	if len(pod.Labels) > 0 {
		rec.Labels = make(map[string]string, len(pod.Labels))
		for k, v := range pod.Labels {
			rec.Labels[k] = v
		}
	}
	rec.Containers = make([]ContainerID, 0, len(pod.Spec.InitContainers)+len(pod.Spec.Containers)+len(pod.Spec.EphemeralContainers))
	for _, c := range pod.Spec.InitContainers {
		rec.Containers = append(rec.Containers, ContainerID{Namespace: pod.Namespace, Pod: pod.Name, Container: c.Name, Kind: KindInit})
	}
	for _, c := range pod.Spec.Containers {
		rec.Containers = append(rec.Containers, ContainerID{Namespace: pod.Namespace, Pod: pod.Name, Container: c.Name, Kind: KindMain})
	}
	for _, c := range pod.Spec.EphemeralContainers {
		rec.Containers = append(rec.Containers, ContainerID{Namespace: pod.Namespace, Pod: pod.Name, Container: c.Name, Kind: KindEphemeral})
	}
	return rec
}

// StreamContext is the immutable parameter bundle identifying one log stream.
type StreamContext struct {
	Container    ContainerID
	SinceSeconds int64
	TailLines    int64
	Follow       bool
	Timestamps   bool
}
