// File: internal/kube/client.go
// Brief: Kubernetes client construction from the ambient kubeconfig.

// Package kube wraps the Kubernetes API behind the small cluster facade the
// discovery and tailer layers consume: namespace and pod listing, container
// log streams, and pod watches.
package kube

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

// Client bundles the typed clientset with the context's default namespace.
type Client struct {
	RESTConfig *rest.Config
	Clientset  kubernetes.Interface
	Namespace  string
}

// New builds a Kubernetes client from the ambient kubeconfig discovery chain
// (KUBECONFIG, ~/.kube/config, in-cluster). kulo deliberately has no
// credential flags; the environment decides. A leading ~ in KUBECONFIG is
// expanded, which clientcmd does not do on its own.
func New() (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path := os.Getenv(clientcmd.RecommendedConfigPathEnvVar); path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand kubeconfig path: %w", err)
		}
		loadingRules.ExplicitPath = filepath.Clean(expanded)
	}

	overrides := &clientcmd.ConfigOverrides{ClusterInfo: api.Cluster{Server: ""}}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, fmt.Errorf("resolve default namespace: %w", err)
	}
	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build rest config: %w", err)
	}
	rest.SetDefaultWarningHandler(rest.NoWarnings{})

	// Aggressive defaults for snappy startup. No client-wide timeout: it
	// would sever long-lived follow streams mid-read.
	restConfig.QPS = 50
	restConfig.Burst = 100

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create typed client: %w", err)
	}

	return &Client{
		RESTConfig: restConfig,
		Clientset:  clientset,
		Namespace:  namespace,
	}, nil
}
