// Package cluster talks to the Kubernetes cluster that hosts inference services.
package cluster

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metaV1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	k8sClient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// ServiceSelector matches every cluster object created for an inference service.
const ServiceSelector = "aas-ie-service=true"

const (
	deploymentSuffix = "-deployment"
	mappingSuffix    = "-ingress"
)

var (
	knativeServices = schema.GroupVersionResource{
		Group: "serving.knative.dev", Version: "v1", Resource: "services",
	}
	emissaryMappings = schema.GroupVersionResource{
		Group: "getambassador.io", Version: "v2", Resource: "mappings",
	}
)

// Client manages inference service resources in one namespace.
type Client struct {
	log       *log.Entry
	core      k8sClient.Interface
	dynamic   dynamic.Interface
	namespace string
	backend   model.ServiceBackend
	timeout   time.Duration
}

// New connects to the cluster described by cfg.
func New(cfg config.ClusterConfig) (*Client, error) {
	restConfig, err := readClientConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "error building kubernetes config")
	}
	core, err := k8sClient.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize kubernetes clientSet")
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize kubernetes dynamic client")
	}
	return NewForClients(cfg, core, dyn), nil
}

// NewForClients wraps existing clients.
func NewForClients(cfg config.ClusterConfig, core k8sClient.Interface, dyn dynamic.Interface) *Client {
	return &Client{
		log:       log.WithFields(log.Fields{"component": "cluster", "namespace": cfg.Namespace}),
		core:      core,
		dynamic:   dyn,
		namespace: cfg.Namespace,
		backend:   model.ServiceBackend(cfg.ServiceType),
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func readClientConfig(cfg config.ClusterConfig) (*rest.Config, error) {
	if cfg.InCluster {
		// Reads KUBERNETES_SERVICE_HOST/PORT and the mounted service account token and CA.
		return rest.InClusterConfig()
	}
	return &rest.Config{
		Host:        cfg.Host,
		BearerToken: cfg.APIKey,
		TLSClientConfig: rest.TLSClientConfig{
			CAFile: cfg.CAFile,
		},
	}, nil
}

// DefaultBackend is the backend assumed for services with no recorded backend.
func (c *Client) DefaultBackend() model.ServiceBackend {
	return c.backend
}

// ServiceNames returns the names of the inference services present in the cluster. For the
// emissary backend, a service counts as present if any of its Service, Deployment or Mapping
// exists.
func (c *Client) ServiceNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	opts := metaV1.ListOptions{LabelSelector: ServiceSelector}

	switch c.backend {
	case model.BackendKnative:
		list, err := c.dynamic.Resource(knativeServices).Namespace(c.namespace).List(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing knative services")
		}
		var names []string
		for _, item := range list.Items {
			names = append(names, item.GetName())
		}
		return dedup(names), nil

	case model.BackendEmissary:
		var names []string
		services, err := c.core.CoreV1().Services(c.namespace).List(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing services")
		}
		for _, s := range services.Items {
			names = append(names, s.Name)
		}
		deployments, err := c.core.AppsV1().Deployments(c.namespace).List(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing deployments")
		}
		for _, d := range deployments.Items {
			names = append(names, strings.TrimSuffix(d.Name, deploymentSuffix))
		}
		mappings, err := c.dynamic.Resource(emissaryMappings).Namespace(c.namespace).List(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing mappings")
		}
		for _, m := range mappings.Items {
			names = append(names, strings.TrimSuffix(m.GetName(), mappingSuffix))
		}
		return dedup(names), nil

	default:
		return nil, errors.Errorf("backend type %s not implemented", c.backend)
	}
}

// DeleteService removes the cluster resources of one inference service. Resources that are
// already gone are skipped.
func (c *Client) DeleteService(ctx context.Context, name string, backend model.ServiceBackend) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if backend == "" {
		backend = c.backend
	}

	switch backend {
	case model.BackendKnative:
		return c.ignoreNotFound("knative service", name,
			c.dynamic.Resource(knativeServices).Namespace(c.namespace).Delete(ctx, name, metaV1.DeleteOptions{}))

	case model.BackendEmissary:
		if err := c.ignoreNotFound("service", name,
			c.core.CoreV1().Services(c.namespace).Delete(ctx, name, metaV1.DeleteOptions{})); err != nil {
			return err
		}
		if err := c.ignoreNotFound("deployment", name+deploymentSuffix,
			c.core.AppsV1().Deployments(c.namespace).Delete(
				ctx, name+deploymentSuffix, metaV1.DeleteOptions{})); err != nil {
			return err
		}
		return c.ignoreNotFound("mapping", name+mappingSuffix,
			c.dynamic.Resource(emissaryMappings).Namespace(c.namespace).Delete(
				ctx, name+mappingSuffix, metaV1.DeleteOptions{}))

	default:
		return errors.Errorf("backend type %s not implemented", backend)
	}
}

func (c *Client) ignoreNotFound(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case k8serrors.IsNotFound(err):
		c.log.Warnf("%s %s not found in cluster", kind, name)
		return nil
	default:
		return errors.Wrapf(err, "deleting %s %s", kind, name)
	}
}

func dedup(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
