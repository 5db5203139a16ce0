package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	appsV1 "k8s.io/api/apps/v1"
	k8sV1 "k8s.io/api/core/v1"
	metaV1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/pkg/model"
)

const namespace = "inference"

var labelled = map[string]string{"aas-ie-service": "true"}

func unstructuredObject(gvr schema.GroupVersionResource, kind, name string, labels map[string]string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(gvr.GroupVersion().String())
	u.SetKind(kind)
	u.SetNamespace(namespace)
	u.SetName(name)
	u.SetLabels(labels)
	return u
}

func newDynamic(objects ...runtime.Object) *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			knativeServices:  "ServiceList",
			emissaryMappings: "MappingList",
		}, objects...)
}

func newClient(backend string, core *fake.Clientset, dyn *dynamicfake.FakeDynamicClient) *Client {
	return NewForClients(config.ClusterConfig{
		Namespace:      namespace,
		ServiceType:    backend,
		TimeoutSeconds: 5,
	}, core, dyn)
}

func TestKnativeServices(t *testing.T) {
	ctx := context.Background()
	dyn := newDynamic(
		unstructuredObject(knativeServices, "Service", "svc-a", labelled),
		unstructuredObject(knativeServices, "Service", "svc-b", labelled),
		unstructuredObject(knativeServices, "Service", "unmanaged", nil),
	)
	c := newClient("knative", fake.NewSimpleClientset(), dyn)

	names, err := c.ServiceNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"svc-a", "svc-b"}, names)

	require.NoError(t, c.DeleteService(ctx, "svc-a", ""))
	require.NoError(t, c.DeleteService(ctx, "svc-a", model.BackendKnative), "not found is ignored")

	names, err = c.ServiceNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"svc-b"}, names)
}

func TestEmissaryServices(t *testing.T) {
	ctx := context.Background()
	meta := func(name string) metaV1.ObjectMeta {
		return metaV1.ObjectMeta{Name: name, Namespace: namespace, Labels: labelled}
	}
	core := fake.NewSimpleClientset(
		&k8sV1.Service{ObjectMeta: meta("svc-a")},
		&appsV1.Deployment{ObjectMeta: meta("svc-a-deployment")},
		&appsV1.Deployment{ObjectMeta: meta("svc-c-deployment")},
	)
	dyn := newDynamic(
		unstructuredObject(emissaryMappings, "Mapping", "svc-a-ingress", labelled),
		unstructuredObject(emissaryMappings, "Mapping", "svc-d-ingress", labelled),
	)
	c := newClient("emissary", core, dyn)

	names, err := c.ServiceNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"svc-a", "svc-c", "svc-d"}, names)

	require.NoError(t, c.DeleteService(ctx, "svc-a", model.BackendEmissary))
	require.NoError(t, c.DeleteService(ctx, "svc-c", ""))

	names, err = c.ServiceNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"svc-d"}, names)

	_, err = core.AppsV1().Deployments(namespace).Get(ctx, "svc-a-deployment", metaV1.GetOptions{})
	require.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	c := newClient("seldon", fake.NewSimpleClientset(), newDynamic())
	_, err := c.ServiceNames(context.Background())
	require.ErrorContains(t, err, "not implemented")
	require.ErrorContains(t, c.DeleteService(context.Background(), "x", ""), "not implemented")
}

func TestReadClientConfig(t *testing.T) {
	cfg, err := readClientConfig(config.ClusterConfig{Host: "https://k8s.test", APIKey: "token", CAFile: "/ca.crt"})
	require.NoError(t, err)
	require.Equal(t, "https://k8s.test", cfg.Host)
	require.Equal(t, "token", cfg.BearerToken)
	require.Equal(t, "/ca.crt", cfg.TLSClientConfig.CAFile)
}
