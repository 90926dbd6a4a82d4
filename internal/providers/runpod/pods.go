package runpod

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"beatframe/internal/providers"
	"beatframe/pkg/platform/httpclient"
)

// PodSpec describes the pod to rent.
type PodSpec struct {
	Name            string            `json:"name"`
	ImageName       string            `json:"imageName"`
	GPUTypeIDs      []string          `json:"gpuTypeIds"`
	GPUCount        int               `json:"gpuCount"`
	CloudType       string            `json:"cloudType,omitempty"`
	ContainerDiskGB int               `json:"containerDiskInGb,omitempty"`
	VolumeInGB      int               `json:"volumeInGb,omitempty"`
	Ports           []string          `json:"ports,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
}

type Pod struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	DesiredStatus string  `json:"desiredStatus"`
	ImageName     string  `json:"imageName"`
	PublicIP      string  `json:"publicIp"`
	CostPerHr     float64 `json:"costPerHr"`
}

// IsGone reports whether the pod was stopped or deleted outside beatframe.
func (p Pod) IsGone() bool {
	switch p.DesiredStatus {
	case "EXITED", "TERMINATED":
		return true
	}
	return false
}

// ProxyURL is the RunPod HTTP proxy address for an exposed port.
func (p Pod) ProxyURL(port int) string {
	return fmt.Sprintf("https://%s-%d.proxy.runpod.net", p.ID, port)
}

// PodClient wraps the /v1/pods REST resource.
type PodClient struct {
	baseURL   string
	transport providers.Transport
}

func NewPodClient(restURL, apiKey string, exec *httpclient.Executor) *PodClient {
	return &PodClient{
		baseURL: strings.TrimRight(restURL, "/"),
		transport: providers.Transport{
			Engine: EngineName,
			Exec:   exec,
			Header: http.Header{"Authorization": []string{"Bearer " + apiKey}},
		},
	}
}

func (c *PodClient) Create(ctx context.Context, spec PodSpec) (Pod, error) {
	var pod Pod
	if err := c.transport.JSON(ctx, http.MethodPost, c.baseURL+"/v1/pods", spec, &pod); err != nil {
		return Pod{}, err
	}
	if pod.ID == "" {
		return Pod{}, providers.NewProviderError(providers.ErrorBadData, EngineName, "pod response missing id", nil)
	}
	return pod, nil
}

func (c *PodClient) Get(ctx context.Context, podID string) (Pod, error) {
	var pod Pod
	if err := c.transport.JSON(ctx, http.MethodGet, c.baseURL+"/v1/pods/"+url.PathEscape(podID), nil, &pod); err != nil {
		return Pod{}, err
	}
	return pod, nil
}

// Terminate deletes the pod. A pod that is already gone counts as terminated.
func (c *PodClient) Terminate(ctx context.Context, podID string) error {
	err := c.transport.JSON(ctx, http.MethodDelete, c.baseURL+"/v1/pods/"+url.PathEscape(podID), nil, nil)
	if providers.GetCategory(err) == providers.ErrorNotFound {
		return nil
	}
	return err
}
