package allocation

import (
	"context"
	"fmt"

	"study-orchestrator/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// FlavorSpec maps a pod flavor name to concrete resource requests
type FlavorSpec struct {
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

// KubernetesManager backs allocations with Kubernetes pods
type KubernetesManager struct {
	client    kubernetes.Interface
	namespace string
	image     string
	flavors   map[string]FlavorSpec
}

// NewKubernetesManager creates a pod-backed allocation manager
func NewKubernetesManager(client kubernetes.Interface, namespace, image string, flavors map[string]FlavorSpec) *KubernetesManager {
	return &KubernetesManager{
		client:    client,
		namespace: namespace,
		image:     image,
		flavors:   flavors,
	}
}

func podName(identifier int64, podType models.PodType) string {
	prefix := "study"
	if podType == models.PodTypeExecution {
		prefix = "exec"
	}
	return fmt.Sprintf("%s-%d-%s", prefix, identifier, uuid.NewString()[:8])
}

// CreateAndLoad creates a pod for the identifier and returns its allocation
func (m *KubernetesManager) CreateAndLoad(ctx context.Context, identifier int64, podType models.PodType, flavor string, logFile string) (*models.PodAllocation, error) {
	name := podName(identifier, podType)
	pod := m.buildPod(name, identifier, podType, flavor, logFile)

	_, err := m.client.CoreV1().Pods(m.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return &models.PodAllocation{
			Identifier:        identifier,
			PodType:           podType,
			PodStatus:         models.PodInError,
			Flavor:            flavor,
			Message:           err.Error(),
			KubernetesPodName: name,
		}, err
	}

	log.Infof("created pod %s for %s %d", name, podType, identifier)
	return &models.PodAllocation{
		Identifier:        identifier,
		PodType:           podType,
		PodStatus:         models.PodPending,
		Flavor:            flavor,
		KubernetesPodName: name,
	}, nil
}

// Load refreshes the allocation from the pod, recreating it if it vanished
func (m *KubernetesManager) Load(ctx context.Context, alloc *models.PodAllocation) error {
	_, err := m.client.CoreV1().Pods(m.namespace).Get(ctx, alloc.KubernetesPodName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		pod := m.buildPod(alloc.KubernetesPodName, alloc.Identifier, alloc.PodType, alloc.Flavor, "")
		if _, err := m.client.CoreV1().Pods(m.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
			alloc.PodStatus = models.PodInError
			alloc.Message = err.Error()
			return err
		}
		alloc.PodStatus = models.PodPending
		alloc.Message = ""
		return nil
	}
	if err != nil {
		return err
	}

	status, message, err := m.GetStatus(ctx, alloc)
	if err != nil {
		return err
	}
	alloc.PodStatus = status
	alloc.Message = message
	return nil
}

// GetStatus maps the pod phase and container states to an allocation status
func (m *KubernetesManager) GetStatus(ctx context.Context, alloc *models.PodAllocation) (models.PodStatus, string, error) {
	pod, err := m.client.CoreV1().Pods(m.namespace).Get(ctx, alloc.KubernetesPodName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return models.PodInError, fmt.Sprintf("pod %s not found", alloc.KubernetesPodName), nil
	}
	if err != nil {
		return models.PodInError, "", err
	}

	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil && cs.State.Terminated.Reason == "OOMKilled" {
			return models.PodOOMKilled, "pod was killed for exceeding its memory limit", nil
		}
		if cs.LastTerminationState.Terminated != nil && cs.LastTerminationState.Terminated.Reason == "OOMKilled" {
			return models.PodOOMKilled, "pod was killed for exceeding its memory limit", nil
		}
	}

	switch pod.Status.Phase {
	case corev1.PodPending:
		return models.PodPending, waitingMessage(pod), nil
	case corev1.PodRunning:
		return models.PodRunning, "", nil
	case corev1.PodSucceeded:
		// a finished execution pod reports running until reconciliation
		// notices the execution completed; succeeded is not an error
		return models.PodRunning, "", nil
	default:
		return models.PodInError, pod.Status.Message, nil
	}
}

func waitingMessage(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	return "waiting for pod to be scheduled"
}

// DeleteServicesAndDeployments deletes the pods behind the allocations
func (m *KubernetesManager) DeleteServicesAndDeployments(ctx context.Context, allocs []*models.PodAllocation) error {
	for _, alloc := range allocs {
		if alloc == nil || alloc.KubernetesPodName == "" {
			continue
		}
		err := m.client.CoreV1().Pods(m.namespace).Delete(ctx, alloc.KubernetesPodName, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return err
		}
		log.Infof("deleted pod %s for %s %d", alloc.KubernetesPodName, alloc.PodType, alloc.Identifier)
	}
	return nil
}

func (m *KubernetesManager) buildPod(name string, identifier int64, podType models.PodType, flavor string, logFile string) *corev1.Pod {
	requests := corev1.ResourceList{}
	if spec, ok := m.flavors[flavor]; ok {
		if spec.CPU != "" {
			requests[corev1.ResourceCPU] = resource.MustParse(spec.CPU)
		}
		if spec.Memory != "" {
			requests[corev1.ResourceMemory] = resource.MustParse(spec.Memory)
		}
	}

	env := []corev1.EnvVar{
		{Name: "IDENTIFIER", Value: fmt.Sprintf("%d", identifier)},
		{Name: "POD_TYPE", Value: string(podType)},
	}
	if logFile != "" {
		env = append(env, corev1.EnvVar{Name: "RAW_LOG_FILE", Value: logFile})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: m.namespace,
			Labels: map[string]string{
				"app":      "study-orchestrator",
				"pod-type": string(podType),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  "runner",
					Image: m.image,
					Env:   env,
					Resources: corev1.ResourceRequirements{
						Requests: requests,
						Limits:   requests,
					},
				},
			},
		},
	}
}
