package k8s

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Client handles Kubernetes operations
type Client struct {
	clientset kubernetes.Interface
}

// NewClient creates a new Kubernetes client
func NewClient(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// SecretData returns the data map of a secret
func (c *Client) SecretData(ctx context.Context, namespace, name string) (map[string][]byte, error) {
	secret, err := c.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	log.Debug().Str("namespace", namespace).Str("secret", name).Int("keys", len(secret.Data)).Msg("Loaded secret")
	return secret.Data, nil
}
