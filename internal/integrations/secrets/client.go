package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"turing-game/internal/domain"
)

// secretsAPI is the minimal Secrets Manager interface required by Client.
// *secretsmanager.Client from aws-sdk-go-v2 satisfies this interface.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Client reads string secrets from AWS Secrets Manager.
type Client struct {
	api secretsAPI
}

func New(api secretsAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetSecret returns the secret string stored under name. Every failure wraps
// domain.ErrSecretUnavailable.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("secrets: name is required: %w", domain.ErrSecretUnavailable)
	}
	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w: %w", name, domain.ErrSecretUnavailable, err)
	}
	if out == nil || out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secrets: secret %q has no string value: %w", name, domain.ErrSecretUnavailable)
	}
	return *out.SecretString, nil
}

// Static serves a fixed secret value, for local runs where the key comes from
// the environment.
type Static string

func (s Static) GetSecret(_ context.Context, _ string) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("secrets: static secret is empty: %w", domain.ErrSecretUnavailable)
	}
	return string(s), nil
}
