// Package paramstore resolves secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/memohai/courier/internal/config"
)

// Prefix marks a config value that names an SSM parameter instead of holding the secret.
const Prefix = "ssm:"

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// IsReference reports whether value names an SSM parameter.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), Prefix)
}

// Resolve returns value unchanged unless it carries the ssm: prefix, in which case the
// named parameter is fetched.
func Resolve(ctx context.Context, getter Getter, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if getter == nil {
		return "", errors.New("paramstore: ssm reference used but no parameter store configured")
	}
	name := strings.TrimPrefix(strings.TrimSpace(value), Prefix)
	return getter.GetParameter(ctx, name)
}

// NeedsResolution reports whether any secret field of cfg references SSM.
func NeedsResolution(cfg config.Config) bool {
	for _, field := range secretFields(&cfg) {
		if IsReference(*field.value) {
			return true
		}
	}
	return false
}

// ResolveConfig replaces every ssm: reference among cfg's secret fields in place.
func ResolveConfig(ctx context.Context, getter Getter, cfg *config.Config) error {
	for _, field := range secretFields(cfg) {
		resolved, err := Resolve(ctx, getter, *field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = resolved
	}
	return nil
}

type secretField struct {
	name  string
	value *string
}

func secretFields(cfg *config.Config) []secretField {
	return []secretField{
		{name: "auth.jwt_secret", value: &cfg.Auth.JWTSecret},
		{name: "postgres.password", value: &cfg.Postgres.Password},
		{name: "storage.dsn", value: &cfg.Storage.DSN},
		{name: "assistant.api_key", value: &cfg.Assistant.APIKey},
		{name: "channels.instagram.verify_token", value: &cfg.Channels.Instagram.VerifyToken},
		{name: "channels.whatsapp.webhook_token", value: &cfg.Channels.WhatsApp.WebhookToken},
	}
}
