// Package secrets reads startup secrets from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("secret parameter not found")

// SSMAPI defines SSM operations required by SSMStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads SecureString parameters.
type SSMStore struct {
	client SSMAPI
}

// NewSSMStore creates an SSM-backed secret reader.
func NewSSMStore(awsCfg aws.Config) *SSMStore {
	return &SSMStore{client: ssm.NewFromConfig(awsCfg)}
}

// NewSSMStoreWithClient creates an SSM store with a custom client (for testing).
func NewSSMStoreWithClient(client SSMAPI) *SSMStore {
	return &SSMStore{client: client}
}

// Get returns the decrypted value of the named parameter.
func (s *SSMStore) Get(ctx context.Context, name string) (string, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s from SSM: %w", name, err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil || *output.Parameter.Value == "" {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *output.Parameter.Value, nil
}
