package probes

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// SecretLister fetches the first page of secret metadata and reports how
// many items it saw. Secret values are never read.
type SecretLister interface {
	ListFirst(ctx context.Context) (int, error)
}

// SecretStore is healthy when the store answers a list call.
type SecretStore struct {
	Client SecretLister
}

func (p *SecretStore) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	if _, err := p.Client.ListFirst(ctx); err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "list secrets")
	}
	return health.Healthy(start, "List secrets succeeded"), nil
}

// keyVaultLister is the subset of *azsecrets.Client used by the adapter.
type keyVaultLister interface {
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

// KeyVaultSecrets adapts an Azure Key Vault secrets client.
type KeyVaultSecrets struct {
	Client keyVaultLister
}

func NewKeyVaultSecrets(client *azsecrets.Client) KeyVaultSecrets {
	return KeyVaultSecrets{Client: client}
}

func (a KeyVaultSecrets) ListFirst(ctx context.Context) (int, error) {
	pager := a.Client.NewListSecretPropertiesPager(nil)
	if !pager.More() {
		return 0, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return 0, err
	}
	return len(page.Value), nil
}

// ssmParameterLister is the subset of the SSM API used by the adapter.
type ssmParameterLister interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameters adapts AWS SSM Parameter Store, listing under Path.
type SSMParameters struct {
	Client ssmParameterLister
	Path   string
}

func NewSSMParameters(client *ssm.Client, path string) SSMParameters {
	return SSMParameters{Client: client, Path: path}
}

func (a SSMParameters) ListFirst(ctx context.Context) (int, error) {
	path := a.Path
	if path == "" {
		path = "/"
	}
	out, err := a.Client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(false),
		MaxResults:     aws.Int32(1),
	})
	if err != nil {
		return 0, err
	}
	return len(out.Parameters), nil
}
