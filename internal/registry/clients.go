package registry

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/probes"
)

// Clients constructs the dependency clients probes run against. Build calls
// each constructor at most once, at startup; tests replace them with fakes.
type Clients struct {
	Credential func() (azcore.TokenCredential, error)
	AWSConfig  func(ctx context.Context) (aws.Config, error)

	Redis func(opts *redis.Options) (probes.KeyValueStore, func() error)

	BlobFromEndpoint         func(endpoint string, cred azcore.TokenCredential) (probes.ContainerLister, error)
	BlobFromConnectionString func(conn string) (probes.ContainerLister, error)

	ServiceBusFromNamespace        func(namespace string, cred azcore.TokenCredential) (probes.QueueAdmin, error)
	ServiceBusFromConnectionString func(conn string) (probes.QueueAdmin, error)

	CosmosFromEndpoint         func(endpoint string, cred azcore.TokenCredential) (probes.DatabaseReader, error)
	CosmosFromConnectionString func(conn string) (probes.DatabaseReader, error)

	KeyVault func(vaultURL string, cred azcore.TokenCredential) (probes.SecretLister, error)
	Search   func(endpoint, apiKey string, cred azcore.TokenCredential) (probes.IndexLister, error)

	// SQL returns a pool for the connection string. The pool is closed by
	// the closer Build returns.
	SQL func(conn string) (*sql.DB, error)

	S3  func(cfg aws.Config) probes.ContainerLister
	SSM func(cfg aws.Config, path string) probes.SecretLister
	KMS func(cfg aws.Config) probes.KMSAPI

	HTTP *http.Client
}

// DefaultClients returns constructors backed by the real SDKs.
func DefaultClients() Clients {
	return Clients{
		Credential: func() (azcore.TokenCredential, error) {
			return azidentity.NewDefaultAzureCredential(nil)
		},
		AWSConfig: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
		Redis: func(opts *redis.Options) (probes.KeyValueStore, func() error) {
			c := redis.NewClient(opts)
			return probes.RedisStore{Client: c}, c.Close
		},
		BlobFromEndpoint: func(endpoint string, cred azcore.TokenCredential) (probes.ContainerLister, error) {
			c, err := azblob.NewClient(endpoint, cred, nil)
			if err != nil {
				return nil, err
			}
			return probes.NewAzureBlobContainers(c), nil
		},
		BlobFromConnectionString: func(conn string) (probes.ContainerLister, error) {
			c, err := azblob.NewClientFromConnectionString(conn, nil)
			if err != nil {
				return nil, err
			}
			return probes.NewAzureBlobContainers(c), nil
		},
		ServiceBusFromNamespace: func(ns string, cred azcore.TokenCredential) (probes.QueueAdmin, error) {
			c, err := admin.NewClient(ns, cred, nil)
			if err != nil {
				return nil, err
			}
			return probes.NewServiceBusQueues(c), nil
		},
		ServiceBusFromConnectionString: func(conn string) (probes.QueueAdmin, error) {
			c, err := admin.NewClientFromConnectionString(conn, nil)
			if err != nil {
				return nil, err
			}
			return probes.NewServiceBusQueues(c), nil
		},
		CosmosFromEndpoint: func(endpoint string, cred azcore.TokenCredential) (probes.DatabaseReader, error) {
			c, err := azcosmos.NewClient(endpoint, cred, nil)
			if err != nil {
				return nil, err
			}
			return probes.CosmosDatabases{Client: c}, nil
		},
		CosmosFromConnectionString: func(conn string) (probes.DatabaseReader, error) {
			c, err := azcosmos.NewClientFromConnectionString(conn, nil)
			if err != nil {
				return nil, err
			}
			return probes.CosmosDatabases{Client: c}, nil
		},
		KeyVault: func(vaultURL string, cred azcore.TokenCredential) (probes.SecretLister, error) {
			c, err := azsecrets.NewClient(vaultURL, cred, nil)
			if err != nil {
				return nil, err
			}
			return probes.NewKeyVaultSecrets(c), nil
		},
		Search: func(endpoint, apiKey string, cred azcore.TokenCredential) (probes.IndexLister, error) {
			return probes.NewAzureSearchIndexes(endpoint, apiKey, cred, nil)
		},
		SQL: func(conn string) (*sql.DB, error) {
			return sql.Open("sqlserver", conn)
		},
		S3: func(cfg aws.Config) probes.ContainerLister {
			return probes.NewS3Buckets(s3.NewFromConfig(cfg))
		},
		SSM: func(cfg aws.Config, path string) probes.SecretLister {
			return probes.NewSSMParameters(ssm.NewFromConfig(cfg), path)
		},
		KMS: func(cfg aws.Config) probes.KMSAPI {
			return kms.NewFromConfig(cfg)
		},
		HTTP: probes.NewHTTPClient(probes.DefaultHTTPSClientTimeout),
	}
}
