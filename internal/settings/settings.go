// Package settings resolves the dependency settings that decide which probes
// are registered. Names are the well-known app setting names used by the
// hosting platform (e.g. REDIS_CONNECTION_STRING), not prefixed flags.
package settings

import (
	"os"
	"strings"
)

// Recognized setting names.
const (
	RedisConnectionString = "REDIS_CONNECTION_STRING"

	ServiceBusConnectionString = "AZURE_SERVICE_BUS_CONNECTION_STRING"
	ServiceBusNamespace        = "AZURE_SERVICE_BUS_FQ_NAMESPACE"
	ServiceBusQueueName        = "AZURE_SERVICE_BUS_QUEUE_NAME"

	CosmosEndpointURI      = "AZURE_COSMOSDB_ENDPOINT_URI"
	CosmosConnectionString = "AZURE_COSMOSDB_CONNECTION_STRING"
	CosmosDatabaseName     = "AZURE_COSMOSDB_DATABASE_NAME"

	KeyVaultURI = "AZURE_KEYVAULT_URI"

	BlobEndpointURI      = "AZURE_STORAGE_BLOB_ENDPOINT_URI"
	BlobConnectionString = "AZURE_STORAGE_BLOB_CONNECTION_STRING"
	BlobContainerName    = "AZURE_STORAGE_CONTAINER_NAME"

	SearchEndpointURI = "AZURE_SEARCH_ENDPOINT_URI"
	SearchAPIKey      = "AZURE_SEARCH_API_KEY"

	SQLServerConnectionString = "SQL_SERVER_CONNECTION_STRING"

	S3BucketName     = "AWS_S3_BUCKET_NAME"
	SSMParameterPath = "AWS_SSM_PARAMETER_PATH"
	KMSKeyID         = "AWS_KMS_KEY_ID"

	HTTPSEndpointURLs = "HTTPS_ENDPOINT_URLS"
	EchoAllowedHosts  = "ECHO_ALLOWED_HOSTS"
)

// Names lists every recognized setting, for file loading and diagnostics.
var Names = []string{
	RedisConnectionString,
	ServiceBusConnectionString, ServiceBusNamespace, ServiceBusQueueName,
	CosmosEndpointURI, CosmosConnectionString, CosmosDatabaseName,
	KeyVaultURI,
	BlobEndpointURI, BlobConnectionString, BlobContainerName,
	SearchEndpointURI, SearchAPIKey,
	SQLServerConnectionString,
	S3BucketName, SSMParameterPath, KMSKeyID,
	HTTPSEndpointURLs, EchoAllowedHosts,
}

// Provider returns the value of a named setting, or "" when unset.
type Provider interface {
	Get(name string) string
}

// ProviderFunc adapts a lookup function into a Provider.
type ProviderFunc func(string) string

func (f ProviderFunc) Get(name string) string { return f(name) }

// Env reads the process environment.
func Env() Provider { return ProviderFunc(os.Getenv) }

// Map is a fixed set of settings, mostly for tests.
type Map map[string]string

func (m Map) Get(name string) string { return m[name] }

// Layered returns the first non-blank value from ps, in order.
func Layered(ps ...Provider) Provider {
	return ProviderFunc(func(name string) string {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if v := strings.TrimSpace(p.Get(name)); v != "" {
				return v
			}
		}
		return ""
	})
}

// Lookup returns the trimmed value and whether it is non-blank.
func Lookup(p Provider, name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(p.Get(name))
	return v, v != ""
}

// List splits a sep-delimited setting, dropping blank items.
func List(p Provider, name, sep string) []string {
	raw, ok := Lookup(p, name)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, sep) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
