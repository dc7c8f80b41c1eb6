package probes

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

const (
	searchAPIVersion = "2023-11-01"
	searchScope      = "https://search.azure.com/.default"
)

// IndexLister lists search index names.
type IndexLister interface {
	ListIndexes(ctx context.Context) ([]string, error)
}

// SearchIndex is healthy when the index listing succeeds, whatever it holds.
type SearchIndex struct {
	Client IndexLister
}

func (p *SearchIndex) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	names, err := p.Client.ListIndexes(ctx)
	if err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "list search indexes")
	}
	return health.Healthy(start, "List indexes succeeded", health.KV("Indexes", len(names))), nil
}

// AzureSearchIndexes talks to the Azure AI Search REST API through an azcore
// pipeline, authenticating with an admin/query key or an Entra token.
type AzureSearchIndexes struct {
	endpoint string
	pl       runtime.Pipeline
}

// NewAzureSearchIndexes builds the client. apiKey takes precedence over cred.
func NewAzureSearchIndexes(endpoint, apiKey string, cred azcore.TokenCredential, opts *policy.ClientOptions) (*AzureSearchIndexes, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, xerrors.Newf("%s is not a well-formed absolute URI string", endpoint)
	}
	var perCall []policy.Policy
	switch {
	case apiKey != "":
		perCall = append(perCall, apiKeyPolicy(apiKey))
	case cred != nil:
		perCall = append(perCall, runtime.NewBearerTokenPolicy(cred, []string{searchScope}, nil))
	default:
		return nil, xerrors.New("search client needs an api key or a credential")
	}
	pl := runtime.NewPipeline("healthchecks-search", version.Version, runtime.PipelineOptions{PerCall: perCall}, opts)
	return &AzureSearchIndexes{endpoint: strings.TrimRight(endpoint, "/"), pl: pl}, nil
}

func (a *AzureSearchIndexes) ListIndexes(ctx context.Context) ([]string, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, a.endpoint+"/indexes")
	if err != nil {
		return nil, err
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", searchAPIVersion)
	q.Set("$select", "name")
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := a.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}
	var body struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := runtime.UnmarshalAsJSON(resp, &body); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(body.Value))
	for _, v := range body.Value {
		names = append(names, v.Name)
	}
	return names, nil
}

type apiKeyPolicy string

func (k apiKeyPolicy) Do(req *policy.Request) (*http.Response, error) {
	req.Raw().Header.Set("api-key", string(k))
	return req.Next()
}
