package probes

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// ContainerLister lists the first page of container (or bucket) names,
// optionally filtered by prefix.
type ContainerLister interface {
	ListContainers(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore checks that the storage account answers a list call and,
// when Container is set, that the container is present on the first page.
type ObjectStore struct {
	Client    ContainerLister
	Container string
	// Setting names the app setting Container came from, for descriptions.
	Setting string
}

func (p *ObjectStore) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	names, err := p.Client.ListContainers(ctx, p.Container)
	if err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "list containers")
	}

	if p.Container == "" {
		return health.Healthy(start, fmt.Sprintf(
			"List containers succeeded. No container name specified by app setting %q.", p.Setting)), nil
	}
	if slices.Contains(names, p.Container) {
		return health.Healthy(start, fmt.Sprintf(
			"List containers succeeded. Container %q exists.", p.Container)), nil
	}
	return health.Unhealthy(start, fmt.Sprintf(
		"List containers succeeded, but container %q not found.", p.Container), nil), nil
}

// azblobLister is the subset of *azblob.Client used for listing.
type azblobLister interface {
	NewListContainersPager(o *azblob.ListContainersOptions) *runtime.Pager[azblob.ListContainersResponse]
}

// AzureBlobContainers adapts an azblob client.
type AzureBlobContainers struct {
	Client azblobLister
}

func NewAzureBlobContainers(client *azblob.Client) AzureBlobContainers {
	return AzureBlobContainers{Client: client}
}

func (a AzureBlobContainers) ListContainers(ctx context.Context, prefix string) ([]string, error) {
	opts := &azblob.ListContainersOptions{
		Include: azblob.ListContainersInclude{Metadata: true},
	}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}
	pager := a.Client.NewListContainersPager(opts)
	if !pager.More() {
		return nil, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(page.ContainerItems))
	for _, c := range page.ContainerItems {
		if c != nil && c.Name != nil {
			names = append(names, *c.Name)
		}
	}
	return names, nil
}

// s3BucketLister is the subset of the S3 API used for listing buckets.
type s3BucketLister interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// S3Buckets adapts an S3 client. Buckets play the role of containers.
type S3Buckets struct {
	Client s3BucketLister
}

func NewS3Buckets(client *s3.Client) S3Buckets { return S3Buckets{Client: client} }

func (a S3Buckets) ListContainers(ctx context.Context, prefix string) ([]string, error) {
	in := &s3.ListBucketsInput{MaxBuckets: aws.Int32(1000)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	out, err := a.Client.ListBuckets(ctx, in)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}
