// Package registry decides which dependency probes exist, based on settings.
//
// A probe kind is registered only when its required settings are present.
// A present but unusable value registers a stub probe that always reports
// Unhealthy with the configuration error, so a typo shows up on /health
// instead of aborting startup.
package registry

import (
	"context"
	"net/url"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/probes"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/settings"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Probe keys.
const (
	KeyRedis      = "Redis"
	KeyServiceBus = "Azure Service Bus"
	KeyCosmos     = "Azure Cosmos DB"
	KeyKeyVault   = "Azure Key Vault"
	KeyBlob       = "Azure Blob Storage"
	KeySearch     = "Azure AI Search"
	KeySQLServer  = "SQL Server"
	KeyS3         = "Amazon S3"
	KeySSM        = "AWS SSM Parameter Store"
	KeyKMS        = "AWS KMS"
)

type Options struct {
	// Clients defaults to DefaultClients().
	Clients *Clients
	// SQLQuery overrides the relational diagnostic query.
	SQLQuery string
}

// builder carries the lazily created shared credentials for one Build.
type builder struct {
	ctx     context.Context
	L       log.Logger
	p       settings.Provider
	c       Clients
	reg     *health.Registry
	closers []func() error

	credOnce sync.Once
	cred     azcore.TokenCredential
	credErr  error

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
}

// Build creates the registry for the given settings. The returned function
// releases long-lived clients (connection pools) and is safe to call once.
func Build(ctx context.Context, p settings.Provider, opts Options) (*health.Registry, func() error) {
	c := DefaultClients()
	if opts.Clients != nil {
		c = *opts.Clients
	}
	b := &builder{
		ctx: ctx,
		L:   log.FromContext(ctx),
		p:   p,
		c:   c,
		reg: health.NewRegistry(),
	}

	b.redis()
	b.serviceBus()
	b.cosmos()
	b.keyVault()
	b.blob()
	b.search()
	b.sqlServer(opts.SQLQuery)
	b.s3()
	b.ssm()
	b.kms()
	b.https()

	b.L.Info(ctx, "health probes registered", "count", b.reg.Len(), "keys", b.reg.Keys())
	return b.reg, b.close
}

func (b *builder) close() error {
	var errs []error
	for _, fn := range b.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return xerrors.Join(errs...)
}

func (b *builder) add(key string, p health.Probe) {
	if err := b.reg.Add(key, p); err != nil {
		// keys are fixed per kind or come from a de-duplicated list
		b.L.Error(b.ctx, err, "register probe", "probe", key)
		return
	}
	b.L.Debug(b.ctx, "probe registered", "probe", key)
}

// stub registers a permanently unhealthy probe for a bad setting.
func (b *builder) stub(key string, err error) {
	b.L.Warn(b.ctx, "probe misconfigured, registering unhealthy stub", "probe", key, "err", err.Error())
	b.add(key, health.Stub(err))
}

func (b *builder) skip(key string, name string) {
	b.L.Debug(b.ctx, "probe not configured", "probe", key, "setting", name)
}

func (b *builder) get(name string) (string, bool) { return settings.Lookup(b.p, name) }

func (b *builder) credential() (azcore.TokenCredential, error) {
	b.credOnce.Do(func() {
		if b.c.Credential == nil {
			b.credErr = xerrors.New("no Azure credential constructor configured")
			return
		}
		b.cred, b.credErr = b.c.Credential()
		if b.credErr != nil {
			b.credErr = xerrors.Wrap(b.credErr, "create Azure credential")
		}
	})
	return b.cred, b.credErr
}

func (b *builder) aws() (aws.Config, error) {
	b.awsOnce.Do(func() {
		if b.c.AWSConfig == nil {
			b.awsErr = xerrors.New("no AWS config loader configured")
			return
		}
		b.awsCfg, b.awsErr = b.c.AWSConfig(b.ctx)
		if b.awsErr != nil {
			b.awsErr = xerrors.Wrap(b.awsErr, "load AWS config")
		}
	})
	return b.awsCfg, b.awsErr
}

func malformedURI(raw, setting string) error {
	return xerrors.Newf("%s is not a well-formed absolute URI string. Check app setting %s and try again.", raw, setting)
}

func absoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (b *builder) redis() {
	conn, ok := b.get(settings.RedisConnectionString)
	if !ok {
		b.skip(KeyRedis, settings.RedisConnectionString)
		return
	}
	opts, err := probes.ParseRedisOptions(conn)
	if err != nil {
		b.stub(KeyRedis, xerrors.Wrapf(err, "app setting %s", settings.RedisConnectionString))
		return
	}
	store, closeFn := b.c.Redis(opts)
	if closeFn != nil {
		b.closers = append(b.closers, closeFn)
	}
	b.add(KeyRedis, &probes.Cache{Client: store})
}

func (b *builder) serviceBus() {
	queue, _ := b.get(settings.ServiceBusQueueName)
	probe := func(client probes.QueueAdmin) health.Probe {
		return &probes.Queue{Client: client, Name: queue, Setting: settings.ServiceBusQueueName}
	}

	if ns, ok := b.get(settings.ServiceBusNamespace); ok {
		cred, err := b.credential()
		if err != nil {
			b.stub(KeyServiceBus, err)
			return
		}
		client, err := b.c.ServiceBusFromNamespace(ns, cred)
		if err != nil {
			b.stub(KeyServiceBus, xerrors.Wrapf(err, "app setting %s", settings.ServiceBusNamespace))
			return
		}
		b.add(KeyServiceBus, probe(client))
		return
	}
	if conn, ok := b.get(settings.ServiceBusConnectionString); ok {
		client, err := b.c.ServiceBusFromConnectionString(conn)
		if err != nil {
			b.stub(KeyServiceBus, xerrors.Wrapf(err, "app setting %s", settings.ServiceBusConnectionString))
			return
		}
		b.add(KeyServiceBus, probe(client))
		return
	}
	b.skip(KeyServiceBus, settings.ServiceBusNamespace)
}

func (b *builder) cosmos() {
	database, _ := b.get(settings.CosmosDatabaseName)
	probe := func(client probes.DatabaseReader) health.Probe {
		return &probes.DocumentDB{Client: client, Database: database, Setting: settings.CosmosDatabaseName}
	}

	if endpoint, ok := b.get(settings.CosmosEndpointURI); ok {
		if !absoluteURI(endpoint) {
			b.stub(KeyCosmos, malformedURI(endpoint, settings.CosmosEndpointURI))
			return
		}
		cred, err := b.credential()
		if err != nil {
			b.stub(KeyCosmos, err)
			return
		}
		client, err := b.c.CosmosFromEndpoint(endpoint, cred)
		if err != nil {
			b.stub(KeyCosmos, xerrors.Wrapf(err, "app setting %s", settings.CosmosEndpointURI))
			return
		}
		b.add(KeyCosmos, probe(client))
		return
	}
	if conn, ok := b.get(settings.CosmosConnectionString); ok {
		client, err := b.c.CosmosFromConnectionString(conn)
		if err != nil {
			b.stub(KeyCosmos, xerrors.Wrapf(err, "app setting %s", settings.CosmosConnectionString))
			return
		}
		b.add(KeyCosmos, probe(client))
		return
	}
	b.skip(KeyCosmos, settings.CosmosEndpointURI)
}

func (b *builder) keyVault() {
	uri, ok := b.get(settings.KeyVaultURI)
	if !ok {
		b.skip(KeyKeyVault, settings.KeyVaultURI)
		return
	}
	if !absoluteURI(uri) {
		b.stub(KeyKeyVault, malformedURI(uri, settings.KeyVaultURI))
		return
	}
	cred, err := b.credential()
	if err != nil {
		b.stub(KeyKeyVault, err)
		return
	}
	client, err := b.c.KeyVault(uri, cred)
	if err != nil {
		b.stub(KeyKeyVault, xerrors.Wrapf(err, "app setting %s", settings.KeyVaultURI))
		return
	}
	b.add(KeyKeyVault, &probes.SecretStore{Client: client})
}

func (b *builder) blob() {
	container, _ := b.get(settings.BlobContainerName)
	probe := func(client probes.ContainerLister) health.Probe {
		return &probes.ObjectStore{Client: client, Container: container, Setting: settings.BlobContainerName}
	}

	if endpoint, ok := b.get(settings.BlobEndpointURI); ok {
		if !absoluteURI(endpoint) {
			b.stub(KeyBlob, malformedURI(endpoint, settings.BlobEndpointURI))
			return
		}
		cred, err := b.credential()
		if err != nil {
			b.stub(KeyBlob, err)
			return
		}
		client, err := b.c.BlobFromEndpoint(endpoint, cred)
		if err != nil {
			b.stub(KeyBlob, xerrors.Wrapf(err, "app setting %s", settings.BlobEndpointURI))
			return
		}
		b.add(KeyBlob, probe(client))
		return
	}
	if conn, ok := b.get(settings.BlobConnectionString); ok {
		client, err := b.c.BlobFromConnectionString(conn)
		if err != nil {
			b.stub(KeyBlob, xerrors.Wrapf(err, "app setting %s", settings.BlobConnectionString))
			return
		}
		b.add(KeyBlob, probe(client))
		return
	}
	b.skip(KeyBlob, settings.BlobEndpointURI)
}

func (b *builder) search() {
	endpoint, ok := b.get(settings.SearchEndpointURI)
	if !ok {
		b.skip(KeySearch, settings.SearchEndpointURI)
		return
	}
	if !absoluteURI(endpoint) {
		b.stub(KeySearch, malformedURI(endpoint, settings.SearchEndpointURI))
		return
	}
	apiKey, _ := b.get(settings.SearchAPIKey)
	var cred azcore.TokenCredential
	if apiKey == "" {
		c, err := b.credential()
		if err != nil {
			b.stub(KeySearch, err)
			return
		}
		cred = c
	}
	client, err := b.c.Search(endpoint, apiKey, cred)
	if err != nil {
		b.stub(KeySearch, xerrors.Wrapf(err, "app setting %s", settings.SearchEndpointURI))
		return
	}
	b.add(KeySearch, &probes.SearchIndex{Client: client})
}

func (b *builder) sqlServer(query string) {
	conn, ok := b.get(settings.SQLServerConnectionString)
	if !ok {
		b.skip(KeySQLServer, settings.SQLServerConnectionString)
		return
	}
	db, err := b.c.SQL(conn)
	if err != nil {
		b.stub(KeySQLServer, xerrors.Wrapf(err, "app setting %s", settings.SQLServerConnectionString))
		return
	}
	b.closers = append(b.closers, db.Close)
	b.add(KeySQLServer, &probes.SQL{DB: db, Query: query})
}

func (b *builder) s3() {
	bucket, ok := b.get(settings.S3BucketName)
	if !ok {
		b.skip(KeyS3, settings.S3BucketName)
		return
	}
	cfg, err := b.aws()
	if err != nil {
		b.stub(KeyS3, err)
		return
	}
	b.add(KeyS3, &probes.ObjectStore{Client: b.c.S3(cfg), Container: bucket, Setting: settings.S3BucketName})
}

func (b *builder) ssm() {
	path, ok := b.get(settings.SSMParameterPath)
	if !ok {
		b.skip(KeySSM, settings.SSMParameterPath)
		return
	}
	cfg, err := b.aws()
	if err != nil {
		b.stub(KeySSM, err)
		return
	}
	b.add(KeySSM, &probes.SecretStore{Client: b.c.SSM(cfg, path)})
}

func (b *builder) kms() {
	keyID, ok := b.get(settings.KMSKeyID)
	if !ok {
		b.skip(KeyKMS, settings.KMSKeyID)
		return
	}
	cfg, err := b.aws()
	if err != nil {
		b.stub(KeyKMS, err)
		return
	}
	b.add(KeyKMS, &probes.KeyStore{Client: b.c.KMS(cfg), KeyID: keyID})
}

// https registers one probe per listed URL, keyed by the URL itself.
// Repeated URLs are registered once.
func (b *builder) https() {
	urls := settings.List(b.p, settings.HTTPSEndpointURLs, ";")
	if len(urls) == 0 {
		b.skip("https", settings.HTTPSEndpointURLs)
		return
	}
	for _, raw := range urls {
		if b.reg.Has(raw) {
			b.L.Warn(b.ctx, "duplicate endpoint url ignored", "url", raw)
			continue
		}
		p, err := probes.NewHTTPS(raw, b.c.HTTP)
		if err != nil {
			b.stub(raw, err)
			continue
		}
		b.add(raw, p)
	}
}
