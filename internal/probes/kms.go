package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// KMSAPI is the subset of *kms.Client the key store probe calls.
type KMSAPI interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	ListKeys(ctx context.Context, params *kms.ListKeysInput, optFns ...func(*kms.Options)) (*kms.ListKeysOutput, error)
}

// KeyStore checks a key management service. With KeyID set the key must be
// Enabled; otherwise a single list call must succeed.
type KeyStore struct {
	Client KMSAPI
	KeyID  string
}

func NewKMSKeyStore(client *kms.Client, keyID string) *KeyStore {
	return &KeyStore{Client: client, KeyID: keyID}
}

func (p *KeyStore) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()

	if p.KeyID == "" {
		if _, err := p.Client.ListKeys(ctx, &kms.ListKeysInput{Limit: aws.Int32(1)}); err != nil {
			return health.Outcome{}, xerrors.Wrap(err, "kms list keys")
		}
		return health.Healthy(start, "List keys succeeded. No key id specified by app setting \"AWS_KMS_KEY_ID\"."), nil
	}

	out, err := p.Client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(p.KeyID)})
	if err != nil {
		return health.Outcome{}, xerrors.Wrapf(err, "kms describe key %s", p.KeyID)
	}
	if out.KeyMetadata == nil {
		return health.Unhealthy(start, fmt.Sprintf("Key %q returned no metadata.", p.KeyID), nil), nil
	}

	state := out.KeyMetadata.KeyState
	data := []health.Field{
		health.KV("KeyState", string(state)),
		health.KV("KeyUsage", string(out.KeyMetadata.KeyUsage)),
	}
	if state != kmstypes.KeyStateEnabled {
		return health.Unhealthy(start, fmt.Sprintf("Key %q is %s.", p.KeyID, state), nil, data...), nil
	}
	return health.Healthy(start, fmt.Sprintf("Key %q is enabled.", p.KeyID), data...), nil
}
