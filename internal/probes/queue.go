package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// QueueAdmin is the management surface the queue probe needs.
type QueueAdmin interface {
	// FirstQueue returns the first queue name, or "" when there are none.
	FirstQueue(ctx context.Context) (string, error)
	QueueExists(ctx context.Context, name string) (bool, error)
}

// Queue checks a message broker namespace via its management API.
type Queue struct {
	Client  QueueAdmin
	Name    string
	Setting string
}

func (p *Queue) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()

	if p.Name == "" {
		first, err := p.Client.FirstQueue(ctx)
		if err != nil {
			return health.Outcome{}, xerrors.Wrap(err, "list queues")
		}
		out := health.Healthy(start, fmt.Sprintf(
			"Get Queues succeeded. No queue name specified by app setting %q.", p.Setting))
		if first != "" {
			out = out.WithData("FirstQueue", first)
		}
		return out, nil
	}

	ok, err := p.Client.QueueExists(ctx, p.Name)
	if err != nil {
		return health.Outcome{}, xerrors.Wrapf(err, "get queue %s", p.Name)
	}
	if !ok {
		return health.Unhealthy(start, fmt.Sprintf("Queue %q not found.", p.Name), nil), nil
	}
	return health.Healthy(start, fmt.Sprintf("Queue %q exists.", p.Name)), nil
}

// serviceBusAdmin is the subset of *admin.Client used by the adapter.
type serviceBusAdmin interface {
	GetQueue(ctx context.Context, queueName string, options *admin.GetQueueOptions) (*admin.GetQueueResponse, error)
	NewListQueuesPager(options *admin.ListQueuesOptions) *runtime.Pager[admin.ListQueuesResponse]
}

// ServiceBusQueues adapts an Azure Service Bus admin client.
type ServiceBusQueues struct {
	Client serviceBusAdmin
}

func NewServiceBusQueues(client *admin.Client) ServiceBusQueues {
	return ServiceBusQueues{Client: client}
}

func (a ServiceBusQueues) FirstQueue(ctx context.Context) (string, error) {
	pager := a.Client.NewListQueuesPager(&admin.ListQueuesOptions{MaxPageSize: 1})
	if !pager.More() {
		return "", nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return "", err
	}
	if len(page.Queues) == 0 {
		return "", nil
	}
	return page.Queues[0].QueueName, nil
}

// QueueExists relies on GetQueue returning a nil response for a missing queue.
func (a ServiceBusQueues) QueueExists(ctx context.Context, name string) (bool, error) {
	resp, err := a.Client.GetQueue(ctx, name, nil)
	if err != nil {
		return false, err
	}
	return resp != nil, nil
}
