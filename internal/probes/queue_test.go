package probes

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

type fakeQueueAdmin struct {
	first  string
	exists bool
	err    error
}

func (f fakeQueueAdmin) FirstQueue(context.Context) (string, error)        { return f.first, f.err }
func (f fakeQueueAdmin) QueueExists(context.Context, string) (bool, error) { return f.exists, f.err }

func TestQueue_NoNameListsQueues(t *testing.T) {
	p := &Queue{Client: fakeQueueAdmin{first: "orders"}, Setting: "AZURE_SERVICE_BUS_QUEUE_NAME"}
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Healthy() {
		t.Fatalf("want Healthy, got %+v", out)
	}
	want := `Get Queues succeeded. No queue name specified by app setting "AZURE_SERVICE_BUS_QUEUE_NAME".`
	if out.Description != want {
		t.Fatalf("description = %q", out.Description)
	}
	if v, _ := out.Data.Get("FirstQueue"); v != "orders" {
		t.Fatalf("FirstQueue = %v", v)
	}
}

func TestQueue_NoNameEmptyNamespaceIsHealthy(t *testing.T) {
	out, err := (&Queue{Client: fakeQueueAdmin{}}).Run(context.Background())
	if err != nil || !out.Healthy() {
		t.Fatalf("want Healthy, got %+v %v", out, err)
	}
	if len(out.Data) != 0 {
		t.Fatalf("data = %v, want none", out.Data)
	}
}

func TestQueue_NamedQueue(t *testing.T) {
	out, _ := (&Queue{Client: fakeQueueAdmin{exists: true}, Name: "orders"}).Run(context.Background())
	if !out.Healthy() || out.Description != `Queue "orders" exists.` {
		t.Fatalf("unexpected outcome %+v", out)
	}
	out, _ = (&Queue{Client: fakeQueueAdmin{exists: false}, Name: "orders"}).Run(context.Background())
	if out.Healthy() || out.Description != `Queue "orders" not found.` {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestQueue_Error(t *testing.T) {
	if _, err := (&Queue{Client: fakeQueueAdmin{err: errors.New("unauthorized")}, Name: "q"}).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeServiceBus struct {
	queues  []string
	getResp *admin.GetQueueResponse
	getErr  error
	gotName string
}

func (f *fakeServiceBus) GetQueue(_ context.Context, name string, _ *admin.GetQueueOptions) (*admin.GetQueueResponse, error) {
	f.gotName = name
	return f.getResp, f.getErr
}

func (f *fakeServiceBus) NewListQueuesPager(*admin.ListQueuesOptions) *runtime.Pager[admin.ListQueuesResponse] {
	done := false
	return runtime.NewPager(runtime.PagingHandler[admin.ListQueuesResponse]{
		More: func(admin.ListQueuesResponse) bool { return !done },
		Fetcher: func(context.Context, *admin.ListQueuesResponse) (admin.ListQueuesResponse, error) {
			done = true
			var resp admin.ListQueuesResponse
			for _, q := range f.queues {
				resp.Queues = append(resp.Queues, admin.QueueItem{QueueName: q})
			}
			return resp, nil
		},
	})
}

func TestServiceBusQueues_FirstQueue(t *testing.T) {
	got, err := ServiceBusQueues{Client: &fakeServiceBus{queues: []string{"a", "b"}}}.FirstQueue(context.Background())
	if err != nil || got != "a" {
		t.Fatalf("FirstQueue = %q %v", got, err)
	}
	got, err = ServiceBusQueues{Client: &fakeServiceBus{}}.FirstQueue(context.Background())
	if err != nil || got != "" {
		t.Fatalf("FirstQueue on empty namespace = %q %v", got, err)
	}
}

func TestServiceBusQueues_QueueExists(t *testing.T) {
	f := &fakeServiceBus{getResp: &admin.GetQueueResponse{}}
	ok, err := ServiceBusQueues{Client: f}.QueueExists(context.Background(), "orders")
	if err != nil || !ok {
		t.Fatalf("QueueExists = %v %v", ok, err)
	}
	if f.gotName != "orders" {
		t.Fatalf("queried %q", f.gotName)
	}

	ok, err = ServiceBusQueues{Client: &fakeServiceBus{}}.QueueExists(context.Background(), "orders")
	if err != nil || ok {
		t.Fatalf("nil response should mean not found, got %v %v", ok, err)
	}
}
