package health

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedRenderer() Renderer {
	env := map[string]string{
		"HOSTNAME":   "web-1",
		"GITHUB_SHA": "abc123",
	}
	return Renderer{
		Env: func(k string) string { return env[k] },
		Now: func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) },
	}
}

func TestRender_EmptyReport(t *testing.T) {
	got := fixedRenderer().RenderString(Report{Status: StatusHealthy, Entries: map[string]Outcome{}}, nil)
	want := "HEALTHY\t0.00 seconds\n" +
		"UtcNow:\t\t\t2024-05-01T12:30:00Z\n" +
		"WEBSITE_INSTANCE_ID:\t\n" +
		"COMPUTERNAME:\t\t\n" +
		"HOSTNAME:\t\tweb-1\n" +
		"WEBSITE_PRIVATE_IP:\t\n" +
		"GITHUB_SHA:\t\tabc123\n"
	if got != want {
		t.Fatalf("render mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRender_EntriesFormatAndOrder(t *testing.T) {
	rep := Report{
		Status:        StatusUnhealthy,
		TotalDuration: 1234 * time.Millisecond,
		Entries: map[string]Outcome{
			"Redis": {
				Status:      StatusHealthy,
				Description: "Cache set/get operations completed successfully.",
				Elapsed:     250 * time.Millisecond,
			},
			"Azure Blob Storage": {
				Status:      StatusHealthy,
				Description: "List containers succeeded.",
				Elapsed:     100 * time.Millisecond,
			},
			"https://down.example/": {
				Status:      StatusUnhealthy,
				Description: "dial tcp: connection refused",
				Elapsed:     2 * time.Second,
				Data:        Data{KV("IP", "10.0.0.1, 10.0.0.2")},
				Err:         errors.New("dial tcp: connection refused"),
			},
		},
	}
	req := &RequestInfo{Host: "health.example", RemoteIP: "192.0.2.1", LocalIP: "10.1.1.1"}
	got := fixedRenderer().RenderString(rep, req)

	want := "UNHEALTHY\t1.23 seconds\n" +
		"Request.Host:\t\thealth.example\n" +
		"RemoteIpAddress:\t192.0.2.1\n" +
		"LocalIpAddress:\t\t10.1.1.1\n" +
		"UtcNow:\t\t\t2024-05-01T12:30:00Z\n" +
		"WEBSITE_INSTANCE_ID:\t\n" +
		"COMPUTERNAME:\t\t\n" +
		"HOSTNAME:\t\tweb-1\n" +
		"WEBSITE_PRIVATE_IP:\t\n" +
		"GITHUB_SHA:\t\tabc123\n" +
		"\n" +
		"https://down.example/\tUNHEALTHY\t2.00 seconds\n" +
		"dial tcp: connection refused\n" +
		"IP:\t10.0.0.1, 10.0.0.2\n" +
		"dial tcp: connection refused\n" +
		"\n" +
		"Azure Blob Storage\tHEALTHY\t0.10 seconds\n" +
		"List containers succeeded.\n" +
		"\n" +
		"Redis\tHEALTHY\t0.25 seconds\n" +
		"Cache set/get operations completed successfully.\n"
	if got != want {
		t.Fatalf("render mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRender_Deterministic(t *testing.T) {
	rep := Report{Status: StatusHealthy, Entries: map[string]Outcome{}}
	for _, k := range []string{"e", "d", "c", "b", "a"} {
		rep.Entries[k] = Outcome{Status: StatusHealthy, Description: k}
	}
	r := fixedRenderer()
	first := r.RenderString(rep, nil)
	for i := 0; i < 20; i++ {
		if got := r.RenderString(rep, nil); got != first {
			t.Fatalf("render not deterministic on iteration %d", i)
		}
	}
}

func TestRender_MissingFieldsDoNotFail(t *testing.T) {
	rep := Report{Entries: map[string]Outcome{"x": {}}}
	got := fixedRenderer().RenderString(rep, &RequestInfo{})
	if !strings.HasPrefix(got, "UNHEALTHY\t0.00 seconds\n") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "\nx\tUNHEALTHY\t0.00 seconds\n\n") {
		t.Fatalf("entry with empty description not rendered: %q", got)
	}
}

func TestRender_NilDataValueIsEmpty(t *testing.T) {
	rep := Report{Status: StatusHealthy, Entries: map[string]Outcome{
		"https://a.example/": {Status: StatusHealthy, Description: "ok", Data: Data{KV("IP", nil), KV("Port", 443)}},
	}}
	got := fixedRenderer().RenderString(rep, nil)
	if !strings.HasSuffix(got, "ok\nIP:\t\nPort:\t443\n") {
		t.Fatalf("nil data value should render empty: %q", got)
	}
	if strings.Contains(got, "<nil>") {
		t.Fatalf("rendered <nil>: %q", got)
	}
}

func TestReport_SortedUnhealthyFirst(t *testing.T) {
	rep := Report{Entries: map[string]Outcome{
		"b": {Status: StatusHealthy},
		"a": {Status: StatusHealthy},
		"z": {Status: StatusUnhealthy},
		"c": {Status: StatusUnhealthy},
	}}
	var keys []string
	for _, e := range rep.Sorted() {
		keys = append(keys, e.Key)
	}
	if got := strings.Join(keys, ","); got != "c,z,a,b" {
		t.Fatalf("order = %q, want c,z,a,b", got)
	}
	if got := strings.Join(rep.Unhealthy(), ","); got != "c,z" {
		t.Fatalf("unhealthy = %q", got)
	}
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Timeout: 60 * time.Second}
	if err.Error() != "Probe was cancelled after timeout of 60 seconds." {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestOutcome_WithDataCopies(t *testing.T) {
	base := Outcome{Data: Data{KV("a", 1)}}
	next := base.WithData("b", 2)
	if len(base.Data) != 1 || len(next.Data) != 2 {
		t.Fatalf("WithData should not mutate the receiver: %v %v", base.Data, next.Data)
	}
	if v, ok := next.Data.Get("b"); !ok || v != 2 {
		t.Fatalf("Get(b) = %v %v", v, ok)
	}
}
