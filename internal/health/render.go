package health

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ContentType is the media type of rendered reports.
const ContentType = "text/plain; charset=utf-8"

// envKeys are host diagnostics printed under the status line.
var envKeys = []struct{ name, sep string }{
	{"WEBSITE_INSTANCE_ID", ":\t"},
	{"COMPUTERNAME", ":\t\t"},
	{"HOSTNAME", ":\t\t"},
	{"WEBSITE_PRIVATE_IP", ":\t"},
	{"GITHUB_SHA", ":\t\t"},
}

// RequestInfo carries the request-scoped lines of a rendered report.
type RequestInfo struct {
	Host     string
	RemoteIP string
	LocalIP  string
}

// Renderer writes reports as plain text.
// Env and Now default to os.Getenv and time.Now.
type Renderer struct {
	Env func(string) string
	Now func() time.Time
}

// Render writes r to w. req may be nil, in which case the request lines are
// omitted. Missing values render as empty strings.
func (rd Renderer) Render(w io.Writer, r Report, req *RequestInfo) error {
	env := rd.Env
	if env == nil {
		env = os.Getenv
	}
	now := rd.Now
	if now == nil {
		now = time.Now
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\t%.2f seconds\n", strings.ToUpper(r.Status.String()), r.TotalDuration.Seconds())
	if req != nil {
		fmt.Fprintf(bw, "Request.Host:\t\t%s\n", req.Host)
		fmt.Fprintf(bw, "RemoteIpAddress:\t%s\n", req.RemoteIP)
		fmt.Fprintf(bw, "LocalIpAddress:\t\t%s\n", req.LocalIP)
	}
	fmt.Fprintf(bw, "UtcNow:\t\t\t%s\n", now().UTC().Format(time.RFC3339))
	for _, k := range envKeys {
		fmt.Fprintf(bw, "%s%s%s\n", k.name, k.sep, env(k.name))
	}

	for _, e := range r.Sorted() {
		fmt.Fprintf(bw, "\n%s\t%s\t%.2f seconds\n", e.Key, strings.ToUpper(e.Status.String()), e.Elapsed.Seconds())
		fmt.Fprintf(bw, "%s\n", e.Description)
		for _, f := range e.Data {
			fmt.Fprintf(bw, "%s:\t%s\n", f.Key, dataValue(f.Value))
		}
		if e.Err != nil {
			fmt.Fprintf(bw, "%s\n", e.Err.Error())
		}
	}
	return bw.Flush()
}

// dataValue prints a nil value as an empty string rather than <nil>.
func dataValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// RenderString is Render into a string.
func (rd Renderer) RenderString(r Report, req *RequestInfo) string {
	var sb strings.Builder
	_ = rd.Render(&sb, r, req)
	return sb.String()
}
