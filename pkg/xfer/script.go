package xfer

import (
	"embed"
	"strings"
	"text/template"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

//go:embed templates/*.sh.tmpl
var scriptFS embed.FS

var scriptTemplates = template.Must(template.ParseFS(scriptFS, "templates/*.sh.tmpl"))

// ingressScriptParams drives the cluster-side downloader: the proxy job pulls
// the staged object out of storage and writes it to the target path.
type ingressScriptParams struct {
	Directives      string
	DownloadHeadURL string
	DownloadURL     string
	TargetPath      string
	MaxPartSize     int64

	// PollTimeout bounds, in seconds, how long the job waits for the client
	// to finish its upload. Matches the presigned URL expiry.
	PollTimeout int64
}

// egressScriptParams drives the cluster-side multipart uploader.
type egressScriptParams struct {
	Directives   string
	MaxPartSize  int64
	UseSplit     bool
	TmpFolder    string
	ParallelRuns int
	PartURLs     []string
	NumParts     int
	InputFile    string
	CompleteURL  string
}

func renderScript(name string, data any) (string, error) {
	var sb strings.Builder
	if err := scriptTemplates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", &gwerr.TransferError{Op: "RenderScript", Err: err}
	}
	return sb.String(), nil
}
