package tools

import (
	"time"

	"github.com/rhuss/sandbox-mcp/pkg/allowlist"
)

// Options configures the built-in tools.
type Options struct {
	UploadDirs     allowlist.Set
	DownloadDirs   allowlist.Set
	CommandTimeout time.Duration
}

// Builtin returns the six sandbox tools in their advertised order.
func Builtin(opts Options) ([]*Tool, error) {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	tr := &transfer{upload: opts.UploadDirs, download: opts.DownloadDirs}
	cmd := &commandRunner{timeout: opts.CommandTimeout}

	ctors := []func() (*Tool, error){
		newRunCode,
		newReadFile,
		newWriteFile,
		cmd.newTool,
		tr.newUpload,
		tr.newDownload,
	}

	tools := make([]*Tool, 0, len(ctors))
	for _, ctor := range ctors {
		t, err := ctor()
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}
