package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rhuss/sandbox-mcp/pkg/allowlist"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Some clients cannot send a real null or empty string for optional
// arguments and send these literals instead.
const (
	nullSentinel  = "null"
	emptySentinel = `""`
)

type uploadInput struct {
	LocalPath   string  `json:"local_path" jsonschema:"absolute path of the local file to upload"`
	SandboxPath *string `json:"sandbox_path,omitempty" jsonschema:"destination path in the sandbox; defaults to the local file name"`
	Overwrite   bool    `json:"overwrite,omitempty" jsonschema:"replace an existing file in the sandbox"`
	SessionID   string  `json:"session_id,omitempty" jsonschema:"sandbox session to use"`
}

type downloadInput struct {
	SandboxPath string `json:"sandbox_path" jsonschema:"path of the file in the sandbox"`
	LocalPath   string `json:"local_path" jsonschema:"absolute local destination path"`
	Overwrite   bool   `json:"overwrite,omitempty" jsonschema:"replace an existing local file"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"sandbox session to use"`
}

type transfer struct {
	upload   allowlist.Set
	download allowlist.Set
}

func (tr *transfer) newUpload() (*Tool, error) {
	return NewTool("upload_file",
		"Upload a file from the local filesystem into the sandbox. "+
			"Only files under the configured upload directories are allowed.",
		tr.uploadFile,
		WithNullable("sandbox_path"),
		WithDefault("overwrite", true))
}

func (tr *transfer) newDownload() (*Tool, error) {
	return NewTool("download_file",
		"Download a file from the sandbox to the local filesystem. "+
			"Only destinations under the configured download directories are allowed.",
		tr.downloadFile,
		WithDefault("overwrite", false))
}

// targetPath resolves the sandbox destination of an upload.
func targetPath(localPath string, sandboxPath *string) string {
	var target string
	if sandboxPath != nil {
		target = *sandboxPath
	}
	if target == nullSentinel || target == emptySentinel {
		target = ""
	}
	if target == "" {
		target = filepath.Base(localPath)
	}
	return target
}

func checkAllowed(set allowlist.Set, path, direction string) (string, error) {
	cleaned, err := set.Check(path)
	switch {
	case errors.Is(err, allowlist.ErrNoAllowedDirs):
		return "", &Error{
			Code:    CodeAccessDenied,
			Message: fmt.Sprintf("Access denied: no %s directories are configured", direction),
			Err:     err,
		}
	case err != nil:
		return "", &Error{
			Code:    CodeAccessDenied,
			Message: fmt.Sprintf("Access denied: %s is not in an allowed %s directory", path, direction),
			Data:    map[string]any{"allowed_dirs": set.Prefixes()},
			Err:     err,
		}
	}
	return cleaned, nil
}

func (tr *transfer) uploadFile(ctx context.Context, inv *Invocation, in uploadInput) (any, error) {
	target := targetPath(in.LocalPath, in.SandboxPath)

	localPath, err := checkAllowed(tr.upload, in.LocalPath, "upload")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read local file %s: %w", localPath, err)
	}

	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}

	if !in.Overwrite {
		_, err := sbx.Files().Read(ctx, target)
		switch {
		case err == nil:
			return nil, Errorf(CodeAlreadyExists,
				"File %s already exists in the sandbox; set overwrite to true to replace it", target)
		case !sandbox.IsNotFound(err):
			return nil, fmt.Errorf("check sandbox file %s: %w", target, err)
		}
	}

	if err := sbx.Files().Write(ctx, target, data); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":       "File uploaded successfully",
		"local_path":   localPath,
		"sandbox_path": target,
		"session_id":   sessionID,
	}, nil
}

func (tr *transfer) downloadFile(ctx context.Context, inv *Invocation, in downloadInput) (any, error) {
	localPath, err := checkAllowed(tr.download, in.LocalPath, "download")
	if err != nil {
		return nil, err
	}

	if !in.Overwrite {
		_, err := os.Stat(localPath)
		switch {
		case err == nil:
			return nil, Errorf(CodeAlreadyExists,
				"File %s already exists locally; set overwrite to true to replace it", localPath)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("check local file %s: %w", localPath, err)
		}
	}

	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}

	data, err := sbx.Files().Read(ctx, in.SandboxPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("create local directory: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write local file %s: %w", localPath, err)
	}

	return map[string]any{
		"status":       "File downloaded successfully",
		"sandbox_path": in.SandboxPath,
		"local_path":   localPath,
		"session_id":   sessionID,
	}, nil
}
