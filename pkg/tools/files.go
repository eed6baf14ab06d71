package tools

import "context"

type readFileInput struct {
	Path      string `json:"path" jsonschema:"path of the file inside the sandbox"`
	SessionID string `json:"session_id,omitempty" jsonschema:"sandbox session to use"`
}

type writeFileInput struct {
	Path      string `json:"path" jsonschema:"path of the file inside the sandbox"`
	Content   string `json:"content" jsonschema:"text content to write"`
	SessionID string `json:"session_id,omitempty" jsonschema:"sandbox session to use"`
}

func newReadFile() (*Tool, error) {
	return NewTool("read_file", "Read a text file from the sandbox filesystem.", readFile)
}

func newWriteFile() (*Tool, error) {
	return NewTool("write_file", "Write text content to a file in the sandbox filesystem.", writeFile)
}

func readFile(ctx context.Context, inv *Invocation, in readFileInput) (any, error) {
	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}
	data, err := sbx.Files().Read(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":    string(data),
		"session_id": sessionID,
	}, nil
}

func writeFile(ctx context.Context, inv *Invocation, in writeFileInput) (any, error) {
	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}
	if err := sbx.Files().Write(ctx, in.Path, []byte(in.Content)); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     "File written successfully",
		"session_id": sessionID,
	}, nil
}
