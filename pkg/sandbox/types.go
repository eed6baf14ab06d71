package sandbox

import "encoding/json"

// Execution is the result of RunCode. Field names follow the code
// interpreter's own result shape so it can be returned to clients verbatim.
type Execution struct {
	Results        []Result        `json:"results"`
	Logs           Logs            `json:"logs"`
	Error          *ExecutionError `json:"error"`
	ExecutionCount int             `json:"execution_count,omitempty"`
}

// Logs holds the stdout and stderr chunks printed during execution.
type Logs struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`
}

// ExecutionError describes an exception raised by executed code.
type ExecutionError struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Traceback string `json:"traceback"`
}

// Result is one displayable result of an execution (the value of the last
// expression, a plot, a table). Formats are kept as the interpreter sent
// them, keyed by MIME-like name ("text", "png", "html", ...).
type Result struct {
	IsMainResult bool                       `json:"is_main_result"`
	Formats      map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens the formats next to is_main_result.
func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(r.Formats)+1)
	for k, v := range r.Formats {
		m[k] = v
	}
	flag, _ := json.Marshal(r.IsMainResult)
	m["is_main_result"] = flag
	return json.Marshal(m)
}

// UnmarshalJSON collects every field other than is_main_result into Formats.
func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["is_main_result"]; ok {
		if err := json.Unmarshal(v, &r.IsMainResult); err != nil {
			return err
		}
		delete(m, "is_main_result")
	}
	delete(m, "type")
	r.Formats = m
	return nil
}
