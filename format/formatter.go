package format

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tools-aigc/toolflow/types"
)

// OutputFormat selects a result encoding.
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
	FormatText     OutputFormat = "text"
	FormatHTML     OutputFormat = "html"
)

// Parse validates a format name. Unknown names are an UNSUPPORTED_FORMAT
// error rather than a silent default; an empty name selects JSON.
func Parse(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case FormatJSON, FormatMarkdown, FormatText, FormatHTML:
		return OutputFormat(name), nil
	case "":
		return FormatJSON, nil
	default:
		return "", types.NewError(types.ErrUnsupportedFormat,
			fmt.Sprintf("unsupported output format %q", name))
	}
}

// Format renders a tool result in the requested encoding.
//
// With includeMetadata the full {success, data, error} structure is rendered;
// without it only the data payload (or the error for failures) is rendered.
// A payload that does not decode as JSON is a FORMATTING error in both
// paths. The caller fills in ToolName and Cached on the returned metadata.
func Format(result types.ToolResult, output OutputFormat, includeMetadata bool) (types.FormattedResult, error) {
	payload, err := selectPayload(result, includeMetadata)
	if err != nil {
		return types.FormattedResult{}, err
	}

	var rendered string
	switch output {
	case FormatJSON:
		rendered, err = renderJSON(payload)
	case FormatMarkdown:
		rendered = renderMarkdown(payload, result.Success)
	case FormatText:
		rendered = renderText(payload, result.Success)
	case FormatHTML:
		rendered = renderHTML(payload, result.Success)
	default:
		return types.FormattedResult{}, types.NewError(types.ErrUnsupportedFormat,
			fmt.Sprintf("unsupported output format %q", output))
	}
	if err != nil {
		return types.FormattedResult{}, err
	}

	return types.FormattedResult{
		Result:    result,
		Formatted: rendered,
		Metadata: types.ResultMetadata{
			Format:    string(output),
			Timestamp: time.Now(),
		},
	}, nil
}

// selectPayload decodes the part of the result that will be rendered.
func selectPayload(result types.ToolResult, includeMetadata bool) (any, error) {
	if includeMetadata {
		var data any
		if len(result.Data) > 0 {
			if err := json.Unmarshal(result.Data, &data); err != nil {
				return nil, types.NewError(types.ErrFormatting, "result payload is not representable").WithCause(err)
			}
		}
		return map[string]any{
			"success": result.Success,
			"data":    data,
			"error":   result.Error,
		}, nil
	}
	if result.Success && len(result.Data) > 0 {
		var v any
		if err := json.Unmarshal(result.Data, &v); err != nil {
			return nil, types.NewError(types.ErrFormatting, "result payload is not representable").WithCause(err)
		}
		return v, nil
	}
	errMsg := result.Error
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return map[string]any{"error": errMsg}, nil
}

func renderJSON(payload any) (string, error) {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", types.NewError(types.ErrFormatting, "encode payload as JSON").WithCause(err)
	}
	return string(out), nil
}

func renderMarkdown(payload any, success bool) string {
	if !success {
		return "## Error\n\n" + errorText(payload) + "\n"
	}
	switch v := payload.(type) {
	case map[string]any:
		var b strings.Builder
		b.WriteString("## Result\n\n")
		for _, key := range sortedKeys(v) {
			value := v[key]
			if isComposite(value) {
				b.WriteString(fmt.Sprintf("**%s**:\n\n```json\n%s\n```\n\n", key, compactJSON(value)))
			} else {
				b.WriteString(fmt.Sprintf("**%s**: %s\n\n", key, scalarText(value)))
			}
		}
		return strings.TrimRight(b.String(), "\n") + "\n"
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, "- "+inlineText(item))
		}
		return "## Results\n\n" + strings.Join(items, "\n") + "\n"
	default:
		return "## Result\n\n" + scalarText(payload) + "\n"
	}
}

func renderText(payload any, success bool) string {
	if !success {
		return "error: " + errorText(payload) + "\n"
	}
	switch v := payload.(type) {
	case map[string]any:
		var b strings.Builder
		b.WriteString("result:\n")
		writeTextFields(&b, v, 1)
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteString("results:\n")
		for _, item := range v {
			b.WriteString("- " + inlineText(item) + "\n")
		}
		return b.String()
	default:
		return "result: " + scalarText(payload) + "\n"
	}
}

// writeTextFields emits key: value lines, recursing into nested objects with
// consistent two-space indentation. Nested arrays are inlined as compact JSON.
func writeTextFields(b *strings.Builder, obj map[string]any, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		switch nested := value.(type) {
		case map[string]any:
			b.WriteString(indent + key + ":\n")
			writeTextFields(b, nested, depth+1)
		case []any:
			b.WriteString(indent + key + ": " + compactJSON(nested) + "\n")
		default:
			b.WriteString(indent + key + ": " + scalarText(value) + "\n")
		}
	}
}

func renderHTML(payload any, success bool) string {
	if !success {
		return `<div class="error-message"><h3>Error</h3><p>` +
			html.EscapeString(errorText(payload)) + `</p></div>`
	}
	switch v := payload.(type) {
	case map[string]any:
		var rows strings.Builder
		for _, key := range sortedKeys(v) {
			value := v[key]
			var cell string
			if isComposite(value) {
				cell = "<pre>" + html.EscapeString(indentedJSON(value)) + "</pre>"
			} else {
				cell = html.EscapeString(scalarText(value))
			}
			rows.WriteString("<tr><th>" + html.EscapeString(key) + "</th><td>" + cell + "</td></tr>")
		}
		return `<div class="result-container"><h3>Result</h3><table class="result-table">` +
			rows.String() + `</table></div>`
	case []any:
		var items strings.Builder
		for _, item := range v {
			if isComposite(item) {
				items.WriteString("<li><pre>" + html.EscapeString(indentedJSON(item)) + "</pre></li>")
			} else {
				items.WriteString("<li>" + html.EscapeString(scalarText(item)) + "</li>")
			}
		}
		return `<div class="result-list"><h3>Results</h3><ul>` + items.String() + `</ul></div>`
	default:
		return `<div class="result-text"><h3>Result</h3><p>` +
			html.EscapeString(scalarText(payload)) + `</p></div>`
	}
}

func errorText(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		if msg, ok := m["error"].(string); ok && msg != "" {
			return msg
		}
	}
	return "unknown error"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func scalarText(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func inlineText(v any) string {
	if isComposite(v) {
		return compactJSON(v)
	}
	return scalarText(v)
}

func compactJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func indentedJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
