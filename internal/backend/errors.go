package backend

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/chefsync/onboarding/internal/apperr"
)

// decodeError classifies a non-2xx response:
//
//	409                  -> conflict
//	5xx or unreadable    -> server
//	field errors present -> validation
//	otherwise            -> rejection carrying the server text
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg, fields, ok := parseErrorBody(body)
	switch {
	case resp.StatusCode == http.StatusConflict:
		if msg == "" {
			msg = apperr.FieldMessage(fields)
		}
		return apperr.Conflict(msg)
	case resp.StatusCode >= 500:
		return apperr.Server(resp.StatusCode, msg)
	case !ok:
		return apperr.Server(resp.StatusCode, "")
	case len(fields) > 0:
		text := apperr.FieldMessage(fields)
		if msg != "" {
			text = msg + " " + text
		}
		e := apperr.Validation(text, fields)
		e.Status = resp.StatusCode
		return e
	case msg == "":
		return apperr.Server(resp.StatusCode, "")
	default:
		return apperr.Rejection(resp.StatusCode, msg)
	}
}

// parseErrorBody extracts the top-level message (message, error or detail)
// and any field errors, which may be strings or arrays of strings. ok is
// false when the body is not JSON.
func parseErrorBody(body []byte) (msg string, fields map[string][]string, ok bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", nil, false
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil, false
	}
	fields = make(map[string][]string)
	switch v := raw.(type) {
	case string:
		return v, nil, true
	case []any:
		if msgs := stringsOf(v); len(msgs) > 0 {
			fields["non_field_errors"] = msgs
		}
		return "", fields, true
	case map[string]any:
		for key, val := range v {
			switch key {
			case "message", "error", "detail":
				if s, isString := val.(string); isString && msg == "" {
					msg = s
					continue
				}
				if msgs := stringsOf(val); len(msgs) > 0 && msg == "" {
					msg = strings.Join(msgs, " ")
				}
			case "errors", "details":
				if nested, isMap := val.(map[string]any); isMap {
					for k, nv := range nested {
						if msgs := stringsOf(nv); len(msgs) > 0 {
							fields[k] = append(fields[k], msgs...)
						}
					}
				}
			default:
				if msgs := stringsOf(val); len(msgs) > 0 {
					fields[key] = msgs
				}
			}
		}
		return msg, fields, true
	default:
		return "", nil, false
	}
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
