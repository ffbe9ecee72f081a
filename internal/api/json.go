package api

import (
	"encoding/json"
	"net/http"
)

// Problem is the RFC 7807 body every handler returns on failure. Instance
// carries the request path so a failed plan or drift call can be traced
// back to the route or batch it touched.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem leaves Type at "about:blank": title plus status is enough
// to tell this API's errors apart, there is no problem-type registry.
func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}
