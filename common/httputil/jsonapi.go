package httputil

import "net/http"

// JSONAPIResource represents a single JSON:API resource.
type JSONAPIResource struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Attributes any               `json:"attributes"`
	Links      map[string]string `json:"links,omitempty"`
}

// JSONAPIErrorObject represents a single JSON:API error.
type JSONAPIErrorObject struct {
	Status int    `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// NewJSONAPIError creates a single JSON:API error object.
func NewJSONAPIError(status int, code, title, detail string) JSONAPIErrorObject {
	return JSONAPIErrorObject{
		Status: status,
		Code:   code,
		Title:  title,
		Detail: detail,
	}
}

// WriteJSONAPIResource writes a single JSON:API resource response.
// meta is omitted when nil.
func WriteJSONAPIResource(w http.ResponseWriter, status int, resource JSONAPIResource, meta map[string]any) {
	WriteJSONAPI(w, status, document(resource, meta))
}

// WriteJSONAPICollection writes a JSON:API collection response.
// meta is omitted when nil.
func WriteJSONAPICollection(w http.ResponseWriter, status int, resources []JSONAPIResource, meta map[string]any) {
	if resources == nil {
		resources = []JSONAPIResource{}
	}
	WriteJSONAPI(w, status, document(resources, meta))
}

func document(data any, meta map[string]any) map[string]any {
	doc := map[string]any{"data": data}
	if meta != nil {
		doc["meta"] = meta
	}
	return doc
}

// WriteJSONAPIValidationError writes a 400 validation error response.
func WriteJSONAPIValidationError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusBadRequest, "validation_failed", "Validation Failed", detail)
}

// WriteJSONAPIInternalError writes a 500 internal server error response.
func WriteJSONAPIInternalError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", detail)
}
