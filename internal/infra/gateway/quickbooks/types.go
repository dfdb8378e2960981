package quickbooks

import (
	"encoding/json"
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// Fault codes with a domain meaning
const (
	faultStaleObject    = "5010"
	faultObjectNotFound = "610"
)

// queryResponse wraps a query result; the entity list is keyed by kind
type queryResponse struct {
	QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	Fault         *Fault                     `json:"Fault,omitempty"`
}

// Fault is the error envelope of the API
type Fault struct {
	Type  string       `json:"type"`
	Error []FaultError `json:"Error"`
}

// FaultError is one entry of a fault
type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
}

// first returns the first error entry, zero value if none
func (f *Fault) first() FaultError {
	if f == nil || len(f.Error) == 0 {
		return FaultError{}
	}
	return f.Error[0]
}

type faultEnvelope struct {
	Fault *Fault `json:"Fault"`
}

// attachableResponse is the answer of a multipart upload
type attachableResponse struct {
	AttachableResponse []struct {
		Attachable *struct {
			ID string `json:"Id"`
		} `json:"Attachable,omitempty"`
		Fault *Fault `json:"Fault,omitempty"`
	} `json:"AttachableResponse"`
}

type attachableRef struct {
	EntityRef struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"EntityRef"`
}

type attachableMetadata struct {
	AttachableRef []attachableRef `json:"AttachableRef"`
	FileName      string          `json:"FileName"`
	ContentType   string          `json:"ContentType"`
	Note          string          `json:"Note,omitempty"`
}

// endpoint is the entity path segment of a kind
func endpoint(kind remote.Kind) string {
	return strings.ToLower(string(kind))
}

// quote escapes a value for the query language
func quote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
