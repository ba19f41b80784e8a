package remote

import (
	"encoding/json"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

const serviceName = "teamsync.remote.v1.Remote"

// Full method names.
const (
	methodFetchSince  = "/" + serviceName + "/FetchSince"
	methodFetchBefore = "/" + serviceName + "/FetchBefore"
	methodCreate      = "/" + serviceName + "/Create"
	methodUpdate      = "/" + serviceName + "/Update"
	methodDelete      = "/" + serviceName + "/Delete"
	methodSubscribe   = "/" + serviceName + "/Subscribe"
)

// Every message travels as a google.protobuf.BytesValue holding one of the
// JSON documents below.

type wireRequest struct {
	Collection models.Collection `json:"collection"`
	Scope      string            `json:"scope,omitempty"`
	Cursor     models.Cursor     `json:"cursor"`
	Limit      int               `json:"limit,omitempty"`
	ID         string            `json:"id,omitempty"`
	Item       json.RawMessage   `json:"item,omitempty"`
}

type wirePage struct {
	Items   []json.RawMessage `json:"items"`
	Deleted []string          `json:"deleted,omitempty"`
	Next    models.Cursor     `json:"next"`
	HasMore bool              `json:"has_more"`
}

type wireItems struct {
	Items []json.RawMessage `json:"items"`
}

type wireID struct {
	ID string `json:"id"`
}

type wireEvent struct {
	Kind   EventKind       `json:"kind"`
	ID     string          `json:"id"`
	Item   json.RawMessage `json:"item,omitempty"`
	Cursor models.Cursor   `json:"cursor"`
}

type wireEmpty struct{}
