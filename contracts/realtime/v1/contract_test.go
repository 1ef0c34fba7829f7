package v1

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestInboundValidate(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{`{"command":"getNamespaces"}`, false},
		{`{"command":"getTables","payload":{"namespace":"USER"}}`, false},
		{`{"payload":{}}`, true},
		{`{"command":"   "}`, true},
	}

	for _, tt := range tests {
		var in Inbound
		if err := json.Unmarshal([]byte(tt.raw), &in); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if err := in.Validate(); (err != nil) != tt.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tt.raw, err, tt.wantErr)
		}
	}
}

func TestWriteResultEmbedsEcho(t *testing.T) {
	idx := 3
	b, err := json.Marshal(WriteResultPayload{
		EditEcho: EditEcho{RequestID: "r1", RowIndex: &idx, Column: "Name"},
		Success:  false,
		Error:    &ErrorPayload{Code: CodeQueryFailed, Message: "constraint"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s := string(b)
	for _, want := range []string{`"requestId":"r1"`, `"rowIndex":3`, `"column":"Name"`, `"success":false`, `"code":"QUERY_FAILED"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}
}

func TestPayloadValidation(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		p       interface{ Validate() error }
		wantErr bool
	}{
		{"getTables ok", GetTablesPayload{Namespace: "USER"}, false},
		{"getTables missing", GetTablesPayload{}, true},
		{"select missing table", SelectTablePayload{Namespace: "USER"}, true},
		{"select ok", SelectTablePayload{Namespace: "USER", TableName: "Sample.Person"}, false},
		{"requestData negative", RequestDataPayload{Page: &neg}, true},
		{"requestData nil page", RequestDataPayload{}, false},
		{"paginate bad", PaginatePayload{Direction: "up"}, true},
		{"paginate prev", PaginatePayload{Direction: DirectionPrev}, false},
		{"update no changes", UpdateRowPayload{PrimaryKey: map[string]any{"ID": 1}}, true},
		{"insert empty", InsertRowPayload{}, true},
		{"delete ok", DeleteRowPayload{PrimaryKey: map[string]any{"ID": 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
