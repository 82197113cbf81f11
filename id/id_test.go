package id_test

import (
	"encoding/json"
	"testing"

	"github.com/ordersync/conveyor/id"
)

func TestNew_CarriesPrefix(t *testing.T) {
	tests := []struct {
		make func() id.ID
		want id.Prefix
	}{
		{id.NewJobID, id.PrefixJob},
		{id.NewWorkerID, id.PrefixWorker},
		{id.NewDLQID, id.PrefixDLQ},
		{id.NewAttemptID, id.PrefixAttempt},
	}
	for _, tt := range tests {
		got := tt.make()
		if got.IsNil() {
			t.Errorf("new %s ID is nil", tt.want)
		}
		if got.Prefix() != tt.want {
			t.Errorf("Prefix() = %q, want %q", got.Prefix(), tt.want)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-typeid", "job_!!!"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) error = nil, want error", s)
		}
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	wid := id.NewWorkerID()
	if _, err := id.ParseJobID(wid.String()); err == nil {
		t.Errorf("ParseJobID(%q) error = nil, want prefix mismatch", wid.String())
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	orig := id.NewDLQID()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var parsed id.ID
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestID_NilHandling(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if got := id.Nil.String(); got != "" {
		t.Errorf("Nil.String() = %q, want empty", got)
	}

	v, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value() error: %v", err)
	}
	if v != nil {
		t.Errorf("Nil.Value() = %v, want nil (NULL column)", v)
	}
}

func TestID_ScanValue(t *testing.T) {
	orig := id.NewJobID()
	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("scanned = %q, want %q", scanned.String(), orig.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) produced non-nil ID")
	}
}
