package job_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ordersync/conveyor/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := job.NewRegistry()

	var got emailPayload
	job.RegisterDefinition(reg, job.NewDefinition("send_email",
		func(_ context.Context, p emailPayload) (*job.Result, error) {
			got = p
			return job.OK(), nil
		},
	))

	h, ok := reg.Get("send_email")
	if !ok {
		t.Fatal("Get(send_email) not found")
	}

	payload, _ := json.Marshal(emailPayload{To: "ops@example.com", Subject: "invoice"})
	res, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.Success {
		t.Error("result.Success = false, want true")
	}
	if got.To != "ops@example.com" || got.Subject != "invoice" {
		t.Errorf("decoded payload = %+v, want To=ops@example.com Subject=invoice", got)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := job.NewRegistry()
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) ok = true, want false")
	}
}

func TestRegistry_MalformedPayload(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("send_email",
		func(_ context.Context, _ emailPayload) (*job.Result, error) {
			t.Fatal("handler must not run on malformed payload")
			return nil, nil
		},
	))

	h, _ := reg.Get("send_email")
	if _, err := h(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected unmarshal error, got nil")
	}
}

func TestRegistry_EmptyPayloadSkipsDecode(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("cleanup",
		func(_ context.Context, p struct{}) (*job.Result, error) {
			return job.OK(), nil
		},
	))

	h, _ := reg.Get("cleanup")
	if _, err := h(context.Background(), nil); err != nil {
		t.Errorf("nil payload error: %v", err)
	}
}

func TestRegistry_Types(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("a", func(_ context.Context, _ struct{}) (*job.Result, error) { return job.OK(), nil }))
	job.RegisterDefinition(reg, job.NewDefinition("b", func(_ context.Context, _ struct{}) (*job.Result, error) { return job.OK(), nil }))

	types := reg.Types()
	if len(types) != 2 {
		t.Errorf("Types() len = %d, want 2", len(types))
	}
}
