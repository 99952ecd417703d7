package message

import (
	"errors"
	"testing"
	"time"
)

func TestResponseErr(t *testing.T) {
	ok := OK([]byte(`{"a":1}`))
	if ok.Failed() || ok.Err() != nil {
		t.Fatalf("expect success, got %+v", ok)
	}

	failed := Fail(ErrorHandler, "boom %d", 7)
	if !failed.Failed() {
		t.Fatal("expect failure")
	}

	var callErr *CallError
	if !errors.As(failed.Err(), &callErr) {
		t.Fatalf("expect *CallError, got %T", failed.Err())
	}
	if callErr.Kind != ErrorHandler || callErr.Message != "boom 7" {
		t.Fatalf("unexpected call error: %+v", callErr)
	}
	if callErr.Error() != "HandlerError: boom 7" {
		t.Fatalf("unexpected error text: %q", callErr.Error())
	}
}

func TestEnvelopeConversion(t *testing.T) {
	req := &Envelope{Method: MethodPredict, Payload: []byte(`{"x":1}`)}
	arrived := time.Now()
	r := req.ToRequest(9, arrived)
	if r.ID != 9 || r.Method != MethodPredict || string(r.Payload) != `{"x":1}` || !r.Arrived.Equal(arrived) {
		t.Fatalf("unexpected request: %+v", r)
	}

	resp := Fail(ErrorMalformedPayload, "bad")
	env := ResponseEnvelope(MethodPredict, resp)
	back := env.Response()
	if back.Kind != ErrorMalformedPayload || back.Message != "bad" {
		t.Fatalf("unexpected response: %+v", back)
	}
}
