package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliver_SignsPayload(t *testing.T) {
	secret := "shhh"
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	d := New(srv.URL, secret, quietLogger())
	err := d.Deliver(context.Background(), Event{Type: EventCallStarted, CallID: "call_1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if !Verify([]byte(secret), gotBody, gotSig) {
		t.Error("signature does not verify against the received body")
	}
	var ev Event
	if err := json.Unmarshal(gotBody, &ev); err != nil {
		t.Fatalf("decoding delivered event: %v", err)
	}
	if ev.Type != EventCallStarted || ev.CallID != "call_1" {
		t.Errorf("delivered event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("delivery did not stamp a timestamp")
	}
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	d := New(srv.URL, "s", quietLogger())
	d.backoff = time.Millisecond
	if err := d.Deliver(context.Background(), Event{Type: EventCallEnded, CallID: "c"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("endpoint called %d times, want 3", calls.Load())
	}
}

func TestDeliver_RejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := New(srv.URL, "s", quietLogger())
	d.backoff = time.Millisecond
	if err := d.Deliver(context.Background(), Event{Type: EventCallFailed, CallID: "c"}); err == nil {
		t.Fatal("expected an error for a rejected event")
	}
	if calls.Load() != 1 {
		t.Errorf("endpoint called %d times for a 4xx, want 1", calls.Load())
	}
}

func TestDeliver_DisabledWithoutURL(t *testing.T) {
	d := New("", "s", quietLogger())
	if err := d.Deliver(context.Background(), Event{Type: EventCallStarted}); err != nil {
		t.Fatalf("disabled deliverer returned %v", err)
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	secret := []byte("s")
	payload := []byte(`{"type":"call.started"}`)
	sig := Sign(secret, payload)
	if !Verify(secret, payload, sig) {
		t.Fatal("valid signature rejected")
	}
	if Verify(secret, []byte(`{"type":"call.ended"}`), sig) {
		t.Error("tampered payload accepted")
	}
	if Verify([]byte("other"), payload, sig) {
		t.Error("wrong secret accepted")
	}
}
