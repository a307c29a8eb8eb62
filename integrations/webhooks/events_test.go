package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var receivedSignature, receivedEvent string
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if len(body) == 0 {
			t.Errorf("expected body")
		}
		receivedBody = body
		receivedSignature = r.Header.Get("X-Mycelix-Signature")
		receivedEvent = r.Header.Get("X-Mycelix-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	err = dispatcher.EnqueuePaymentProcessed(PaymentProcessedPayload{
		TxHash:      "0xabc",
		BlockNumber: 12,
		SongHash:    "0xdef",
		Listener:    "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B",
		AmountWei:   "1000",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return receivedSignature != "" }, time.Second)
	if receivedEvent != string(EventPaymentProcessed) {
		t.Fatalf("expected event header %s got %s", EventPaymentProcessed, receivedEvent)
	}
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(receivedBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if receivedSignature != want {
		t.Fatalf("signature mismatch: got %s want %s", receivedSignature, want)
	}
	var payload PaymentProcessedPayload
	if err := json.Unmarshal(receivedBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != EventPaymentProcessed || payload.AmountWei != "1000" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.DeliveryID == "" {
		t.Fatal("expected generated delivery id")
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	err = dispatcher.EnqueueSongRegistered(SongRegisteredPayload{
		TxHash:   "0xabc",
		SongHash: "0xdef",
		Artist:   "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherRequiresEndpointAndSecret(t *testing.T) {
	if _, err := NewDispatcher("", []byte("secret")); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewDispatcher("http://localhost:9", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	// One delivery occupies the worker; the rest fill the buffer. The
	// overflow enqueue must fail immediately instead of blocking.
	var dropped error
	for i := 0; i < cap(dispatcher.queue)+2; i++ {
		err := dispatcher.EnqueuePaymentProcessed(PaymentProcessedPayload{TxHash: "0xabc", AmountWei: "1"})
		if err != nil {
			dropped = err
			break
		}
	}
	if dropped == nil {
		t.Fatal("expected overflow enqueue to fail")
	}
}

func TestDispatcherRejectsEnqueueAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Close()
	if err := dispatcher.EnqueueSongRegistered(SongRegisteredPayload{TxHash: "0xabc"}); err == nil {
		t.Fatal("expected enqueue to fail after close")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
