package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/testutil"
)

func testToken() string {
	if token := os.Getenv("VAPI_TOKEN"); token != "" {
		return token
	}
	return "test-token"
}

func TestClient_CreateCall(t *testing.T) {
	if os.Getenv("VAPI_TOKEN") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: VAPI_TOKEN not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "telephony_create_call")
	defer cleanup()

	c := NewClient(testToken(), WithHTTPClient(testutil.VCRHTTPClient(recorder)))

	call, err := c.CreateCall(context.Background(), domain.CreateCallRequest{
		AssistantID:   "asst_123",
		PhoneNumberID: "pn_456",
		Customer:      domain.Customer{Name: "Jane Doe", Number: "+15555550123"},
	})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	if call.ID != "call_789" {
		t.Errorf("ID = %q, want call_789", call.ID)
	}
	if call.Status != domain.CallStatusQueued {
		t.Errorf("Status = %q, want queued", call.Status)
	}
	if call.Monitor.ListenURL == "" {
		t.Error("expected a monitor listen URL")
	}
	if call.Customer.Number != "+15555550123" {
		t.Errorf("Customer.Number = %q", call.Customer.Number)
	}
	if call.PhoneNumberID != "pn_456" {
		t.Errorf("PhoneNumberID = %q, want pn_456", call.PhoneNumberID)
	}
}

func TestClient_GetCall(t *testing.T) {
	if os.Getenv("VAPI_TOKEN") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: VAPI_TOKEN not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "telephony_get_call")
	defer cleanup()

	c := NewClient(testToken(), WithHTTPClient(testutil.VCRHTTPClient(recorder)))

	call, err := c.GetCall(context.Background(), "call_789")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if call.Status != domain.CallStatusInProgress {
		t.Errorf("Status = %q, want in-progress", call.Status)
	}
}

func TestClient_SendsBearerTokenAndBody(t *testing.T) {
	var gotAuth string
	var gotBody domain.CreateCallRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost || r.URL.Path != "/call" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"call_1","status":"queued","monitor":{"listenUrl":"wss://example/listen"}}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL+"/"))
	if _, err := c.CreateCall(context.Background(), domain.CreateCallRequest{
		AssistantID:   "a",
		PhoneNumberID: "p",
		Customer:      domain.Customer{Name: "n", Number: "+1"},
	}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
	if gotBody.AssistantID != "a" || gotBody.PhoneNumberID != "p" || gotBody.Customer.Number != "+1" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"string message", http.StatusBadRequest, `{"message":"customer.number must be E.164","error":"Bad Request"}`, "customer.number must be E.164"},
		{"list message", http.StatusBadRequest, `{"message":["assistantId is invalid","phoneNumberId is invalid"]}`, "assistantId is invalid; phoneNumberId is invalid"},
		{"plain body", http.StatusBadGateway, "upstream down", "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("secret", WithBaseURL(srv.URL))
			_, err := c.GetCall(context.Background(), "call_1")
			if !errors.Is(err, domain.ErrCallControl) {
				t.Fatalf("GetCall() error = %v, want ErrCallControl", err)
			}

			e, _ := domain.AsError(err)
			if e.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", e.StatusCode, tt.status)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", e.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_GetCallRequiresID(t *testing.T) {
	c := NewClient("secret")
	if _, err := c.GetCall(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("GetCall(\"\") error = %v, want ErrInvalidInput", err)
	}
}
