package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/congo-pay/cardrail/internal/gateway"
)

func railServer(t *testing.T, handler http.HandlerFunc) *HTTPRail {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPRail(HTTPRailConfig{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: 200 * time.Millisecond})
}

func sample() Disbursement {
	return Disbursement{Reference: "payout_1", PhoneNumber: "+237670000000", Operator: "MTN", Amount: dec("1500"), Currency: "XAF", Narration: "n"}
}

func TestHTTPRailLiquidity(t *testing.T) {
	rail := railServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance" || r.URL.Query().Get("currency") != "XAF" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_, _ = w.Write([]byte(`{"currency":"XAF","available":"1000"}`))
	})
	got, err := rail.Liquidity(context.Background(), "XAF")
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !got.Equal(dec("1000")) {
		t.Fatalf("expected 1000, got %s", got)
	}
}

func TestHTTPRailDisburse(t *testing.T) {
	var got disbursePayload
	rail := railServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"d1","reference":"payout_1","status":"SUCCESSFUL"}`))
	})
	rc, err := rail.Disburse(context.Background(), sample())
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if rc.TransactionID != "d1" || got.Reference != "payout_1" || got.Amount != "1500" {
		t.Fatalf("unexpected receipt %+v for payload %+v", rc, got)
	}
}

func TestHTTPRailConflictLooksUpOriginal(t *testing.T) {
	rail := railServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"duplicate reference"}`))
		case r.URL.Path == "/disbursements/payout_1":
			_, _ = w.Write([]byte(`{"id":"d-original","status":"COMPLETED"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	rc, err := rail.Disburse(context.Background(), sample())
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if rc.TransactionID != "d-original" {
		t.Fatalf("expected the original receipt, got %+v", rc)
	}
}

func TestHTTPRailClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, `{"message":"upstream"}`, gateway.ErrUnknownOutcome},
		{"insufficient funds", http.StatusPaymentRequired, `{"message":"Insufficient balance"}`, ErrLiquidityShort},
		{"bad request", http.StatusBadRequest, `{"message":"invalid msisdn"}`, ErrRejected},
		{"failed status", http.StatusOK, `{"id":"d1","status":"FAILED","message":"blocked"}`, ErrRejected},
		{"accepted without id", http.StatusOK, `{"status":"PENDING"}`, gateway.ErrUnknownOutcome},
		{"unknown status", http.StatusOK, `{"id":"d1","status":"WEIRD"}`, gateway.ErrUnknownOutcome},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rail := railServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := rail.Disburse(context.Background(), sample())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHTTPRailTimeoutIsUnknown(t *testing.T) {
	rail := railServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	_, err := rail.Disburse(context.Background(), sample())
	if !errors.Is(err, gateway.ErrUnknownOutcome) {
		t.Fatalf("expected unknown outcome, got %v", err)
	}
}

func TestStaticRailDrawsDownAndIsIdempotent(t *testing.T) {
	rail := NewStaticRail(nil)
	rail.SetLiquidity("xaf", dec("2000"))
	ctx := context.Background()

	first, err := rail.Disburse(ctx, sample())
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	again, err := rail.Disburse(ctx, sample())
	if err != nil || again.TransactionID != first.TransactionID {
		t.Fatalf("expected the same receipt, got %+v, %v", again, err)
	}
	left, _ := rail.Liquidity(ctx, "XAF")
	if !left.Equal(dec("500")) {
		t.Fatalf("expected 500 left, got %s", left)
	}
	d := sample()
	d.Reference = "payout_2"
	if _, err := rail.Disburse(ctx, d); !errors.Is(err, ErrLiquidityShort) {
		t.Fatalf("expected shortfall, got %v", err)
	}
}
