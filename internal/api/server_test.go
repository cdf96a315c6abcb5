package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/iso_agent/internal/controller"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/signal"
	"github.com/dgnsrekt/iso_agent/internal/tabstate"
)

type fakeService struct {
	exceptions []string
	sweepErr   error
	tabErr     error
}

func (f *fakeService) ListExceptions(_ context.Context) ([]string, error) {
	return f.exceptions, nil
}

func (f *fakeService) AddException(_ context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", host.NewError(host.CodeValidation, "domain is required", nil)
	}
	domain := strings.ToLower(strings.TrimSpace(raw))
	f.exceptions = append(f.exceptions, domain)
	return domain, nil
}

func (f *fakeService) RemoveException(_ context.Context, raw string) (string, error) {
	return strings.ToLower(raw), nil
}

func (f *fakeService) TabStatus(_ context.Context, tabID host.TabID) (controller.TabStatus, error) {
	if f.tabErr != nil {
		return controller.TabStatus{}, f.tabErr
	}
	return controller.TabStatus{TabID: tabID, State: tabstate.PanelNoTrackers}, nil
}

func (f *fakeService) Sweep(_ context.Context) (string, error) {
	if f.sweepErr != nil {
		return "", f.sweepErr
	}
	return "sweep-1", nil
}

func (f *fakeService) OracleStatus() controller.OracleStatus {
	return controller.OracleStatus{Connected: true, URL: "ws://127.0.0.1:9333"}
}

func (f *fakeService) TrackedDomains() []string { return []string{"tiktok.com"} }

func (f *fakeService) ContainerID() host.ContainerID { return "container-tiktok" }

func newTestServer(t *testing.T, svc *fakeService) (*httptest.Server, *signal.Broker) {
	t.Helper()
	broker := signal.NewBroker()
	srv := httptest.NewServer(NewServer(svc, broker))
	t.Cleanup(srv.Close)
	return srv, broker
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	var body struct {
		Status    string `json:"status"`
		Container string `json:"container"`
	}
	if code := getJSON(t, srv.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body.Status != "ok" || body.Container != "container-tiktok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestListExceptions(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{exceptions: []string{"example.com"}})

	var body struct {
		Domains []string `json:"domains"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/exceptions", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(body.Domains) != 1 || body.Domains[0] != "example.com" {
		t.Fatalf("domains = %v", body.Domains)
	}
}

func TestAddException(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, err := http.Post(srv.URL+"/api/v1/exceptions", "application/json",
		strings.NewReader(`{"domain":"Example.com"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Domain != "example.com" {
		t.Fatalf("domain = %q, want example.com", body.Domain)
	}
}

func TestAddExceptionValidationMapsTo400(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, err := http.Post(srv.URL+"/api/v1/exceptions", "application/json",
		strings.NewReader(`{"domain":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRemoveException(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/exceptions/example.com", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestTabStateNotFoundMapsTo404(t *testing.T) {
	svc := &fakeService{tabErr: host.NewError(host.CodeTabNotFound, "tab not found", nil)}
	srv, _ := newTestServer(t, svc)

	if code := getJSON(t, srv.URL+"/api/v1/tabs/tab-9/state", nil); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, err := http.Post(srv.URL+"/api/v1/sweep", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		SweepID string `json:"sweep_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SweepID != "sweep-1" {
		t.Fatalf("sweep_id = %q", body.SweepID)
	}
}

func TestSweepCDPUnavailableMapsTo502(t *testing.T) {
	svc := &fakeService{sweepErr: host.NewError(host.CodeCDPUnavailable, "browser gone", nil)}
	srv, _ := newTestServer(t, svc)

	resp, err := http.Post(srv.URL+"/api/v1/sweep", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestOracleStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	var body controller.OracleStatus
	if code := getJSON(t, srv.URL+"/api/v1/oracle", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !body.Connected {
		t.Fatal("connected = false, want true")
	}
}

func TestEventStream(t *testing.T) {
	srv, broker := newTestServer(t, &fakeService{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Subscription happens after the handler flushes headers, so poll until
	// the broker sees the client before publishing.
	for i := 0; i < 100 && broker.ClientCount() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	broker.Publish(signal.Event{TabID: "tab-1", Kind: signal.KindBlocked, URL: "https://www.tiktok.com/embed"})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if eventLine != string(signal.KindBlocked) {
		t.Fatalf("event = %q, want %q", eventLine, signal.KindBlocked)
	}
	var evt signal.Event
	if err := json.Unmarshal([]byte(dataLine), &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.TabID != "tab-1" {
		t.Fatalf("tab_id = %q, want tab-1", evt.TabID)
	}
}
