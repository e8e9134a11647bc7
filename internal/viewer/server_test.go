package viewer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

type fakeSource struct {
	workers []domain.WorkerSnapshot
	captcha int
	extra   int
}

func (f *fakeSource) WorkerSnapshots() []domain.WorkerSnapshot { return f.workers }
func (f *fakeSource) CaptchaQueueLen() int                     { return f.captcha }
func (f *fakeSource) ExtraQueueLen() int                       { return f.extra }

func TestHealth_NoAuthRequired(t *testing.T) {
	s := New(&fakeSource{}, "secret", false, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestV1Routes_RejectMissingToken(t *testing.T) {
	s := New(&fakeSource{}, "secret", false, true)
	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestV1Routes_AcceptValidToken(t *testing.T) {
	s := New(&fakeSource{workers: []domain.WorkerSnapshot{{WorkerNo: 1}}}, "secret", false, true)
	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWorkers_RedactsPositionsWhenMapWorkersDisabled(t *testing.T) {
	s := New(&fakeSource{workers: []domain.WorkerSnapshot{{WorkerNo: 1, Lat: 12.5, Lon: -8.25}}}, "", false, false)
	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var got []domain.WorkerSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Lat != 0 || got[0].Lon != 0 {
		t.Fatalf("got = %+v, want lat/lon redacted to zero", got)
	}
}

func TestWorkers_ReportsPositionsWhenMapWorkersEnabled(t *testing.T) {
	s := New(&fakeSource{workers: []domain.WorkerSnapshot{{WorkerNo: 1, Lat: 12.5, Lon: -8.25}}}, "", false, true)
	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var got []domain.WorkerSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Lat != 12.5 || got[0].Lon != -8.25 {
		t.Fatalf("got = %+v, want lat/lon preserved", got)
	}
}

func TestV1Routes_NoTokenConfiguredAllowsAll(t *testing.T) {
	s := New(&fakeSource{}, "", false, true)
	req := httptest.NewRequest(http.MethodGet, "/v1/captcha-queue", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCaptchaQueue_ReportsSize(t *testing.T) {
	s := New(&fakeSource{captcha: 3}, "", false, true)
	req := httptest.NewRequest(http.MethodGet, "/v1/captcha-queue", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Body.String() != `{"size":3}`+"\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
