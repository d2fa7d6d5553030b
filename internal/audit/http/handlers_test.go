package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

type stubTrailService struct {
	known    uuid.UUID
	events   []audit.Event
	lastNote audit.NoteInput
}

func (s *stubTrailService) check(orderID uuid.UUID) error {
	if orderID != s.known {
		return fmt.Errorf("order %s: %w", orderID, shared.ErrNotFound)
	}
	return nil
}

func (s *stubTrailService) RecordNote(ctx context.Context, in audit.NoteInput) (audit.Note, error) {
	if err := s.check(in.OrderID); err != nil {
		return audit.Note{}, err
	}
	s.lastNote = in
	return audit.Note{ID: uuid.New(), OrderID: in.OrderID, Note: in.Note, Visibility: in.Visibility}, nil
}

func (s *stubTrailService) History(ctx context.Context, orderID uuid.UUID) ([]audit.Event, error) {
	return s.events, s.check(orderID)
}

func (s *stubTrailService) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]audit.StatusChange, error) {
	return []audit.StatusChange{}, s.check(orderID)
}

func (s *stubTrailService) Notes(ctx context.Context, orderID uuid.UUID) ([]audit.Note, error) {
	return []audit.Note{}, s.check(orderID)
}

func (s *stubTrailService) Modifications(ctx context.Context, orderID uuid.UUID) ([]audit.Modification, error) {
	return []audit.Modification{}, s.check(orderID)
}

func newRouter(service TrailService, principal *shared.Principal) http.Handler {
	r := chi.NewRouter()
	if principal != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), *principal)))
			})
		})
	}
	NewHandler(nil, service).MountRoutes(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4100"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func sampleEvents(orderID uuid.UUID) []audit.Event {
	at := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	return audit.MergeHistory(
		[]audit.StatusChange{{OrderID: orderID, FromStatus: "pending", ToStatus: "confirmed", Actor: "rep-2", Timestamp: at.Add(time.Minute)}},
		[]audit.Note{{OrderID: orderID, Note: "leave at door", Visibility: audit.VisibilityExternal, Actor: "rep-2", Timestamp: at}},
		nil,
	)
}

func TestAddNoteReturnsID(t *testing.T) {
	orderID := uuid.New()
	service := &stubTrailService{known: orderID}
	router := newRouter(service, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})

	rr := serve(router, http.MethodPost, "/orders/"+orderID.String()+"/notes", `{"note":"call first","visibility":"external"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		NoteID uuid.UUID `json:"noteId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.NoteID == uuid.Nil {
		t.Fatalf("expected note id in response: %s", rr.Body.String())
	}
	if service.lastNote.Visibility != audit.VisibilityExternal {
		t.Fatalf("unexpected visibility: %q", service.lastNote.Visibility)
	}
}

func TestAddNoteValidation(t *testing.T) {
	orderID := uuid.New()
	router := newRouter(&stubTrailService{known: orderID}, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})

	cases := map[string]string{
		"missing note":   `{"visibility":"internal"}`,
		"bad visibility": `{"note":"x","visibility":"public"}`,
		"unknown field":  `{"note":"x","pinned":true}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rr := serve(router, http.MethodPost, "/orders/"+orderID.String()+"/notes", payload)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	router := newRouter(&stubTrailService{known: uuid.New()}, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})
	for _, suffix := range []string{"status-history", "notes", "history", "modifications"} {
		rr := serve(router, http.MethodGet, "/orders/"+uuid.NewString()+"/"+suffix, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", suffix, rr.Code)
		}
	}
	rr := serve(router, http.MethodGet, "/orders/not-a-uuid/history", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rr.Code)
	}
}

func TestHistoryJSON(t *testing.T) {
	orderID := uuid.New()
	router := newRouter(&stubTrailService{known: orderID, events: sampleEvents(orderID)}, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})
	rr := serve(router, http.MethodGet, "/orders/"+orderID.String()+"/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		History []audit.Event `json:"history"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.History) != 2 || body.History[0].Type != audit.EventNote {
		t.Fatalf("unexpected history: %+v", body.History)
	}
}

func TestExportCSV(t *testing.T) {
	orderID := uuid.New()
	router := newRouter(&stubTrailService{known: orderID, events: sampleEvents(orderID)}, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})
	rr := serve(router, http.MethodGet, "/orders/"+orderID.String()+"/history.csv", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[2][3] != "pending -> confirmed" {
		t.Fatalf("unexpected summary: %q", records[2][3])
	}
}

func TestExportRateLimited(t *testing.T) {
	orderID := uuid.New()
	router := newRouter(&stubTrailService{known: orderID}, &shared.Principal{TenantID: uuid.New(), Actor: "rep-2"})
	path := "/orders/" + orderID.String() + "/history.csv"
	for i := 0; i < rateLimit; i++ {
		if rr := serve(router, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	if rr := serve(router, http.MethodGet, path, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestRateLimitKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:9000"
	key, err := rateLimitKey(req)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if !strings.HasPrefix(key, "ip:") {
		t.Fatalf("expected ip key, got %s", key)
	}
}
