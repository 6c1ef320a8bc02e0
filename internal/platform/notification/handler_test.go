package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/auth"
)

func seededInbox(t *testing.T, a auth.Actor) (*MemoryInbox, uuid.UUID) {
	t.Helper()
	inbox := NewMemoryInbox()
	id := uuid.New()
	_ = inbox.Send(context.Background(), &Notification{
		ID: id, RecipientID: a.ID, RecipientRole: a.Role, Title: "hello", SentAt: time.Now(),
	})
	_ = inbox.Send(context.Background(), &Notification{
		ID: uuid.New(), RecipientID: uuid.New(), RecipientRole: a.Role, Title: "someone else", SentAt: time.Now(),
	})
	return inbox, id
}

func actorRequest(method, target string, a auth.Actor) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(auth.WithActor(req.Context(), a))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ListOwnOnly(t *testing.T) {
	me := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	inbox, _ := seededInbox(t, me)
	h := NewHandler(inbox)

	c, rec := actorRequest(http.MethodGet, "/notifications", me)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var page struct {
		Data  []Notification `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].Title != "hello" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	me := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	inbox, id := seededInbox(t, me)
	h := NewHandler(inbox)

	c, rec := actorRequest(http.MethodPost, "/", me)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n Notification
	_ = json.Unmarshal(rec.Body.Bytes(), &n)
	if !n.Read {
		t.Error("expected notification to be read")
	}
}

func TestHandler_MarkReadErrors(t *testing.T) {
	me := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	inbox, _ := seededInbox(t, me)
	h := NewHandler(inbox)

	tests := []struct {
		name string
		id   string
		code int
	}{
		{"bad id", "not-a-uuid", http.StatusBadRequest},
		{"unknown", uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := actorRequest(http.MethodPost, "/", me)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			err := h.MarkRead(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.code {
				t.Errorf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	h := NewHandler(NewMemoryInbox())
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	he, ok := h.List(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", he)
	}
}
