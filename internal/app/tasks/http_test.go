package tasks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskboard/service/internal/contracts"
)

type taskEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Task contracts.Task `json:"task"`
	} `json:"data"`
}

func newTestHandler(t *testing.T) (*Handler, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return NewHandler(newTestService(newMemoryRepo(), pub)), pub
}

func doJSON(t *testing.T, handler *Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskEndpoint(t *testing.T) {
	handler, pub := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{"title":"buy milk","priority":"HIGH"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "success" || body.Message != "task created" {
		t.Fatalf("envelope = %+v", body)
	}
	if body.Data.Task.Title != "buy milk" || body.Data.Task.Priority != contracts.PriorityHigh {
		t.Fatalf("task = %+v", body.Data.Task)
	}
	if got := pub.last(t); got.EventType != contracts.EventTaskCreated {
		t.Fatalf("published event = %q", got.EventType)
	}
}

func TestCreateTaskEndpointRejectsBadInput(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON: status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/", `{"title":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title: status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/", `{"title":"t","priority":"URGENT"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid priority: status = %d", rec.Code)
	}
}

func TestGetTaskEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{"title":"find me"}`)
	var created taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/"+created.Data.Task.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Data.Task.Title != "find me" {
		t.Fatalf("task = %+v", got.Data.Task)
	}
}

func TestGetTaskEndpointNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	handler, pub := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{"title":"move me"}`)
	var created taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/"+created.Data.Task.ID+"/status", `{"status":"DONE"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Data.Task.Status != contracts.StatusDone {
		t.Fatalf("task = %+v", got.Data.Task)
	}
	if event := pub.last(t); event.Metadata == nil || event.Metadata.PreviousStatus != contracts.StatusTodo {
		t.Fatalf("event metadata = %+v", event.Metadata)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/"+created.Data.Task.ID+"/status", `{"status":"ARCHIVED"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: status = %d", rec.Code)
	}
}

func TestUpdateEndpointClearsDueDateOnNull(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{"title":"dated","dueDate":"2025-06-10T00:00:00Z"}`)
	var created taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Data.Task.DueDate == nil {
		t.Fatal("due date was not set on create")
	}

	rec = doJSON(t, handler, http.MethodPut, "/"+created.Data.Task.ID, `{"dueDate":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Data.Task.DueDate != nil {
		t.Fatalf("due date = %v, want cleared", got.Data.Task.DueDate)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/", `{"title":"gone soon"}`)
	var created taskEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/"+created.Data.Task.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/"+created.Data.Task.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted task still readable: status = %d", rec.Code)
	}
}

func TestListEndpointRejectsBadFilters(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/?status=ARCHIVED", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status filter: status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/?priority=URGENT", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid priority filter: status = %d", rec.Code)
	}
}
