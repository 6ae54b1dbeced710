package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterflow/rosterflow/internal/config"
	"github.com/rosterflow/rosterflow/internal/importer"
	"github.com/rosterflow/rosterflow/internal/roster"
)

func newTestServer(t *testing.T) (*Server, *roster.Memory) {
	t.Helper()
	mem := roster.NewMemory()
	store := importer.NewStore(time.Minute)
	t.Cleanup(store.Close)
	svc := importer.NewService(mem, store, importer.Options{})
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0}
	return NewServer(svc, cfg, 1<<20), mem
}

func uploadRequest(t *testing.T, csv string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "alunos.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("owner", "tester"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func postJSON(t *testing.T, path string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAPIFullPipeline(t *testing.T) {
	srv, mem := newTestServer(t)

	// Step 1: upload
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "NOME,TURMA,RA\nMaria Silva,5A,1001\nJoao Souza,5A,1002\n"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var start importer.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	require.NotEmpty(t, start.SessionID)
	assert.Equal(t, 2, start.TotalRows)

	base := "/api/imports/" + start.SessionID

	// Step 2: mapping
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, postJSON(t, base+"/mapping", map[string]any{
		"mapping": map[string]string{"NOME": "name", "TURMA": "class", "RA": "registration"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var mapped struct {
		Conflicts []importer.ConflictEntry `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mapped))
	require.Len(t, mapped.Conflicts, 2)
	assert.Equal(t, importer.ClassNew, mapped.Conflicts[0].Classification)

	// Step 3: resolutions (nothing conflicted, empty set is valid)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, postJSON(t, base+"/resolutions", map[string]any{
		"resolutions": map[string]importer.Resolution{},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Step 4: commit
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result importer.CommitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, mem.Len())

	// Status reflects the terminal state
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status importer.StatusInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, importer.StateImported, status.State)
}

func TestAPIErrorResponses(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown session",
			req:        httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   "SES001",
		},
		{
			name:       "no file in upload",
			req:        postJSON(t, "/api/imports/", map[string]any{}),
			wantStatus: http.StatusBadRequest,
			wantCode:   "CSV001",
		},
		{
			name: "commit on unknown session",
			req:  httptest.NewRequest(http.MethodPost, "/api/imports/nope/commit", nil),

			wantStatus: http.StatusNotFound,
			wantCode:   "SES001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, tt.req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestAPIMappingErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "NOME,TURMA,RA\nMaria Silva,5A,1001\n"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var start importer.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	base := "/api/imports/" + start.SessionID

	// Missing required fields
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, postJSON(t, base+"/mapping", map[string]any{
		"mapping": map[string]string{"NOME": "name"},
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "MAP001", resp.Code)

	// Out-of-order step: resolutions before a valid mapping
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, postJSON(t, base+"/resolutions", map[string]any{
		"resolutions": map[string]importer.Resolution{},
	}))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestAPIHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(0), health["active_sessions"])
}

func TestAPISecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAPIRequestsCarryTimeoutDeadline(t *testing.T) {
	srv, _ := newTestServer(t)

	var hasDeadline bool
	srv.Router().Get("/deadline-check", func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deadline-check", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, hasDeadline, "request context should carry the server timeout deadline")
}

func TestAPIRejectsOversizedUpload(t *testing.T) {
	mem := roster.NewMemory()
	store := importer.NewStore(time.Minute)
	t.Cleanup(store.Close)
	svc := importer.NewService(mem, store, importer.Options{})
	srv := NewServer(svc, config.ServerConfig{}, 256) // tiny body cap

	big := "NOME,TURMA,RA\n"
	for i := 0; i < 100; i++ {
		big += fmt.Sprintf("Student %d,5A,%d\n", i, 1000+i)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, big))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.ActiveSessions())
}
