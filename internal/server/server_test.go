package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/collection-aggregator/internal/converter"
	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
)

const sampleCSV = "Branch Name,Officer Name,Officer ID,Account ID,DPD Days,Regular Demand,Cumulative Demand,Collection\n" +
	"B1,Jane Doe,E100,A1,0,1000,2000,1000\n" +
	"B1,Jane Doe,E100,A2,15,500,500,234\n" +
	"B2,Raj,E200,A3,95,300,900,0\n"

type stubEngine struct {
	result  *types.Result
	err     error
	include *bool
}

func (s *stubEngine) ParseWithFallback(_ []byte, includeAccounts bool) (*types.Result, error) {
	s.include = &includeAccounts
	return s.result, s.err
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, s *Server, query string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, uploadField, "raw.csv", content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload"+query, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestHealth(t *testing.T) {
	s := New(&stubEngine{}, Options{}, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rec))
}

func TestUpload_AggregatesWithEngine(t *testing.T) {
	engine := converter.New(converter.DefaultOptions(), nil)
	s := New(engine, Options{MaxUploadBytes: 1 << 20, IncludeAccounts: true}, nil)

	rec := upload(t, s, "", []byte(sampleCSV))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode(t, rec)
	assert.Equal(t, "ok", doc["status"])
	meta := doc["meta"].(map[string]any)
	assert.Equal(t, 3.0, meta["total_rows"])
	assert.Equal(t, 2.0, meta["total_branches"])

	jane := doc["branches"].(map[string]any)["B1"].(map[string]any)["officers"].(map[string]any)["Jane Doe"].(map[string]any)
	assert.Len(t, jane["accounts"].([]any), 2)
}

func TestUpload_AccountsParameter(t *testing.T) {
	stub := &stubEngine{result: &types.Result{Status: types.StatusOK}}
	s := New(stub, Options{IncludeAccounts: true}, nil)

	rec := upload(t, s, "?accounts=false", []byte(sampleCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.include)
	assert.False(t, *stub.include)

	rec = upload(t, s, "", []byte(sampleCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *stub.include)

	rec = upload(t, s, "?accounts=maybe", []byte(sampleCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_HeaderNotFoundIs400(t *testing.T) {
	engine := converter.New(converter.DefaultOptions(), nil)
	s := New(engine, Options{}, nil)

	rec := upload(t, s, "", []byte("a,b,c\n1,2,3\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	doc := decode(t, rec)
	assert.Equal(t, "error", doc["status"])
	assert.Contains(t, doc["message"], "Could not find expected columns")
}

func TestUpload_InternalErrorIs500(t *testing.T) {
	s := New(&stubEngine{err: errors.New("disk on fire")}, Options{}, nil)

	rec := upload(t, s, "", []byte(sampleCSV))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"status": "error", "message": "Failed to process file"}, decode(t, rec))
}

func TestUpload_ValidationErrorMessagePassesThrough(t *testing.T) {
	s := New(&stubEngine{err: validation.Errorf("The uploaded file is empty.")}, Options{}, nil)

	rec := upload(t, s, "", []byte(sampleCSV))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The uploaded file is empty.", decode(t, rec)["message"])
}

func TestUpload_TooLarge(t *testing.T) {
	s := New(&stubEngine{}, Options{MaxUploadBytes: 1 << 20}, nil)

	rec := upload(t, s, "", bytes.Repeat([]byte("x"), 2<<20))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestUpload_TooLargeWithoutContentLength(t *testing.T) {
	s := New(&stubEngine{}, Options{MaxUploadBytes: 1 << 20}, nil)

	body, contentType := multipartBody(t, uploadField, "raw.csv", bytes.Repeat([]byte("x"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "The uploaded file exceeds the 1 MB limit.", decode(t, rec)["message"])
}

func TestUpload_FileAfterOtherFields(t *testing.T) {
	stub := &stubEngine{result: &types.Result{Status: types.StatusOK, Branches: map[string]*types.BranchNode{}}}
	s := New(stub, Options{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("month", "October"))
	require.NoError(t, mw.WriteField(uploadField, "not a file"))
	fw, err := mw.CreateFormFile(uploadField, "raw.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpload_NotMultipart(t *testing.T) {
	s := New(&stubEngine{}, Options{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(sampleCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Expected a multipart form upload.", decode(t, rec)["message"])
}

func TestUpload_MissingFile(t *testing.T) {
	s := New(&stubEngine{}, Options{}, nil)

	body, contentType := multipartBody(t, "other", "raw.csv", []byte(sampleCSV))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file was uploaded.", decode(t, rec)["message"])
}

func TestMetrics(t *testing.T) {
	stub := &stubEngine{result: &types.Result{
		Status: types.StatusOK,
		Meta:   types.Meta{TotalRows: 7, Fallback: true, FallbackReason: types.FallbackRowEstimate},
	}}
	s := New(stub, Options{}, nil)
	require.Equal(t, http.StatusOK, upload(t, s, "", []byte(sampleCSV)).Code)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `aggregator_uploads_total{outcome="ok"} 1`), text)
	assert.Contains(t, text, "aggregator_rows_aggregated_total 7")
	assert.Contains(t, text, `aggregator_fallbacks_total{reason="row_estimate"} 1`)
}
