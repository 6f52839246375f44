package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/service"
)

func notarizeInput(filename, body string) service.NotarizeInput {
	return service.NotarizeInput{
		Filename:    filename,
		ContentType: "image/jpeg",
		Body:        strings.NewReader(body),
	}
}

// uploadRequest builds a multipart POST /notarize. An empty filename omits
// the file part.
func uploadRequest(t *testing.T, filename, content, metadata string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	if metadata != "" {
		require.NoError(t, mw.WriteField("metadata", metadata))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/notarize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	msg, _ := body["error"].(string)
	return msg
}

func TestNotarizeHandler_Notarize(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "pro", 1000)

	content := "raw sensor bytes"
	rec := httptest.NewRecorder()
	env.notarize.Notarize(rec, withUser(uploadRequest(t, "frame.jpg", content, `{"camera":"x100"}`), user))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.NotarizeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	sum := sha256.Sum256([]byte(content))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, hex.EncodeToString(sum[:]), resp.Evidence.SHA256Hash)
	assert.True(t, strings.HasPrefix(resp.Evidence.IPFSCID, "bafkrei"))
	assert.Equal(t, "https://ipfs.test/ipfs/"+resp.Evidence.IPFSCID, resp.Evidence.IPFSURL)
	assert.NotEmpty(t, resp.Evidence.SolanaTx)
	assert.Equal(t, model.SignatureUnsigned, resp.Evidence.C2PAVerification)

	stored, err := env.notary.Get(context.Background(), user.ID, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "frame.jpg", stored.OriginalFilename)
	assert.Equal(t, map[string]string{"camera": "x100"}, stored.Metadata)
}

func TestNotarizeHandler_NotarizeRejections(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "pro", 1000)

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantMsg  string
	}{
		{
			name:     "not multipart",
			req:      httptest.NewRequest(http.MethodPost, "/notarize", strings.NewReader("{}")),
			wantCode: http.StatusBadRequest,
			wantMsg:  "Expected a multipart upload with a file field",
		},
		{
			name:     "missing file",
			req:      uploadRequest(t, "", "", `{"a":"b"}`),
			wantCode: http.StatusBadRequest,
			wantMsg:  "Missing file field",
		},
		{
			name:     "empty file",
			req:      uploadRequest(t, "empty.bin", "", ""),
			wantCode: http.StatusBadRequest,
			wantMsg:  "File is empty",
		},
		{
			name:     "metadata not an object of strings",
			req:      uploadRequest(t, "a.jpg", "abc", `{"n":1}`),
			wantCode: http.StatusBadRequest,
			wantMsg:  "metadata must be a JSON object of strings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.notarize.Notarize(rec, withUser(tt.req, user))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
		})
	}

	fresh, err := env.store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, fresh.NotarizationsThisMonth, "rejected uploads must not consume quota")
}

func TestNotarizeHandler_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "free", 1)

	rec := httptest.NewRecorder()
	env.notarize.Notarize(rec, withUser(uploadRequest(t, "one.jpg", "first", ""), user))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.notarize.Notarize(rec, withUser(uploadRequest(t, "two.jpg", "second", ""), user))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, decodeError(t, rec), "Monthly notarization limit reached")
}

func TestNotarizeHandler_Verify(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "pro", 1000)

	n, err := env.notary.Notarize(context.Background(), user, notarizeInput("doc.jpg", "verifiable"))
	require.NoError(t, err)

	verify := func(hash, cid string) *httptest.ResponseRecorder {
		q := url.Values{}
		if hash != "" {
			q.Set("sha256_hash", hash)
		}
		if cid != "" {
			q.Set("ipfs_cid", cid)
		}
		rec := httptest.NewRecorder()
		env.notarize.Verify(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verify?"+q.Encode(), nil))
		return rec
	}

	t.Run("match", func(t *testing.T) {
		rec := verify(strings.ToUpper(n.SHA256Hash), n.IPFSCID)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Verified bool           `json:"verified"`
			ID       string         `json:"id"`
			Evidence model.Evidence `json:"evidence"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.True(t, body.Verified)
		assert.Equal(t, n.ID, body.ID)
		assert.Equal(t, n.IPFSCID, body.Evidence.IPFSCID)
	})

	t.Run("no match", func(t *testing.T) {
		rec := verify(strings.Repeat("0", 64), n.IPFSCID)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, false, body["verified"])
	})

	t.Run("missing parameter", func(t *testing.T) {
		rec := verify(n.SHA256Hash, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNotarizeHandler_GetAndList(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser(t, "pro", 1000)
	other := env.seedUser(t, "pro", 1000)

	n, err := env.notary.Notarize(context.Background(), owner, notarizeInput("mine.jpg", "owned"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	env.notarize.Get(rec, withUser(withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", n.ID), owner))
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Notarization
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.SHA256Hash, got.SHA256Hash)

	rec = httptest.NewRecorder()
	env.notarize.Get(rec, withUser(withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", n.ID), other))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	env.notarize.List(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notarizations?limit=5", nil), owner))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Notarizations []model.Notarization `json:"notarizations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Notarizations, 1)
	assert.Equal(t, n.ID, list.Notarizations[0].ID)

	rec = httptest.NewRecorder()
	env.notarize.List(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notarizations", nil), other))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notarizations":[]}`, rec.Body.String())
}

func TestNotarizeHandler_Usage(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "pro", 1000)
	user.NotarizationsThisMonth = 3

	rec := httptest.NewRecorder()
	env.notarize.Usage(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil), user))
	require.Equal(t, http.StatusOK, rec.Code)

	var usage model.UsageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&usage))
	assert.Equal(t, "pro", usage.Tier)
	assert.Equal(t, 1000, usage.MonthlyLimit)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 997, usage.Remaining)
	assert.True(t, usage.APIAccess)
}
