package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/codereview/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDataEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"json", func(w http.ResponseWriter) { response.JSON(w, map[string]string{"id": "abc"}) }, http.StatusOK},
		{"created", func(w http.ResponseWriter) { response.Created(w, map[string]string{"id": "abc"}) }, http.StatusCreated},
		{"accepted", func(w http.ResponseWriter) { response.Accepted(w, map[string]string{"id": "abc"}) }, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			data := decode(t, w)["data"].(map[string]any)
			assert.Equal(t, "abc", data["id"])
		})
	}
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCollection(t *testing.T) {
	w := httptest.NewRecorder()
	items := []map[string]string{{"id": "1"}, {"id": "2"}}

	response.Collection(w, items, response.CollectionMeta{Count: 2, Limit: 20})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"].([]any), 2)

	m := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), m["count"])
	assert.Equal(t, float64(20), m["limit"])
}

func TestCollection_UnboundedOmitsLimit(t *testing.T) {
	w := httptest.NewRecorder()
	response.Collection(w, []string{}, response.CollectionMeta{})

	m := decode(t, w)["meta"].(map[string]any)
	_, hasLimit := m["limit"]
	assert.False(t, hasLimit)
	assert.Equal(t, float64(0), m["count"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
		"files": {"at least one file is required"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	assert.Equal(t, "Invalid params", errObj["message"])
	assert.NotNil(t, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}
