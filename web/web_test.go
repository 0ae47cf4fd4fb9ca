package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesEmbeddedAssets(t *testing.T) {
	for _, name := range []string{"/", "/app.js", "/styles.css"} {
		rr := httptest.NewRecorder()
		Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, name, nil))
		require.Equal(t, http.StatusOK, rr.Code, name)
		require.NotZero(t, rr.Body.Len(), name)
	}
}
