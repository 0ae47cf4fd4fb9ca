package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryClientRegistersSchema(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), subjectFor("activity_roster_events"), rosterChangedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)

	require.Equal(t, "/subjects/activity_roster_events-value/versions", gotPath)
	require.Equal(t, "application/vnd.schemaregistry.v1+json", gotContentType)
	require.Equal(t, "JSON", gotBody["schemaType"])
	require.JSONEq(t, rosterChangedSchema, gotBody["schema"])
}

func TestSchemaRegistryClientSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_code":42201,"message":"invalid schema"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.ErrorContains(t, err, "status 422")
	require.ErrorContains(t, err, "invalid schema")
}
