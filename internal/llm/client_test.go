package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) Client {
	logger := zerolog.New(io.Discard)
	return NewClient(Config{BaseURL: baseURL, APIKey: "test-key", Timeout: 5 * time.Second}, &logger)
}

func TestGenerateDifferential(t *testing.T) {
	var gotAuth string
	var gotReq DifferentialRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate/differential", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(DifferentialResponse{
			SubmissionCount: 1,
			Differential:    json.RawMessage(`{"diagnoses":["ACS"]}`),
			SuggestedCDRs:   []string{"heart"},
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	resp, err := client.GenerateDifferential(context.Background(), &DifferentialRequest{
		EncounterID:    "enc-1",
		ChiefComplaint: "chest pain",
		Content:        "55M with substernal pressure",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "chest pain", gotReq.ChiefComplaint)
	assert.Equal(t, 1, resp.SubmissionCount)
	assert.Equal(t, []string{"heart"}, resp.SuggestedCDRs)
}

func TestFinalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate/finalize", r.URL.Path)
		json.NewEncoder(w).Encode(FinalizeResponse{
			SubmissionCount: 1,
			IsLocked:        true,
			Document:        "MDM text",
			QuotaRemaining:  42,
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	resp, err := client.Finalize(context.Background(), &FinalizeRequest{EncounterID: "enc-1", Mode: "build"})
	require.NoError(t, err)
	assert.Equal(t, "MDM text", resp.Document)
	assert.Equal(t, 42, resp.QuotaRemaining)
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream model unavailable"))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.GenerateDifferential(context.Background(), &DifferentialRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream model unavailable")
}

func TestNoRetryOnFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.GenerateDifferential(context.Background(), &DifferentialRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := testClient(srv.URL)
	_, err := client.GenerateDifferential(ctx, &DifferentialRequest{})
	require.Error(t, err)
}
