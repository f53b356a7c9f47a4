//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidesk-labs/kbengine/internal/api/handlers"
	"github.com/aidesk-labs/kbengine/internal/repository"
	"github.com/aidesk-labs/kbengine/internal/server"
	"github.com/aidesk-labs/kbengine/internal/service"
	"github.com/aidesk-labs/kbengine/internal/testutil"
	"github.com/aidesk-labs/kbengine/internal/vector"
)

const embeddingDims = 768

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a pgvector
// container and an in-process server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Get performs a GET request scoped to the given tenant
func (e *E2ETestEnv) Get(path, tenantID string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, tenantID)
}

// Post performs a POST request scoped to the given tenant
func (e *E2ETestEnv) Post(path string, body interface{}, tenantID string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, tenantID)
}

// Delete performs a DELETE request scoped to the given tenant
func (e *E2ETestEnv) Delete(path, tenantID string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, tenantID)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, tenantID string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires the full stack against the test database with a
// deterministic in-process embedder
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	backend := vector.BackendNative
	repo := repository.NewChunkRepository(pool, backend)
	embedder := &hashEmbedder{dims: embeddingDims}

	ingestSvc := service.NewIngestService(repo, embedder, nil)
	searchSvc := service.NewSearchService(repo, embedder, backend, service.DefaultScoringConfig(), nil)
	lifecycleSvc := service.NewLifecycleService(repo, embedder, nil)

	router := server.NewRouter(server.RouterConfig{
		KBHandler: handlers.NewKBHandler(ingestSvc, searchSvc, lifecycleSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// hashEmbedder derives deterministic unit vectors from text content so
// identical texts embed identically without an external provider
type hashEmbedder struct {
	dims int
}

func (h *hashEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))

	v := make([]float32, h.dims)
	var block [40]byte
	copy(block[:32], seed[:])
	for i := 0; i < h.dims; i += 8 {
		binary.LittleEndian.PutUint64(block[32:], uint64(i))
		sum := sha256.Sum256(block[:])
		for j := 0; j < 8 && i+j < h.dims; j++ {
			bits := binary.LittleEndian.Uint32(sum[j*4 : j*4+4])
			v[i+j] = float32(bits%2000)/1000 - 1
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

func (h *hashEmbedder) Dimensions() int { return h.dims }

func (h *hashEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := h.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = embedding
	}
	return out, nil
}
