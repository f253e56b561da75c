package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/objectstore"
)

// fakeUploadStore serves a fixed CSV body for any Get and records Delete
// calls, grounded on the same httptest fake-endpoint pattern used for the
// object store gateway's own tests.
func fakeUploadStore(t *testing.T, csvBody string) (*objectstore.Gateway, *bool) {
	t.Helper()
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(csvBody))
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(server.Close)

	endpoint := strings.TrimPrefix(server.URL, "http://")
	gw := objectstore.New(&config.Config{
		StoreEndpoint:  endpoint,
		StoreAccessKey: "test",
		StoreSecretKey: "test",
		StoreRegion:    "us-east-1",
	})
	return gw, &deleted
}

func TestRunIngest_AppendsRowsAndDeletesBlob(t *testing.T) {
	jobs := jobstore.New(time.Minute)
	t.Cleanup(jobs.Close)

	cat, err := catalog.Open(&config.Config{WarehousePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, deleted := fakeUploadStore(t, "id,name\n1,alice\n2,bob\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{UploadsBucket: "uploads"}

	d := New(nil, jobs, store, cat, cfg, logger)
	ctx := context.Background()

	_, err = jobs.Create(ctx, domain.JobKindUpload, "job-1", domain.UploadPayload{})
	require.NoError(t, err)

	payload := domain.UploadPayload{Project: "p1", Table: "events", BlobPath: "uploads/job-1/data.csv"}
	err = d.runIngest(ctx, "job-1", payload, logger)
	require.NoError(t, err)

	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.UploadResult{RowCount: 2}, job.Result)
	assert.True(t, *deleted)

	exists, err := cat.TableExists(ctx, domain.TableID{Project: "p1", Table: "events"})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunIngest_FallsBackToDefaultTableWhenTableNameEmpty(t *testing.T) {
	jobs := jobstore.New(time.Minute)
	t.Cleanup(jobs.Close)

	cat, err := catalog.Open(&config.Config{WarehousePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, _ := fakeUploadStore(t, "id,name\n1,alice\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{UploadsBucket: "uploads"}

	d := New(nil, jobs, store, cat, cfg, logger)
	ctx := context.Background()

	_, err = jobs.Create(ctx, domain.JobKindUpload, "job-5", domain.UploadPayload{})
	require.NoError(t, err)

	payload := domain.UploadPayload{Project: "p1", BlobPath: "uploads/job-5/data.csv"}
	err = d.runIngest(ctx, "job-5", payload, logger)
	require.NoError(t, err)

	exists, err := cat.TableExists(ctx, domain.TableID{Project: "p1", Table: "default_table"})
	require.NoError(t, err)
	assert.True(t, exists)
}
