package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busadapter "github.com/lakeflow/control-plane/internal/bus"
	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/objectstore"
)

func testDispatcher(t *testing.T) (*Dispatcher, *jobstore.Store, *catalog.Catalog) {
	t.Helper()
	jobs := jobstore.New(time.Minute)
	t.Cleanup(jobs.Close)

	cat, err := catalog.Open(&config.Config{WarehousePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{QueryTimeout: 5 * time.Second, PreviewMaxRows: 50}

	return New(nil, jobs, nil, cat, cfg, logger), jobs, cat
}

func TestDispatcher_ProcessSchema_CompletesForExistingTable(t *testing.T) {
	d, jobs, cat := testDispatcher(t)
	ctx := context.Background()

	tableID := domain.TableID{Project: "p1", Table: "events"}
	_, err := cat.Append(ctx, tableID, domain.Relation{
		Columns: []domain.Column{{Name: "id", Type: domain.ColumnTypeInteger}},
		Rows:    [][]interface{}{{int64(1)}},
	})
	require.NoError(t, err)

	_, err = jobs.Create(ctx, domain.JobKindSchema, "job-1", domain.SchemaPayload{Project: "p1", Table: "events"})
	require.NoError(t, err)

	payload, err := json.Marshal(domain.SchemaPayload{Project: "p1", Table: "events"})
	require.NoError(t, err)

	delivery := busadapter.Delivery{
		Message: busadapter.Message{ID: "job-1", Kind: string(domain.JobKindSchema)},
		Raw:     payload,
	}

	err = d.process(ctx, delivery, d.logger)
	require.NoError(t, err)

	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestDispatcher_ProcessSchema_FailsDeterministicallyForMissingTable(t *testing.T) {
	d, jobs, _ := testDispatcher(t)
	ctx := context.Background()

	_, err := jobs.Create(ctx, domain.JobKindSchema, "job-2", domain.SchemaPayload{Project: "p1", Table: "missing"})
	require.NoError(t, err)

	payload, err := json.Marshal(domain.SchemaPayload{Project: "p1", Table: "missing"})
	require.NoError(t, err)

	delivery := busadapter.Delivery{
		Message: busadapter.Message{ID: "job-2", Kind: string(domain.JobKindSchema)},
		Raw:     payload,
	}

	err = d.process(ctx, delivery, d.logger)
	require.NoError(t, err, "deterministic failures are acked, not returned for requeue")

	job, err := jobs.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Message, "not found")
}

func TestDispatcher_ProcessMalformedMessage_FailsWithoutRetry(t *testing.T) {
	d, jobs, _ := testDispatcher(t)
	ctx := context.Background()

	_, err := jobs.Create(ctx, domain.JobKindSchema, "job-3", domain.SchemaPayload{})
	require.NoError(t, err)

	delivery := busadapter.Delivery{
		Message: busadapter.Message{ID: "job-3", Kind: string(domain.JobKindSchema)},
		Raw:     []byte("not json"),
	}

	err = d.process(ctx, delivery, d.logger)
	require.NoError(t, err)

	job, err := jobs.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Message, "malformed message")
}

// TestDispatcher_ProcessRetryableFailure_LeavesJobProcessingForRequeue
// guards against a transport error (here, the object store answering the
// download with a 400 InvalidRequest, which the ingest executor surfaces
// as a domain.StorageError) driving the job all the way to the
// terminal failed state. It must stay in processing and the error must
// come back for the bus layer to nack-with-requeue.
func TestDispatcher_ProcessRetryableFailure_LeavesJobProcessingForRequeue(t *testing.T) {
	jobs := jobstore.New(time.Minute)
	t.Cleanup(jobs.Close)

	cat, err := catalog.Open(&config.Config{WarehousePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>InvalidRequest</Code><Message>malformed request</Message></Error>`))
	}))
	t.Cleanup(server.Close)
	endpoint := strings.TrimPrefix(server.URL, "http://")
	store := objectstore.New(&config.Config{
		StoreEndpoint:  endpoint,
		StoreAccessKey: "test",
		StoreSecretKey: "test",
		StoreRegion:    "us-east-1",
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{UploadsBucket: "uploads"}
	d := New(nil, jobs, store, cat, cfg, logger)
	ctx := context.Background()

	_, err = jobs.Create(ctx, domain.JobKindUpload, "job-6", domain.UploadPayload{})
	require.NoError(t, err)

	payload, err := json.Marshal(domain.UploadPayload{Project: "p1", Table: "events", BlobPath: "uploads/job-6/data.csv"})
	require.NoError(t, err)

	delivery := busadapter.Delivery{
		Message: busadapter.Message{ID: "job-6", Kind: string(domain.JobKindUpload)},
		Raw:     payload,
	}

	err = d.process(ctx, delivery, d.logger)
	require.Error(t, err, "retryable failures must be returned so the caller nacks with requeue")

	job, err := jobs.Get(ctx, "job-6")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
}

func TestDispatcher_ProcessUnknownKind_FailsWithoutRetry(t *testing.T) {
	d, jobs, _ := testDispatcher(t)
	ctx := context.Background()

	_, err := jobs.Create(ctx, domain.JobKindSchema, "job-4", domain.SchemaPayload{})
	require.NoError(t, err)

	delivery := busadapter.Delivery{
		Message: busadapter.Message{ID: "job-4", Kind: "unknown"},
		Raw:     []byte("{}"),
	}

	err = d.process(ctx, delivery, d.logger)
	require.NoError(t, err)

	job, err := jobs.Get(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}
