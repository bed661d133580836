package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ca-indexer/internal/bluesky"
	"ca-indexer/internal/database/dbtest"
	"ca-indexer/internal/jobs"
	"ca-indexer/internal/maintainers"
	"ca-indexer/internal/models"
	"ca-indexer/internal/pipeline"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, []pipeline.Event) {}

func TestWorkerServiceRunsMaintenance(t *testing.T) {
	db := dbtest.Open(t)
	logger := testLogger()
	queue := jobs.NewQueue(db)

	ws := NewWorkerService(Options{
		Runner:             jobs.NewRunner(db, logger, 10*time.Millisecond),
		Queue:              queue,
		Maintainers:        maintainers.New(db, queue, logger, 0),
		Logger:             logger,
		EngagementInterval: 20 * time.Millisecond,
		DirtyInterval:      20 * time.Millisecond,
		EditedInterval:     20 * time.Millisecond,
	})
	ws.Start(context.Background())
	assert.True(t, ws.IsRunning())

	require.Eventually(t, func() bool {
		var n int64
		db.Model(&models.Job{}).Where("name = ? AND status = ?", jobs.UpdateEngagement, models.JobDone).Count(&n)
		return n > 0
	}, 2*time.Second, 10*time.Millisecond)

	status := ws.GetStatus(context.Background())
	assert.True(t, status.Running)
	assert.Len(t, status.Periodic, 3)
	assert.Empty(t, status.MirrorState)

	ws.Stop()
	assert.False(t, ws.IsRunning())
}

func TestRunMirrorRestartsAfterClose(t *testing.T) {
	db := dbtest.Open(t)
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connections.Add(1)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	mirror := bluesky.NewMirror(db, nopSubmitter{}, testLogger(), bluesky.MirrorConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
	})
	ws := NewWorkerService(Options{Mirror: mirror, Logger: testLogger(), RestartDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	require.Eventually(t, func() bool { return connections.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker service did not stop")
	}
	assert.Equal(t, bluesky.StateStopped, mirror.State())
}
