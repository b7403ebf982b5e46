package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(sink Sink) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(sink, zerolog.New(&buf))
	l.now = func() time.Time { return time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC) }
	return l, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestRecord(t *testing.T) {
	sink := testutil.NewMemoryRecords()
	l, buf := newTestLogger(sink)

	err := l.Record(context.Background(), models.AuditRecord{User: "alice", Action: models.ActionUpload, File: "P1/MEC/FEL1/A_r1v1.pdf"})
	require.NoError(t, err)

	records := sink.Audit()
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].User)
	assert.Equal(t, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), records[0].Timestamp)

	entry := lastLine(t, buf)
	assert.Equal(t, "audit", entry["component"])
	assert.Equal(t, "upload", entry["action"])
	assert.Equal(t, "P1/MEC/FEL1/A_r1v1.pdf", entry["file"])
}

func TestRecord_SinkError(t *testing.T) {
	sink := testutil.NewMemoryRecords()
	sink.AuditErr = errors.New("disk full")
	l, _ := newTestLogger(sink)

	err := l.Record(context.Background(), models.AuditRecord{User: "alice", Action: models.ActionUpload})
	assert.EqualError(t, err, "disk full")
}

func TestRecord_NilSinkOnlyLogs(t *testing.T) {
	l, buf := newTestLogger(nil)
	require.NoError(t, l.Record(context.Background(), models.AuditRecord{User: "alice", Action: models.ActionView}))
	assert.Contains(t, buf.String(), `"action":"view"`)
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemoryRecords()
	l, buf := newTestLogger(sink)

	l.LogAccess(ctx, "alice", models.ActionDownload, "P1/MEC/FEL1/A_r1v1.pdf")
	l.LogAuth(ctx, "alice", models.ActionLogin, "allowed", "10.0.0.5")
	l.LogAuth(ctx, "mallory", models.ActionLogin, "denied", "10.0.0.9")
	l.LogUserMgmt(ctx, "root", models.ActionUserUpdate, "alice")
	l.LogTaxonomy(ctx, "root", "add projects Usina Norte")

	assert.Equal(t, []string{
		models.ActionDownload,
		models.ActionLogin,
		models.ActionUserUpdate,
		models.ActionTaxonomyUpdate,
	}, sink.Actions(), "denied logins are not persisted")

	records := sink.Audit()
	assert.Equal(t, "source 10.0.0.5", records[1].File)
	assert.Equal(t, "account alice", records[2].File)
	assert.Contains(t, buf.String(), `"result":"denied"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestHelpers_SinkErrorIsSwallowed(t *testing.T) {
	sink := testutil.NewMemoryRecords()
	sink.AuditErr = errors.New("database is locked")
	l, buf := newTestLogger(sink)

	l.LogAccess(context.Background(), "alice", models.ActionView, "P1/MEC/FEL1/A_r1v1.pdf")
	assert.Contains(t, buf.String(), "failed to persist audit record")
}
