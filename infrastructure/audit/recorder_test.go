package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logSinkFunc func(entities.LogEntry)

func (f logSinkFunc) Publish(e entities.LogEntry) { f(e) }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRecorder_AssignsSequenceAndIdentity(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(WithClock(clock.Fake(start)), WithLogger(quietLogger()))

	r.Record(context.Background(), entities.AuditEvent{Type: entities.EventTokenMinted, TokenID: "t1"})
	r.Record(context.Background(), entities.AuditEvent{Type: entities.EventTokenRevoked, TokenID: "t1", ID: "given"})

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "given", events[1].ID)
	assert.Equal(t, start, events[0].Time)
	assert.Equal(t, uint64(2), r.Seq())
}

func TestRecorder_ConcurrentSequenceIsDense(t *testing.T) {
	r := NewRecorder(WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(context.Background(), entities.AuditEvent{Type: entities.EventBudgetCharged})
		}()
	}
	wg.Wait()

	events := r.Events()
	require.Len(t, events, 50)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestRecorder_SinceAndRetention(t *testing.T) {
	r := NewRecorder(WithLogger(quietLogger()), WithRetention(3))
	for i := 0; i < 5; i++ {
		r.Record(context.Background(), entities.AuditEvent{Type: entities.EventBudgetCharged})
	}

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Seq)

	since := r.Since(4)
	require.Len(t, since, 1)
	assert.Equal(t, uint64(5), since[0].Seq)
	assert.Empty(t, r.Since(5))
}

func TestRecorder_JournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "journal.jsonl")
	f, err := OpenJournal(path)
	require.NoError(t, err)

	r := NewRecorder(WithJournal(f), WithLogger(quietLogger()))
	r.Record(context.Background(), entities.AuditEvent{Type: entities.EventManifestSubmitted, ManifestID: "m1"})
	r.Record(context.Background(), entities.AuditEvent{
		Type: entities.EventManifestReplay, ManifestID: "m1", Details: map[string]any{"attempt": 2},
	})
	require.NoError(t, f.Close())

	data, err := os.Open(path)
	require.NoError(t, err)
	defer data.Close()

	events, err := ReadJournal(data)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, entities.EventManifestReplay, events[1].Type)
	assert.Equal(t, "m1", events[1].ManifestID)
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestReadJournal_Corrupt(t *testing.T) {
	events, err := ReadJournal(bytes.NewBufferString(`{"seq":1,"type":"token.minted"}` + "\n{oops\n"))
	assert.ErrorContains(t, err, "after seq 1")
	assert.Len(t, events, 1)
}

func TestRecorder_JournalFailureIsCounted(t *testing.T) {
	r := NewRecorder(WithJournal(failingWriter{}), WithLogger(quietLogger()))
	r.Record(context.Background(), entities.AuditEvent{Type: entities.EventTokenMinted})

	assert.Equal(t, uint64(1), r.JournalFailures())
	assert.Len(t, r.Events(), 1, "in-memory record survives journal failure")
}

func TestRecorder_ForwardsToLogStream(t *testing.T) {
	var entries []entities.LogEntry
	sink := logSinkFunc(func(e entities.LogEntry) { entries = append(entries, e) })

	var buf bytes.Buffer
	r := NewRecorder(WithLogSink(sink), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	r.Record(context.Background(), entities.AuditEvent{
		Type: entities.EventTokenDenied, Kind: entities.KindFileRead, Resource: "/etc/shadow", Reason: "no allow rule",
	})

	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "sentinel::capabilities", entries[0].Target)
	assert.Equal(t, string(entities.EventTokenDenied), entries[0].Message)
	assert.Contains(t, entries[0].Attrs, entities.LogAttr{Key: "resource", Type: "string", Value: "/etc/shadow"})

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "target=sentinel::capabilities")
}
