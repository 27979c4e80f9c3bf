package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordKeepsMostRecent(t *testing.T) {
	l := New(Options{Capacity: 3, Logger: slog.New(slog.DiscardHandler)})
	for i := 0; i < 5; i++ {
		l.Record("message", fmt.Errorf("bad %d", i))
	}
	l.Record("message", nil)

	recent := l.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "bad 2", recent[0].Message)
	assert.Equal(t, "bad 4", recent[2].Message)
	assert.Equal(t, uint64(5), l.Total())

	l.Reset()
	assert.Empty(t, l.Recent())
	assert.Equal(t, uint64(5), l.Total())
}

func TestLog_ThrottlesLogOutput(t *testing.T) {
	var out bytes.Buffer
	l := New(Options{
		Logger:   slog.New(slog.NewTextHandler(&out, nil)),
		LogEvery: time.Hour,
		LogBurst: 2,
	})
	for i := 0; i < 10; i++ {
		l.Record("message", errors.New("malformed"))
	}
	assert.Equal(t, 2, strings.Count(out.String(), "malformed"))
	assert.Len(t, l.Recent(), 10, "recording is not throttled")
}

func TestLog_MarshalJSON(t *testing.T) {
	l := New(Options{Logger: slog.New(slog.DiscardHandler)})
	l.now = func() time.Time { return time.Unix(0, 0).UTC() }
	l.Record("server", errors.New("upstream timeout"))

	b, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1,"recent":[{"at":"1970-01-01T00:00:00Z","source":"server","message":"upstream timeout"}]}`, string(b))
}
