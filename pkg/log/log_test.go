package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scierrors "github.com/YuminosukeSato/churnscope/pkg/errors"
)

func TestTestLogger(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message", ColumnKey, "Contract")
	testLogger.Error("error message", fmt.Errorf("boom"), StageKey, "clean")

	require.NotEmpty(t, buffer.String())
	assert.True(t, testLogger.ContainsMessage("debug message"))
	assert.True(t, testLogger.ContainsMessage("warning message"))
	assert.True(t, testLogger.ContainsField("key1", "value1"))
	assert.True(t, testLogger.ContainsField("number", 42.0)) // JSON numbers decode as float64
	assert.True(t, testLogger.ContainsField(StageKey, "clean"))
	assert.True(t, testLogger.ContainsField(ErrAttrKey, "boom"))

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestTestLoggerWithAndLevel(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	assert.True(t, testLogger.Enabled(ctx, LevelInfo))
	assert.False(t, testLogger.Enabled(ctx, LevelDebug))

	stageLogger := testLogger.With(StageKey, "encode", ModelNameKey, "OneHotEncoder")
	stageLogger.Debug("hidden")
	stageLogger.Info("visible", FeaturesKey, 40)

	assert.False(t, testLogger.ContainsMessage("hidden"))
	assert.True(t, testLogger.ContainsField(StageKey, "encode"))
	assert.True(t, testLogger.ContainsField(FeaturesKey, 40.0))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Panics(t, func() { ToLogLevel(tt.in) })
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), ToLogLevel(tt.in).String())
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologProvider(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProviderWithWriter(&buf, LevelInfo)

	logger := provider.GetLoggerWithName("preprocessing.cleaner")
	logger.Debug("not emitted")
	logger.Info("Cleaning completed", SamplesKey, 9, RowsDroppedKey, 1)
	logger.With(StageKey, "clean").Warn("dangling key", "orphan")
	logger.Error("stage failed", scierrors.NewEmptyTableError("clean", 3, 3), StageKey, "clean")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "preprocessing.cleaner", lines[0][ComponentKey])
	assert.Equal(t, 9.0, lines[0][SamplesKey])
	assert.Equal(t, 1.0, lines[0][RowsDroppedKey])

	assert.Equal(t, "clean", lines[1][StageKey])
	assert.NotContains(t, lines[1], "orphan")

	assert.Equal(t, "error", lines[2]["level"])
	assert.Contains(t, lines[2]["error"], "table is empty")

	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
	provider.SetLevel(LevelDebug)
	assert.True(t, provider.GetLogger().Enabled(context.Background(), LevelDebug))
}

func TestZerologProviderRouteWarnings(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProviderWithWriter(&buf, LevelInfo)
	provider.RouteWarnings()
	defer scierrors.SetZerologWarnFunc(nil)

	scierrors.Warn(scierrors.NewUnseenCategoryWarning("PaymentMethod", []string{"Crypto"}, 2))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	warning, ok := lines[0]["warning"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "UnseenCategoryWarning", warning["type"])
	assert.Equal(t, "PaymentMethod", warning["column"])
}

func TestGlobalProvider(t *testing.T) {
	prev := GetGlobalProvider()
	defer SetGlobalProvider(prev)

	provider, buf := NewTestLoggerProvider(LevelDebug)
	SetGlobalProvider(provider)

	GetLoggerWithName("pipeline").Info("Run started", StageKey, "load")
	assert.Contains(t, buf.String(), `"ml.component":"pipeline"`)
	assert.Contains(t, buf.String(), `"pipeline.stage":"load"`)
}

func TestZerologConcurrentLogging(t *testing.T) {
	var buf syncBuffer
	provider := NewZerologProviderWithWriter(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			provider.GetLoggerWithName("ensemble").Info("tree fitted", "tree", id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, strings.Count(buf.String(), "tree fitted"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
