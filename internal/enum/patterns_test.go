package enum

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
)

func compileRules(t *testing.T, rules []config.PatternRule) []config.CompiledPattern {
	t.Helper()
	compiled, err := config.CompilePatterns(rules)
	require.NoError(t, err)
	return compiled
}

func TestPatternRecorderRecord(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "patterns.log")

	outputFile := filepath.Join(dir, "80-headers.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(
		"HTTP/1.1 200 OK\n"+
			"Server: Apache/2.4.41 (Ubuntu)\n"+
			"Content-Type: text/html\n"), 0o644))

	rec := NewPatternRecorder(newTestLogger(t), newTestStore(t), newTestMetrics(t), nil, logPath)

	work := Work{
		Kind:       WorkSecondary,
		OutputFile: outputFile,
		HasOutput:  true,
		Values:     map[string]string{"address": "10.0.0.1", "port": "80"},
		Rules: compileRules(t, []config.PatternRule{
			{Description: "Web server {match} on port {port}", Pattern: `Apache/[\d.]+`},
		}),
	}

	require.NoError(t, rec.Record(context.Background(), "run-1", work))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[*] Pattern/s detected in: '"+outputFile+"'")
	assert.Contains(t, string(data), "\t[-] Web server Apache/2.4.41 on port 80")

	// Recording the same file again must not duplicate anything.
	require.NoError(t, rec.Record(context.Background(), "run-1", work))
	again, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestPatternRecorderUniversalRules(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "patterns.log")

	outputFile := filepath.Join(dir, "sweep.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte("default password: admin123\n"), 0o644))

	universal := compileRules(t, []config.PatternRule{
		{Description: "Credential material: {match}", Pattern: `password: \S+`},
	})
	rec := NewPatternRecorder(newTestLogger(t), newTestStore(t), newTestMetrics(t), universal, logPath)

	t.Run("applied without port in context", func(t *testing.T) {
		work := Work{
			Kind:       WorkPrimary,
			OutputFile: outputFile,
			HasOutput:  true,
			Values:     map[string]string{"address": "10.0.0.1"},
		}
		require.NoError(t, rec.Record(context.Background(), "run-1", work))

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Credential material: password: admin123")
	})

	t.Run("not applied when context has a port", func(t *testing.T) {
		scoped := NewPatternRecorder(newTestLogger(t), newTestStore(t), newTestMetrics(t), universal, filepath.Join(dir, "scoped.log"))
		work := Work{
			Kind:       WorkSecondary,
			OutputFile: outputFile,
			HasOutput:  true,
			Values:     map[string]string{"address": "10.0.0.1", "port": "80"},
		}
		require.NoError(t, scoped.Record(context.Background(), "run-1", work))

		_, err := os.Stat(filepath.Join(dir, "scoped.log"))
		assert.True(t, os.IsNotExist(err), "no findings expected, log should not be created")
	})
}

func TestPatternRecorderSuppressesRepeatedDescriptionsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "patterns.log")

	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(first, []byte("Server: Apache\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("Server: Apache\n"), 0o644))

	rec := NewPatternRecorder(newTestLogger(t), newTestStore(t), newTestMetrics(t), nil, logPath)
	rules := compileRules(t, []config.PatternRule{
		{Description: "Apache web server present", Pattern: `Apache`},
	})

	for _, file := range []string{first, second} {
		work := Work{
			Kind:       WorkSecondary,
			OutputFile: file,
			HasOutput:  true,
			Values:     map[string]string{"port": "80"},
			Rules:      rules,
		}
		require.NoError(t, rec.Record(context.Background(), "run-1", work))
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	// The description was already shown under a.txt, so b.txt contributes
	// nothing and must not leave an empty header behind.
	assert.Equal(t, 1, strings.Count(string(data), "[*] Pattern/s detected in:"))
	assert.Equal(t, 1, strings.Count(string(data), "Apache web server present"))
	assert.NotContains(t, string(data), second)
}

func TestPatternRecorderMissingOutputFile(t *testing.T) {
	dir := t.TempDir()
	rec := NewPatternRecorder(newTestLogger(t), newTestStore(t), newTestMetrics(t), nil, filepath.Join(dir, "patterns.log"))

	work := Work{
		Kind:       WorkSecondary,
		OutputFile: filepath.Join(dir, "never-written.txt"),
		HasOutput:  true,
		Values:     map[string]string{"port": "80"},
	}
	assert.NoError(t, rec.Record(context.Background(), "run-1", work))
}
