package enum

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/database"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/artemis/pkg/types"
)

// PatternRecorder scans command output files for interesting lines and
// maintains the patterns log. Universal patterns are applied on top of
// a command's own rules only when the command was rendered without a
// port, so port-scoped scans stay on their category's rules.
type PatternRecorder struct {
	log       *logger.Logger
	store     database.Store
	metrics   telemetry.Recorder
	universal []config.CompiledPattern
	logPath   string

	mu       sync.Mutex
	findings map[string]map[string]struct{}
}

// NewPatternRecorder creates a recorder writing its summary to logPath.
func NewPatternRecorder(log *logger.Logger, store database.Store, metrics telemetry.Recorder, universal []config.CompiledPattern, logPath string) *PatternRecorder {
	return &PatternRecorder{
		log:       log.WithComponent("patterns"),
		store:     store,
		metrics:   metrics,
		universal: universal,
		logPath:   logPath,
		findings:  make(map[string]map[string]struct{}),
	}
}

// Record scans the work's output file line by line against its pattern
// rules and rewrites the patterns log when anything new turns up. A
// missing output file is not an error; the command may legitimately
// have produced nothing.
func (p *PatternRecorder) Record(ctx context.Context, runID string, work Work) error {
	if !work.HasOutput {
		return nil
	}

	f, err := os.Open(work.OutputFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening output file %s: %w", work.OutputFile, err)
	}
	defer f.Close()

	candidates := work.Rules
	if _, hasPort := work.Values["port"]; !hasPort {
		candidates = append(append([]config.CompiledPattern(nil), candidates...), p.universal...)
	}
	if len(candidates) == 0 {
		return nil
	}

	var added []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, rule := range candidates {
			match := rule.Regex.FindString(line)
			if match == "" {
				continue
			}
			values := make(map[string]string, len(work.Values)+1)
			for k, v := range work.Values {
				values[k] = v
			}
			values["match"] = match
			desc := RenderCommand(rule.Description, values)
			if p.add(work.OutputFile, desc) {
				added = append(added, desc)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning output file %s: %w", work.OutputFile, err)
	}
	if len(added) == 0 {
		return nil
	}

	for _, desc := range added {
		p.metrics.RecordFinding()
		p.log.Infow("Pattern detected",
			"output_file", work.OutputFile,
			"description", desc)
		if err := p.store.SaveFinding(ctx, &types.Finding{
			RunID:       runID,
			OutputFile:  work.OutputFile,
			Description: desc,
		}); err != nil {
			p.log.Warnw("Failed to persist finding", "error", err)
		}
	}
	return p.rewrite()
}

// add records one finding, reporting whether it was new for its file.
func (p *PatternRecorder) add(file, description string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.findings[file]
	if !ok {
		set = make(map[string]struct{})
		p.findings[file] = set
	}
	if _, seen := set[description]; seen {
		return false
	}
	set[description] = struct{}{}
	return true
}

// rewrite regenerates the whole patterns log from the in-memory state.
// Descriptions already shown under an earlier file are not repeated.
func (p *PatternRecorder) rewrite() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	files := make([]string, 0, len(p.findings))
	for file := range p.findings {
		files = append(files, file)
	}
	sort.Strings(files)

	f, err := os.Create(p.logPath)
	if err != nil {
		return fmt.Errorf("rewriting patterns log: %w", err)
	}
	defer f.Close()

	shown := make(map[string]struct{})
	for _, file := range files {
		descs := make([]string, 0, len(p.findings[file]))
		for desc := range p.findings[file] {
			descs = append(descs, desc)
		}
		sort.Strings(descs)

		var fresh []string
		for _, desc := range descs {
			if _, ok := shown[desc]; ok {
				continue
			}
			shown[desc] = struct{}{}
			fresh = append(fresh, desc)
		}
		// A file whose every description already appeared under an earlier
		// file gets no group at all, not an empty header.
		if len(fresh) == 0 {
			continue
		}

		fmt.Fprintf(f, "[*] Pattern/s detected in: '%s'\n", file)
		for _, desc := range fresh {
			fmt.Fprintf(f, "\t[-] %s\n", desc)
		}
	}
	return nil
}
