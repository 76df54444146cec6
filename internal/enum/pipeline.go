package enum

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/database"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/artemis/pkg/types"
)

// Paths locates the per-target output tree the pipeline writes into.
type Paths struct {
	ScanDir string
	XMLDir  string
	LogsDir string
}

func (p Paths) CommandsLog() string { return filepath.Join(p.LogsDir, "commands.log") }
func (p Paths) ServicesLog() string { return filepath.Join(p.LogsDir, "detected_services.log") }
func (p Paths) ManualLog() string   { return filepath.Join(p.LogsDir, "manual_steps.log") }
func (p Paths) PatternsLog() string { return filepath.Join(p.LogsDir, "patterns.log") }

// Pipeline drives the two-stage enumeration: primary port scans run in
// declared order, their XML reports are parsed, and every discovered open
// service fans out into its category's follow-up scans.
type Pipeline struct {
	cfg      config.EnumConfig
	scans    *config.ScanConfig
	log      *logger.Logger
	console  *Console
	sup      *Supervisor
	store    database.Store
	metrics  telemetry.Recorder
	control  *RunControl
	recorder *PatternRecorder
	paths    Paths
	run      *types.Run

	mu           sync.Mutex
	commandsRan  map[string]struct{}
	manualSeen   map[string]struct{}
	serviceSeen  map[string]struct{}
	serviceLines []string

	group *errgroup.Group
}

// NewPipeline assembles a pipeline for one target run. The supervisor must
// not have been started yet; Run starts it.
func NewPipeline(cfg config.EnumConfig, scans *config.ScanConfig, log *logger.Logger, console *Console, sup *Supervisor, store database.Store, metrics telemetry.Recorder, control *RunControl, recorder *PatternRecorder, paths Paths, run *types.Run) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		scans:       scans,
		log:         log.WithComponent("pipeline").WithTarget(run.Target),
		console:     console,
		sup:         sup,
		store:       store,
		metrics:     metrics,
		control:     control,
		recorder:    recorder,
		paths:       paths,
		run:         run,
		commandsRan: make(map[string]struct{}),
		manualSeen:  make(map[string]struct{}),
		serviceSeen: make(map[string]struct{}),
	}
}

// Run executes the full enumeration against the pipeline's target and
// blocks until the supervisor reports the run complete.
func (p *Pipeline) Run(ctx context.Context) error {
	// Manual steps are regenerated every run; stale advice is worse than
	// none.
	if err := os.WriteFile(p.paths.ManualLog(), nil, 0o644); err != nil {
		return fmt.Errorf("resetting manual steps log: %w", err)
	}

	p.sup.Start(ctx)
	p.group, _ = errgroup.WithContext(ctx)

	defs, err := p.scans.PortScansFor(p.cfg.PortScanType)
	if err != nil {
		return err
	}

	p.log.Infow("Starting enumeration",
		"port_scan_type", p.cfg.PortScanType,
		"primary_scans", len(defs),
		"parallel", p.cfg.Parallel)

	values := PortScanContext{
		Address:   p.run.Target,
		Ports:     p.cfg.Ports,
		NmapExtra: p.cfg.NmapExtra,
		ScanDir:   p.paths.ScanDir,
	}.Values()

	for _, def := range defs {
		if err := p.runScan(ctx, WorkPrimary, def, values, func() {}); err != nil {
			p.log.Errorw("Primary scan failed", "scan", def.Name, "error", err)
		}
	}

	p.control.MarkPrimaryComplete()

	groupErr := p.group.Wait()
	p.sup.WaitAll()
	return groupErr
}

// runScan renders, deduplicates, executes, and post-processes a single
// scan definition. release is invoked exactly once, as soon as the
// command is registered with the supervisor or ruled out, so parallel
// callers can pair it with RunControl.BeginSubmit.
func (p *Pipeline) runScan(ctx context.Context, kind WorkKind, def config.ScanDefinition, values map[string]string, release func()) error {
	var releaseOnce sync.Once
	released := func() { releaseOnce.Do(release) }
	defer released()

	command := RenderCommand(def.Command, values)

	dedupKey := command
	if def.RunOnce {
		dedupKey = "once:" + def.Name + ":" + values["address"]
	}
	if !p.claim(p.commandsRan, dedupKey) {
		return nil
	}

	flags := secondaryOutputFlags
	if kind == WorkPrimary {
		flags = primaryOutputFlags
	}
	outputFile, hasOutput := DetermineOutputFile(command, flags)

	work := Work{
		Kind:       kind,
		Command:    command,
		OutputFile: outputFile,
		HasOutput:  hasOutput,
		Values:     values,
		Rules:      def.CompiledRules(),
	}

	if ShouldRunCommand(outputFile, hasOutput) {
		if p.cfg.Sudo {
			work.Command = "sudo " + command
		}
		rec, err := p.sup.Submit(ctx, work)
		if err != nil {
			return fmt.Errorf("scan %q: %w", def.Name, err)
		}
		released()

		p.console.WorkerCommand(rec.WorkerID(), work.Command)
		p.logCommand(rec.WorkerID(), work.Command)
		if err := p.store.SaveCommand(ctx, &types.CommandRecord{
			RunID:    p.run.ID,
			WorkerID: rec.WorkerID(),
			Command:  work.Command,
		}); err != nil {
			p.log.Warnw("Failed to persist command", "error", err)
		}

		<-rec.Done()
		p.console.WorkerComplete(rec.WorkerID())
	} else {
		released()
		p.log.Infow("Skipping command, output file already exists",
			"scan", def.Name,
			"output_file", outputFile)
	}

	// Post-processing happens even when the command was skipped: the
	// existing output file still holds results worth parsing.
	if !hasOutput {
		return nil
	}
	if err := p.recorder.Record(ctx, p.run.ID, work); err != nil {
		p.log.Warnw("Pattern recording failed", "output_file", outputFile, "error", err)
	}
	if kind == WorkPrimary {
		if err := p.secondaryEnumerate(ctx, outputFile); err != nil {
			p.log.Warnw("Secondary enumeration failed", "report", outputFile, "error", err)
		}
	}
	return nil
}

// secondaryEnumerate parses one primary XML report and fans out the
// follow-up scans for every open service it names.
func (p *Pipeline) secondaryEnumerate(ctx context.Context, xmlPath string) error {
	services, err := ParseNmapXML(xmlPath)
	if err != nil {
		return err
	}

	for _, svc := range services {
		if svc.State == "closed" || svc.Name == "" {
			continue
		}

		p.metrics.RecordService()
		p.recordService(svc)

		scheme, secure := deriveScheme(svc.Name, svc.Tunnel)
		values := ServiceContext{
			Address:          p.run.Target,
			Port:             fmt.Sprintf("%d", svc.Port),
			Protocol:         svc.Protocol,
			ServiceName:      svc.Name,
			Scheme:           scheme,
			Secure:           secure,
			NmapExtra:        p.cfg.NmapExtra,
			ScanDir:          p.paths.ScanDir,
			UsernameWordlist: p.scans.UsernameWordlist,
			PasswordWordlist: p.scans.PasswordWordlist,
		}.Values()

		// Every matching category contributes its scans and manual steps;
		// a service like https can belong to both an http and an ssl
		// category.
		matched := false
		for i := range p.scans.Services {
			category := &p.scans.Services[i]
			if !category.Matches(svc.Name) {
				continue
			}
			matched = true

			p.log.Infow("Service matched category",
				"service", svc.Name,
				"port", svc.Port,
				"category", category.Name)

			p.writeManualSteps(category, values)

			for _, def := range category.Scans {
				if !def.AppliesTo(svc.Port, svc.Protocol) {
					continue
				}
				def := def
				values := values
				if p.cfg.Parallel {
					p.control.BeginSubmit()
					p.group.Go(func() error {
						return p.runScan(ctx, WorkSecondary, def, values, p.control.EndSubmit)
					})
				} else {
					if err := p.runScan(ctx, WorkSecondary, def, values, func() {}); err != nil {
						p.log.Errorw("Secondary scan failed", "scan", def.Name, "error", err)
					}
				}
			}
		}

		if !matched {
			p.log.Infow("No scan category for service",
				"service", svc.Name,
				"port", svc.Port)
		}
	}
	return nil
}

// claim inserts key into set, reporting whether it was absent.
func (p *Pipeline) claim(set map[string]struct{}, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// logCommand appends one executed command to the commands log.
func (p *Pipeline) logCommand(workerID, command string) {
	p.console.Locked(func() {
		f, err := os.OpenFile(p.paths.CommandsLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			p.log.Warnw("Cannot open commands log", "error", err)
			return
		}
		defer f.Close()
		fmt.Fprintf(f, "[*] (worker %s) %s\n\n", workerID, command)
	})
}

// recordService adds a discovered service to the detected services log,
// keeping the whole file in natural port order.
func (p *Pipeline) recordService(svc DiscoveredService) {
	record := types.ServiceRecord{
		Address:  p.run.Target,
		Port:     fmt.Sprintf("%d", svc.Port),
		Protocol: svc.Protocol,
		Name:     svc.Name,
		State:    svc.State,
	}
	line := fmt.Sprintf("[*] %s/%s: %s    (%s)", record.Port, record.Protocol, record.Name, record.State)

	p.mu.Lock()
	if _, ok := p.serviceSeen[line]; ok {
		p.mu.Unlock()
		return
	}
	p.log.Infow("Service detected",
		"address", record.Address,
		"port", record.Port,
		"protocol", record.Protocol,
		"service", record.Name,
		"state", record.State)
	p.serviceSeen[line] = struct{}{}
	p.serviceLines = append(p.serviceLines, line)
	sortNatural(p.serviceLines)
	lines := append([]string(nil), p.serviceLines...)
	p.mu.Unlock()

	p.console.Locked(func() {
		f, err := os.Create(p.paths.ServicesLog())
		if err != nil {
			p.log.Warnw("Cannot rewrite detected services log", "error", err)
			return
		}
		defer f.Close()
		for _, l := range lines {
			fmt.Fprintln(f, l)
		}
	})
}

// writeManualSteps appends a category's advisory commands to the manual
// steps log. A group is written only when it contains at least one command
// not already logged this run.
func (p *Pipeline) writeManualSteps(category *config.ServiceCategory, values map[string]string) {
	for _, step := range category.Manual {
		desc := RenderCommand(step.Description, values)

		var fresh []string
		p.mu.Lock()
		for _, tmpl := range step.Commands {
			cmd := RenderCommand(tmpl, values)
			if _, ok := p.manualSeen[cmd]; ok {
				continue
			}
			p.manualSeen[cmd] = struct{}{}
			fresh = append(fresh, cmd)
		}
		p.mu.Unlock()

		if len(fresh) == 0 {
			continue
		}

		p.console.Locked(func() {
			f, err := os.OpenFile(p.paths.ManualLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				p.log.Warnw("Cannot open manual steps log", "error", err)
				return
			}
			defer f.Close()
			fmt.Fprintf(f, "[*] %s\n", desc)
			for _, cmd := range fresh {
				fmt.Fprintf(f, "\t%s\n", cmd)
			}
			fmt.Fprintln(f)
		})
	}
}
