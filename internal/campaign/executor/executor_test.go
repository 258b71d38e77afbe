package executor_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rvcampaign/internal/campaign/executor"
	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingDriver struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	hold     time.Duration
}

func (d *countingDriver) Name() string { return "counting" }

func (d *countingDriver) Run(ctx context.Context, target graph.Target, log io.Writer) executor.Outcome {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(d.hold)
	d.inFlight.Add(-1)
	if strings.HasPrefix(target.Name, "bad") {
		return executor.Outcome{Stage: pipeline.StageCompile, ExitCode: 1}
	}
	return executor.Outcome{}
}

func shellStage(name, script string) pipeline.Stage {
	return pipeline.Stage{Name: name, Args: []string{"sh", "-c", script}}
}

func newTarget(t *testing.T, name string, stages ...pipeline.Stage) graph.Target {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	all := append([]pipeline.Stage{{Name: pipeline.StageChdir, Args: []string{"cd", dir}}}, stages...)
	return graph.Target{
		Name:     name,
		WorkDir:  dir,
		Pipeline: pipeline.Pipeline{Target: name, WorkDir: dir, Stages: all},
	}
}

func TestRunRespectsJobBound(t *testing.T) {
	for _, jobs := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			g := &graph.Graph{Jobs: jobs}
			for i := 0; i < 10; i++ {
				name := fmt.Sprintf("t%02d", i)
				if i%3 == 0 {
					name = fmt.Sprintf("bad%02d", i)
				}
				g.Targets = append(g.Targets, newTarget(t, name))
			}

			driver := &countingDriver{hold: 15 * time.Millisecond}
			results := executor.New(executor.Config{Driver: driver}).Run(context.Background(), g, jobs)

			if got := int(driver.peak.Load()); got > jobs {
				t.Fatalf("peak concurrency %d exceeds %d", got, jobs)
			}
			if len(results) != len(g.Targets) {
				t.Fatalf("results = %d, want %d", len(results), len(g.Targets))
			}
			if int(driver.calls.Load()) != len(g.Targets) {
				t.Fatalf("driver calls = %d, want %d", driver.calls.Load(), len(g.Targets))
			}
			counts := model.Tally(results)
			if counts.Failed != 4 || counts.Passed != 6 {
				t.Fatalf("unexpected counts %+v", counts)
			}
		})
	}
}

func TestCompileFailureSkipsSimulation(t *testing.T) {
	good := newTarget(t, "a",
		shellStage(pipeline.StageCompile, "echo compiled"),
		shellStage(pipeline.StageSimulate, "touch simulated"),
	)
	bad := newTarget(t, "b",
		shellStage(pipeline.StageCompile, "echo broken >&2; exit 3"),
		shellStage(pipeline.StageSimulate, "touch simulated"),
	)
	g := &graph.Graph{Jobs: 2, Targets: []graph.Target{good, bad}}

	results := executor.Run(context.Background(), g, 2)

	if results["a"].Status != model.StatusPassed {
		t.Fatalf("a = %+v", results["a"])
	}
	b := results["b"]
	if b.Status != model.StatusFailed || b.FailedStage != pipeline.StageCompile || b.ExitCode != 3 {
		t.Fatalf("b = %+v", b)
	}
	if _, err := os.Stat(filepath.Join(bad.WorkDir, "simulated")); !os.IsNotExist(err) {
		t.Fatal("simulator ran after a failed compile")
	}
	logData, err := os.ReadFile(b.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logData), "broken") {
		t.Fatalf("stderr not captured in app_log: %s", logData)
	}
}

func TestStdoutRedirect(t *testing.T) {
	target := newTarget(t, "r",
		pipeline.Stage{Name: pipeline.StageDisassemble, Args: []string{"echo", "disassembly"}, Stdout: model.DisassFile},
		pipeline.Stage{Name: pipeline.StageSimulate, Args: []string{"echo", "quiet"}, Stdout: pipeline.DevNull},
	)
	results := executor.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)
	if results["r"].Status != model.StatusPassed {
		t.Fatalf("r = %+v", results["r"])
	}
	data, err := os.ReadFile(filepath.Join(target.WorkDir, model.DisassFile))
	if err != nil || strings.TrimSpace(string(data)) != "disassembly" {
		t.Fatalf("redirected output = %q, %v", data, err)
	}
	logData, _ := os.ReadFile(results["r"].LogPath)
	if strings.Count(string(logData), "quiet") != 1 {
		t.Fatalf("discarded output reached the log: %s", logData)
	}
}

func TestTimeoutIsError(t *testing.T) {
	target := newTarget(t, "slow", shellStage(pipeline.StageSimulate, "sleep 5"))
	ex := executor.New(executor.Config{
		Timeout: 100 * time.Millisecond,
		Driver:  executor.ExecDriver{KillGrace: 100 * time.Millisecond},
	})

	start := time.Now()
	results := ex.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)
	if time.Since(start) > 3*time.Second {
		t.Fatal("timed out target was not killed")
	}
	r := results["slow"]
	if r.Status != model.StatusError || r.Reason != model.ReasonTimeout {
		t.Fatalf("slow = %+v", r)
	}
	if r.FailedStage != pipeline.StageSimulate {
		t.Fatalf("failed stage = %q", r.FailedStage)
	}
}

func TestMissingToolFailsStage(t *testing.T) {
	cc := filepath.Join(t.TempDir(), "missing-cc")
	target := newTarget(t, "nostart",
		pipeline.Stage{Name: pipeline.StageCompile, Args: []string{cc, "-o", "dut.elf"}},
		shellStage(pipeline.StageSimulate, "touch simulated"),
	)
	r := executor.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)["nostart"]
	if r.Status != model.StatusFailed || r.FailedStage != pipeline.StageCompile || r.ExitCode != 127 {
		t.Fatalf("nostart = %+v", r)
	}
	if _, err := os.Stat(filepath.Join(target.WorkDir, "simulated")); err == nil {
		t.Fatal("simulate ran after compile could not start")
	}
	data, err := os.ReadFile(r.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), cc) {
		t.Fatalf("log does not name the missing tool:\n%s", data)
	}
}

func TestNonExecutableToolFailsStage(t *testing.T) {
	sim := filepath.Join(t.TempDir(), "sim")
	if err := os.WriteFile(sim, []byte("not a program"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	target := newTarget(t, "noexec", pipeline.Stage{Name: pipeline.StageSimulate, Args: []string{sim}})
	r := executor.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)["noexec"]
	if r.Status != model.StatusFailed || r.FailedStage != pipeline.StageSimulate || r.ExitCode != 126 {
		t.Fatalf("noexec = %+v", r)
	}
}

func TestMissingWorkDirFailsChdir(t *testing.T) {
	target := newTarget(t, "gone", shellStage(pipeline.StageCompile, "true"))
	if err := os.RemoveAll(target.WorkDir); err != nil {
		t.Fatalf("remove: %v", err)
	}

	r := executor.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)["gone"]
	if r.Status != model.StatusFailed || r.FailedStage != pipeline.StageChdir || r.ExitCode != 1 {
		t.Fatalf("gone = %+v", r)
	}
	if _, err := os.Stat(target.WorkDir); err == nil {
		t.Fatal("executor created the missing work dir")
	}
}

func TestMissingMakeIsError(t *testing.T) {
	target := newTarget(t, "t1", shellStage(pipeline.StageCompile, "true"))
	e := executor.New(executor.Config{Driver: executor.MakeDriver{
		Makefile: filepath.Join(t.TempDir(), graph.FileName("test")),
		Make:     filepath.Join(t.TempDir(), "no-make"),
	}})
	r := e.Run(context.Background(), &graph.Graph{Targets: []graph.Target{target}}, 1)["t1"]
	if r.Status != model.StatusError || !strings.HasPrefix(r.Reason, model.ReasonStart) {
		t.Fatalf("t1 = %+v", r)
	}
}

func TestCanceledContextStillReportsEveryTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &graph.Graph{}
	for i := 0; i < 3; i++ {
		g.Targets = append(g.Targets, newTarget(t, fmt.Sprintf("c%d", i), shellStage(pipeline.StageCompile, "true")))
	}
	results := executor.Run(ctx, g, 2)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for name, r := range results {
		if r.Status != model.StatusError || r.Reason != model.ReasonCanceled {
			t.Fatalf("%s = %+v", name, r)
		}
	}
}

func TestMakeDriver(t *testing.T) {
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not installed")
	}
	ok := newTarget(t, "ok", shellStage(pipeline.StageCompile, "echo fine"))
	bad := newTarget(t, "bad", shellStage(pipeline.StageCompile, "exit 4"))
	g := &graph.Graph{Jobs: 2, Targets: []graph.Target{bad, ok}}

	makefile := filepath.Join(t.TempDir(), graph.FileName("test"))
	if err := g.WriteFile(makefile); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	results := executor.New(executor.Config{Driver: executor.MakeDriver{Makefile: makefile}}).Run(context.Background(), g, 2)
	if results["ok"].Status != model.StatusPassed {
		t.Fatalf("ok = %+v", results["ok"])
	}
	if results["bad"].Status != model.StatusFailed || results["bad"].ExitCode == 0 {
		t.Fatalf("bad = %+v", results["bad"])
	}
}
