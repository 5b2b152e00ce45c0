// Package profilers sets up optional profiling for the command-line programs.
//
// Linking it installs the -prof and -cpu_profile flags. It is only meant for debugging.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, serves the HTTP profiler (pprof) at the given localhost port.")
	flagCPUProfile = flag.String("cpu_profile", "", "Write CPU profile to `file`.")
)

// Profilers started by Setup. Stop them with OnQuit.
type Profilers struct {
	ctx     context.Context
	cpuFile *os.File
	addr    string
}

// Setup starts the HTTP (flag -prof) and CPU (flag -cpu_profile) profilers, if they were configured.
// Follow it with a deferred call to OnQuit.
//
// ctx is used to release the program when kept alive for the HTTP profiler.
func Setup(ctx context.Context) (*Profilers, error) {
	p := &Profilers{ctx: ctx}
	if *flagCPUProfile != "" {
		f, err := os.Create(*flagCPUProfile)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create CPU profile")
		}
		if err = pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "could not start CPU profile")
		}
		p.cpuFile = f
	}
	if *flagProfiler >= 0 {
		p.addr = fmt.Sprintf("localhost:%d", *flagProfiler)
		klog.Infof("Serving profiler on http://%s/debug/pprof -- e.g.: go tool pprof %s/debug/pprof/heap",
			p.addr, p.addr)
		go func() {
			klog.Fatal(http.ListenAndServe(p.addr, nil))
		}()
	}
	return p, nil
}

// OnQuit stops the CPU profiler and, if the HTTP profiler is running, keeps the program alive
// until ctx is done, so the profile can still be read.
func (p *Profilers) OnQuit() {
	if p == nil {
		return
	}
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			klog.Errorf("Failed to close CPU profile %q: %v", p.cpuFile.Name(), err)
		}
		p.cpuFile = nil
	}
	if p.addr == "" || p.ctx.Err() != nil {
		return
	}
	for range 10 {
		runtime.GC()
	}
	klog.Infof("Program finished, kept alive with profiler at http://%s/debug/pprof: interrupt (Ctrl+C) to exit", p.addr)
	<-p.ctx.Done()
}
