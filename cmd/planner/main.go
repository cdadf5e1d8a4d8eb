// Command planner runs the full MAGE planning pipeline over a virtual
// program file: reverse annotation, then Belady placement, producing a
// physical bytecode file and a short counter report (spec §6).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ucbrise/mage-sub001/internal/annotator"
	"github.com/ucbrise/mage-sub001/internal/config"
	"github.com/ucbrise/mage-sub001/internal/diag"
	"github.com/ucbrise/mage-sub001/internal/physprog"
	"github.com/ucbrise/mage-sub001/internal/placer"
	"github.com/ucbrise/mage-sub001/internal/plancache"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated from main so tests can exercise the CLI without a
// real process exit.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("planner", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "Prints usage.")

	var outPath string
	flags.StringVar(&outPath, "o", "", "Output physical bytecode path (default: <program>.memprog).")

	var cacheDir string
	flags.StringVar(&cacheDir, "cachedir", "", "Directory for cached planner runs, keyed by program hash and placement knobs.")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if help || flags.NArg() < 3 {
		printUsage(stdErr, flags)
		if help {
			return 0
		}
		return 1
	}

	progPath := flags.Arg(0)
	capacityPages, err := strconv.ParseUint(flags.Arg(1), 10, 64)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid capacity_pages %q: %v\n", flags.Arg(1), err)
		return 1
	}
	pageShift, err := strconv.ParseUint(flags.Arg(2), 10, 8)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid page_shift %q: %v\n", flags.Arg(2), err)
		return 1
	}

	cfg := config.New(capacityPages).WithPageShift(uint8(pageShift)).WithCacheDir(cacheDir)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return exitCodeFor(err)
	}

	if outPath == "" {
		outPath = progPath + ".memprog"
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	stats, peakWorkingSet, cacheHit, err := run(progPath, outPath, cfg, log)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return exitCodeFor(err)
	}

	if cacheHit {
		fmt.Fprintf(stdOut, "cache_hit=true num_swapins=%d num_swapouts=%d\n", stats.NumSwapIns, stats.NumSwapOuts)
	} else {
		fmt.Fprintf(stdOut, "cache_hit=false num_swapins=%d num_swapouts=%d peak_working_set=%d capacity_pages=%d\n",
			stats.NumSwapIns, stats.NumSwapOuts, peakWorkingSet, stats.CapacityPages)
	}
	return 0
}

// run executes the pipeline, consulting the plan cache first if one is
// configured (spec §9 notes the planner's passes are pure functions of
// their inputs, which is exactly what makes this safe). peakWorkingSet is
// the Reverse Annotator's own figure (spec §6's reported
// `peak_working_set`, distinct from the Placer's `PeakResident`); it's
// zero on a cache hit, since the annotator doesn't run on that path.
func run(progPath, outPath string, cfg *config.PlannerConfig, log *logrus.Entry) (stats placer.Stats, peakWorkingSet uint64, cacheHit bool, err error) {
	var cache plancache.Cache
	var key plancache.Key
	if dir := cfg.CacheDir(); dir != "" {
		progBytes, err := os.ReadFile(progPath)
		if err != nil {
			return placer.Stats{}, 0, false, diag.Newf(diag.IoError, "planner: reading %s: %v", progPath, err)
		}
		key = plancache.KeyOf(progBytes, cfg.CapacityPages(), cfg.PageShift())
		cache = plancache.NewFileCache(dir)

		if content, ok, err := cache.Get(key); err != nil {
			log.WithError(err).Warn("plan cache lookup failed; proceeding without it")
		} else if ok {
			defer content.Close()
			stats, err := installCached(content, outPath, cfg.CapacityPages())
			if err != nil {
				return placer.Stats{}, 0, false, err
			}
			return stats, 0, true, nil
		}
	}

	annPath := outPath + ".ann.tmp"
	defer os.Remove(annPath)
	peakWorkingSet, err = annotator.Run(progPath, annPath, cfg.PageShift(), log)
	if err != nil {
		return placer.Stats{}, 0, false, err
	}

	stats, err = placer.Run(progPath, annPath, outPath, cfg.CapacityPages(), cfg.PageShift(), log)
	if err != nil {
		return placer.Stats{}, 0, false, err
	}

	if cache != nil {
		f, err := os.Open(outPath)
		if err != nil {
			return stats, 0, false, diag.Newf(diag.IoError, "planner: reopening %s for caching: %v", outPath, err)
		}
		defer f.Close()
		if err := cache.Add(key, f); err != nil {
			log.WithError(err).Warn("failed to populate plan cache")
		}
	}
	return stats, peakWorkingSet, false, nil
}

// installCached copies a cached physical bytecode stream to outPath and
// derives swap counters by scanning it, since the cache stores only the
// bytecode itself (spec's counters are cheap to recompute, not worth a
// second cache entry).
func installCached(content io.Reader, outPath string, capacityPages uint64) (placer.Stats, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return placer.Stats{}, diag.Newf(diag.IoError, "planner: reading cached plan: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return placer.Stats{}, diag.Newf(diag.IoError, "planner: writing %s: %v", outPath, err)
	}
	r, err := physprog.Open(outPath)
	if err != nil {
		return placer.Stats{}, err
	}
	stats := placer.Stats{CapacityPages: capacityPages}
	err = r.ForEach(func(_ uint64, in physprog.Instruction) error {
		switch in.Kind {
		case physprog.SwapIn:
			stats.NumSwapIns++
		case physprog.SwapOut:
			stats.NumSwapOuts++
		}
		return nil
	})
	if err != nil {
		return placer.Stats{}, err
	}
	return stats, nil
}

func exitCodeFor(err error) int {
	switch diag.KindOf(err) {
	case diag.ConfigError, diag.UsageError:
		return 2
	default:
		return 1
	}
}

func printUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "planner: the MAGE planning pipeline")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  planner [options] <program.prog> <capacity_pages> <page_shift>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
