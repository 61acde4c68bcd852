/*

Skyride estimates effective population size through time from time
trees. It implements the GMRF skyride, the variable and classic
skylines as well as constant and exponential coalescent models, and
can run a Metropolis-Hastings sampler or find the maximum a
posteriori estimate.

The basic usage of skyride looks like this:

	skyride run --config analysis.yaml trees.nwk

, this will sample the skyride model and write the trace to the
standard output.

The other commands are:

	skyride loglik trees.nwk      # print log likelihood components
	skyride map trees.nwk         # L-BFGS-B maximum a posteriori
	skyride subst --model TN93 --t 0.1  # print substitution matrix
	skyride plot trace.log        # plot population size trajectory

To see all the options run:

	skyride --help

*/
package main

import (
	"encoding/json"
	"os"
	"runtime/pprof"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/skyride/checkpoint"
	"bitbucket.org/Davydov/skyride/config"
	"bitbucket.org/Davydov/skyride/mcmc"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = "branch: " + gitbranch + ", revision: " + githash + ", build time: " + buildstamp

// Logger settings.
var log = logging.MustGetLogger("skyride")
var formatter = logging.MustStringFormatter(`%{message}`)

// loggers are the package loggers controlled by -loglevel.
var loggers = []string{"skyride", "mcmc", "checkpoint", "coalescent", "gmrf", "skyline", "subst", "tree"}

// command-line options
var (
	// application
	app = kingpin.New("skyride", "coalescent skyride and skyline sampler").Version(version)

	// global
	configFileName = app.Flag("config", "analysis configuration (YAML)").String()
	seed           = app.Flag("seed", "random generator seed, overrides configuration; -1 is time based").Default("-1").Int64()
	cpuProfile     = app.Flag("cpuprofile", "write cpu profile to file").String()
	outLogF        = app.Flag("log", "write log to a file").String()
	jsonF          = app.Flag("json", "write json output to a file").String()
	logLevel       = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")

	// loglik
	loglikCmd   = app.Command("loglik", "print log likelihood of the configured model")
	loglikTrees = loglikCmd.Arg("trees", "tree files (newick)").ExistingFiles()

	// run
	runCmd        = app.Command("run", "run Metropolis-Hastings sampler")
	runTrees      = runCmd.Arg("trees", "tree files (newick)").ExistingFiles()
	iterations    = runCmd.Flag("iter", "number of iterations, overrides configuration").Default("-1").Int()
	outF          = runCmd.Flag("out", "write trace to a file").String()
	adaptive      = runCmd.Flag("adaptive", "use adaptive MCMC").Bool()
	checkpointF   = runCmd.Flag("checkpoint", "checkpoint database, overrides configuration").String()
	accept        = runCmd.Flag("accept", "report acceptance rate every N iterations").Default("1000").Int()
	dumpConfigF   = runCmd.Flag("dump-config", "write resolved configuration to a file").String()
	checkpointKey = runCmd.Flag("key", "checkpoint key").Default("skyride").String()

	// map
	mapCmd   = app.Command("map", "find maximum a posteriori estimate with L-BFGS-B")
	mapTrees = mapCmd.Arg("trees", "tree files (newick)").ExistingFiles()

	// subst
	substCmd   = app.Command("subst", "print substitution model matrices")
	substModel = substCmd.Flag("model", "substitution model (JC, HKY, TN93, GTR, complex), overrides configuration").String()
	substFreqF = substCmd.Flag("freqs", "state frequencies file").ExistingFile()
	substTimes = substCmd.Flag("t", "branch length").Default("0.1").Float64List()

	// plot
	plotCmd    = app.Command("plot", "plot population size trajectory from a trace")
	plotTraceF = plotCmd.Arg("trace", "trace file").Required().ExistingFile()
	plotOutF   = plotCmd.Flag("out", "output image").Default("skyride.png").String()
	plotBurnin = plotCmd.Flag("burnin", "burnin fraction, overrides configuration").Default("-1").Float64()
	plotGrid   = plotCmd.Flag("grid", "number of time grid points").Default("100").Int()
)

// loadConfig loads the configuration and applies command line
// overrides.
func loadConfig(trees []string, summary *RunSummary) *config.Config {
	cfg, err := config.Load(*configFileName)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Trees = append(cfg.Trees, trees...)
	if *seed != -1 {
		cfg.MCMC.Seed = *seed
	}
	if cfg.MCMC.Seed == -1 {
		cfg.MCMC.Seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", cfg.MCMC.Seed)
	summary.Seed = cfg.MCMC.Seed
	return cfg
}

// setup reads the trees and builds the analysis.
func setup(cfg *config.Config) *analysis {
	trees, err := readTrees(cfg.Trees)
	if err != nil {
		log.Fatal(err)
	}
	a, err := newAnalysis(cfg, trees)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("Model has %d free parameters.", a.params.Dimension())
	return a
}

func loglik(summary *RunSummary) {
	cfg := loadConfig(*loglikTrees, summary)
	a := setup(cfg)
	l := a.posterior.LogLikelihood()
	log.Noticef("lnL=%v", a.likelihood.LogLikelihood())
	log.Noticef("lnP=%v", l)
	os.Stdout.WriteString(columnsTable(a.columns()) + "\n")
	summary.LogPosterior = l
}

func run(summary *RunSummary) {
	cfg := loadConfig(*runTrees, summary)
	if *iterations >= 0 {
		cfg.MCMC.Iterations = *iterations
	}
	if *adaptive {
		cfg.MCMC.Adaptive = true
	}
	if *checkpointF != "" {
		cfg.MCMC.Checkpoint = *checkpointF
	}
	if *dumpConfigF != "" {
		f, err := os.Create(*dumpConfigF)
		if err != nil {
			log.Fatal("Error creating configuration file:", err)
		}
		if err := cfg.Write(f); err != nil {
			log.Fatal(err)
		}
		f.Close()
	}
	a := setup(cfg)

	chain, err := mcmc.NewMH(a.posterior, a.params, a.operators, cfg.MCMC.Seed)
	if err != nil {
		log.Fatal(err)
	}
	chain.AccPeriod = *accept
	chain.RepPeriod = cfg.MCMC.Report
	chain.WatchSignals(os.Interrupt, syscall.SIGUSR2)

	resumed := false
	if cfg.MCMC.Checkpoint != "" {
		cp, err := checkpoint.Open(cfg.MCMC.Checkpoint, *checkpointKey, cfg.MCMC.CheckpointSeconds)
		if err != nil {
			log.Fatal(err)
		}
		defer cp.Close()
		chain.SetCheckpoint(cp)
		resumed, err = chain.Resume()
		if err != nil {
			log.Fatal("Error resuming from checkpoint:", err)
		}
		if resumed {
			log.Notice("Resuming from checkpoint")
		}
	}

	f, appended, err := openTrace(*outF, resumed)
	if err != nil {
		log.Fatal("Error opening trace file:", err)
	}
	if f != os.Stdout {
		defer f.Close()
	}
	trace := mcmc.NewTrace(f, cfg.MCMC.TracePeriod, a.columns())
	// the sampler skips the header when resuming
	if resumed && !appended {
		if err := trace.Header(); err != nil {
			log.Fatal(err)
		}
	}
	chain.SetTrace(trace)

	if err := chain.Run(cfg.MCMC.Iterations); err != nil {
		log.Fatal(err)
	}
	s := chain.Summary()
	log.Noticef("Maximum log posterior: %v", s.MaxLogPosterior)
	os.Stderr.WriteString(acceptanceTable(s.Acceptance) + "\n")
	summary.Optimizer = &s
	summary.LogPosterior = s.LogPosterior
}

// openTrace opens the trace output. A resumed run appends to an
// existing trace, appended is true if the file already has content.
func openTrace(name string, resumed bool) (f *os.File, appended bool, err error) {
	if name == "" {
		return os.Stdout, false, nil
	}
	if !resumed {
		f, err = os.Create(name)
		return f, false, err
	}
	f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, false, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	return f, info.Size() > 0, nil
}

func maxPosterior(summary *RunSummary) {
	cfg := loadConfig(*mapTrees, summary)
	a := setup(cfg)
	opt := mcmc.NewLBFGSB(a.posterior, a.continuous())
	opt.RepPeriod = cfg.MCMC.Report
	opt.WatchSignals(os.Interrupt, syscall.SIGUSR2)
	opt.Run()
	s := opt.Summary()
	os.Stdout.WriteString(columnsTable(a.columns()) + "\n")
	summary.Optimizer = &s
	summary.LogPosterior = s.MaxLogPosterior
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, name := range loggers {
		logging.SetLevel(level, name)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	startTime := time.Now()
	summary := &RunSummary{
		Command:     cmd,
		Version:     version,
		CommandLine: os.Args,
	}

	switch cmd {
	case loglikCmd.FullCommand():
		loglik(summary)
	case runCmd.FullCommand():
		run(summary)
	case mapCmd.FullCommand():
		maxPosterior(summary)
	case substCmd.FullCommand():
		cfg := loadConfig(nil, summary)
		if err := printSubstitution(os.Stdout, cfg, *substModel, *substFreqF, *substTimes); err != nil {
			log.Fatal(err)
		}
	case plotCmd.FullCommand():
		cfg := loadConfig(nil, summary)
		burnin := cfg.MCMC.Burnin
		if *plotBurnin >= 0 {
			burnin = *plotBurnin
		}
		if err := plotTrajectory(*plotTraceF, *plotOutF, burnin, *plotGrid); err != nil {
			log.Fatal(err)
		}
		log.Noticef("Plot written to %s", *plotOutF)
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
