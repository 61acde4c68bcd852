package main

import "bitbucket.org/Davydov/skyride/mcmc"

// RunSummary is storing skyride run summary information.
type RunSummary struct {
	// Command is the sub-command executed.
	Command string `json:"command"`
	// Version stores skyride version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed,omitempty"`
	// LogPosterior is the final (or maximum for map) log posterior.
	LogPosterior float64 `json:"logPosterior,omitempty"`
	// Optimizer is the sampler or optimizer summary.
	Optimizer *mcmc.Summary `json:"optimizer,omitempty"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}
