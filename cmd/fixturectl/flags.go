package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type UpFlags struct {
	ConfigPath string
	APIListen  string
	RunID      string
	LeakCheck  string
}

type StatusFlags struct {
	Name     string
	Pattern  string
	Manifest bool
	// Remote fixture connection
	APIUrl     string
	APITimeout time.Duration
}

type TerminateFlags struct {
	Name       string
	Force      bool
	APIUrl     string
	APITimeout time.Duration
}

type PortsFlags struct {
	Count int
	Base  int
	Host  string
	Probe bool
}

type WaitFilesFlags struct {
	Timeout  time.Duration
	Interval time.Duration
}
