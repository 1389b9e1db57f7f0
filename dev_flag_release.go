//go:build !dev

package main

// DevFlag carries profiling flags, which only exist in dev builds.
type DevFlag struct{}

func (d *DevFlag) StartProfiling() error { return nil }

func (d *DevFlag) StopProfiling() {}
