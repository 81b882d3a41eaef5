package main

const (
	exitCodeSuccess = 0
	exitCodeUsage   = 1
	exitCodeConfig  = 2
	exitCodeWalk    = 3
)
