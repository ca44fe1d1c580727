package adb

import "errors"

var (
	// ErrCommandFailed is returned when adb exits non-zero.
	ErrCommandFailed = errors.New("adb: command failed")

	// ErrConnectRefused is returned when "adb connect" reports a failure.
	ErrConnectRefused = errors.New("adb: connect refused")

	// ErrManagerOutput is returned when manager output cannot be parsed.
	ErrManagerOutput = errors.New("adb: unrecognised manager output")
)
