// Package adb implements device.Link on top of the Android Debug Bridge
// command-line client.
//
// Every operation is one adb invocation addressed with "-s <serial>":
//
//	capture   shell screencap -p <remote>; pull <remote> <local>; shell rm <remote>
//	tap       shell input tap <x> <y>
//	query     shell getprop <key>
//	list      devices
//	connect   connect <host:port>
//
// Commands run through a Runner so tests can script adb output without a
// real device. Each call is bounded by the configured command timeout.
//
// ManagerSource reads running emulator instances from the MuMu manager CLI
// ("info -v all"), accepting both its JSON output and the older key: value
// text form.
package adb
