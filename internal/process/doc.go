// Package process supervises a long-running child process.
//
// graytap uses it to keep a foreground adb server ("adb nodaemon server")
// alive when the host has no other service manager doing so.
//
// Features:
//   - Restart on unexpected exit with exponential backoff
//   - Backoff reset after a stable run
//   - Optional liveness probe that kills a hung process
//   - Line-based capture of stdout and stderr at debug level
//   - Bounded Stop: terminate the process group, then kill
//
// Example:
//
//	cfg := process.DefaultConfig("adb-server", "adb", process.ADBServerArgs)
//	cfg.Probe = func(ctx context.Context) error {
//	    _, err := client.DiscoverCandidates(ctx)
//	    return err
//	}
//	mgr := process.NewManager(cfg)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
