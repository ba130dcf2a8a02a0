package util

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// InterruptContext is cancelled on the first SIGINT/SIGTERM so running work
// can stop at its next checkpoint. A second signal exits immediately.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sig:
			fmt.Println("\nInterrupt received. Finishing the current step...")
			cancel()
		case <-ctx.Done():
			signal.Stop(sig)
			return
		}

		<-sig
		fmt.Println("\nExiting due to interrupt.")
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

// CleanupPartials removes leftover ".part" files below dir, written by image
// downloads that never reached their rename. Files modified within olderThan
// may belong to another process still downloading and are kept.
func CleanupPartials(dir string, olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed
}
