package main

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestRunServeStopsOnSIGTERM(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "src/lib.rs", "pub fn greet() {}\n")

	done := make(chan int, 1)
	go func() {
		done <- runServe([]string{"--repo", repo, "--debounce-ms", "10"})
	}()

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("runServe() = %d, want 0 on graceful SIGTERM shutdown", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe() did not return within 5s of SIGTERM")
	}
}
