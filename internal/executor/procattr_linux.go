//go:build linux

package executor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// sessionAttr severs the child into its own session (setsid), so a
// SIGKILL aimed at it by pid never touches the fuzzer's own process
// group — spec §5's "process group is severed via setsid".
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// killSession sends SIGKILL to every process in pid's session. Setsid
// makes pid both the process group id and the session id of its own
// session, so killing the group is equivalent to killing the session.
func killSession(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// applyMemLimit wraps prog/args in a shell that sets an address-space
// ulimit before exec'ing the real target. Go's os/exec has no direct
// setrlimit-before-exec hook; this is the same shell-ulimit trick
// AFL-style fuzzers use to bound a child's memory without a custom
// launcher binary. No wrapping is needed when the limit is 0 (unlimited).
func applyMemLimit(cmd *exec.Cmd, limitMB int) *exec.Cmd {
	if limitMB <= 0 {
		return cmd
	}
	limitKB := limitMB * 1024
	script := fmt.Sprintf(`ulimit -v %d; exec "$@"`, limitKB)
	wrapped := exec.Command("/bin/sh", append([]string{"-c", script, "sh", cmd.Path}, cmd.Args[1:]...)...)
	wrapped.Env = cmd.Env
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr
	wrapped.SysProcAttr = cmd.SysProcAttr
	return wrapped
}
