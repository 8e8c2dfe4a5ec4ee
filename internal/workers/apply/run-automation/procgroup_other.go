//go:build !unix

// internal/workers/apply/run-automation/procgroup_other.go
package runautomation

import "os/exec"

func startInOwnGroup(cmd *exec.Cmd) {}
