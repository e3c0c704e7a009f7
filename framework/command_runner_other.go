//go:build !unix

package framework

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
