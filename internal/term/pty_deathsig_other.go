//go:build !linux && !windows

package term

import "syscall"

func setPtyDeathSignal(attr *syscall.SysProcAttr) {}
