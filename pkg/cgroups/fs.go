package cgroups

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-unitd/pkg/errors"
)

const (
	defaultMountPoint = "/sys/fs/cgroup"
	defaultProcRoot   = "/proc"

	// PF_KTHREAD in the kernel's per-task flags word.
	flagKernelThread = 0x00200000
)

// FSController implements ResourceController against the unified resource
// hierarchy mount and procfs.
type FSController struct {
	MountPoint string
	ProcRoot   string
}

func NewFSController() *FSController {
	return &FSController{
		MountPoint: defaultMountPoint,
		ProcRoot:   defaultProcRoot,
	}
}

func (c *FSController) groupDir(group string) string {
	return filepath.Join(c.MountPoint, group)
}

func (c *FSController) procDir(pid int32) string {
	return filepath.Join(c.ProcRoot, strconv.Itoa(int(pid)))
}

func (c *FSController) Processes(group string) ([]int32, error) {
	f, err := os.Open(filepath.Join(c.groupDir(group), "cgroup.procs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.NewIOError("failed to open process list of group "+group, err)
	}
	defer f.Close()

	var pids []int32
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			return nil, errors.NewIOError("malformed process list entry in group "+group, err)
		}
		pids = append(pids, int32(pid))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIOError("failed to read process list of group "+group, err)
	}
	return pids, nil
}

func (c *FSController) Subgroups(group string) ([]string, error) {
	entries, err := os.ReadDir(c.groupDir(group))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.NewIOError("failed to enumerate subgroups of "+group, err)
	}

	var subgroups []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		subgroups = append(subgroups, filepath.Join(group, e.Name()))
	}
	return subgroups, nil
}

// Command returns the process command line with argument separators turned
// into spaces, falling back to the bracketed short name when the command
// line is empty (zombies, kernel threads).
func (c *FSController) Command(pid int32) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.procDir(pid), "cmdline"))
	if err != nil {
		return "", errors.NewIOError(fmt.Sprintf("failed to read command line of PID %d", pid), err)
	}

	data = bytes.TrimRight(data, "\x00")
	if len(data) > 0 {
		return string(bytes.ReplaceAll(data, []byte{0}, []byte{' '})), nil
	}

	comm, err := os.ReadFile(filepath.Join(c.procDir(pid), "comm"))
	if err != nil {
		return "", errors.NewIOError(fmt.Sprintf("failed to read short name of PID %d", pid), err)
	}
	return "[" + string(bytes.TrimSpace(comm)) + "]", nil
}

func (c *FSController) OwnerUID(pid int32) (int, error) {
	data, err := os.ReadFile(filepath.Join(c.procDir(pid), "status"))
	if err != nil {
		return -1, errors.NewIOError(fmt.Sprintf("failed to read status of PID %d", pid), err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		// Uid: real effective saved filesystem
		fields := strings.Fields(line[len("Uid:"):])
		if len(fields) < 2 {
			break
		}
		uid, err := strconv.Atoi(fields[1])
		if err != nil {
			break
		}
		return uid, nil
	}
	return -1, errors.NewIOError(fmt.Sprintf("no owner UID found for PID %d", pid), nil)
}

func (c *FSController) IsKernelThread(pid int32) (bool, error) {
	flags, err := c.taskFlags(pid)
	if err != nil {
		return false, err
	}
	return flags&flagKernelThread != 0, nil
}

// taskFlags parses the kernel flags word out of the stat line. The short
// name field may contain spaces and parentheses, so fields are counted from
// the final closing parenthesis.
func (c *FSController) taskFlags(pid int32) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(c.procDir(pid), "stat"))
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("failed to read stat of PID %d", pid), err)
	}

	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return 0, errors.NewIOError(fmt.Sprintf("malformed stat line of PID %d", pid), nil)
	}

	// After the name: state ppid pgrp session tty tpgid flags ...
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 7 {
		return 0, errors.NewIOError(fmt.Sprintf("truncated stat line of PID %d", pid), nil)
	}
	flags, err := strconv.ParseUint(fields[6], 10, 64)
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("malformed flags field of PID %d", pid), err)
	}
	return flags, nil
}

func (c *FSController) Attach(group string, pids []int32) error {
	procs := filepath.Join(c.groupDir(group), "cgroup.procs")
	for _, pid := range pids {
		if err := os.WriteFile(procs, []byte(strconv.Itoa(int(pid))), 0); err != nil {
			return errors.NewIOError(fmt.Sprintf("failed to attach PID %d to group %s", pid, group), err)
		}
	}
	return nil
}

func (c *FSController) MemoryCurrent(group string) (uint64, error) {
	return c.readCounter(group, "memory.current")
}

func (c *FSController) TaskCount(group string) (uint64, error) {
	return c.readCounter(group, "pids.current")
}

func (c *FSController) CPUUsageNSec(group string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(c.groupDir(group), "cpu.stat"))
	if err != nil {
		return 0, errors.NewResourceUnavailableError("CPU accounting not available for group "+group, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "usage_usec ") {
			continue
		}
		usec, err := strconv.ParseUint(strings.TrimSpace(line[len("usage_usec "):]), 10, 64)
		if err != nil {
			return 0, errors.NewIOError("malformed CPU usage counter of group "+group, err)
		}
		return usec * 1000, nil
	}
	return 0, errors.NewResourceUnavailableError("no CPU usage counter for group "+group, nil)
}

// IPAccounting requires an in-kernel packet filter this controller does not
// install, so the counters are reported as unavailable.
func (c *FSController) IPAccounting(group string) (IPAccounting, error) {
	return IPAccounting{}, errors.NewResourceUnavailableError("IP accounting not enabled for group "+group, nil)
}

func (c *FSController) readCounter(group, file string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(c.groupDir(group), file))
	if err != nil {
		return 0, errors.NewResourceUnavailableError(
			fmt.Sprintf("counter %s not available for group %s", file, group), err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, errors.NewIOError(
			fmt.Sprintf("malformed counter %s of group %s", file, group), err)
	}
	return v, nil
}
