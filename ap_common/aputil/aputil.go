/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package aputil holds small utilities shared across netwatch's components:
// a child-process wrapper used by the Probe Runner to invoke external
// discovery tools, filesystem helpers, and the zap-based logging setup.
package aputil

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Child is used to build and track the state of a child subprocess.  The
// Probe Runner uses this to invoke nmap, traceroute, enum4linux-ng, and ip
// without duplicating process plumbing at each call site.
type Child struct {
	Cmd     *exec.Cmd
	Process *os.Process

	pipes  int
	done   chan bool
	logger *log.Logger
	prefix string
	tail   *circularBuf
}

// Wait for stdout/stderr from a process, and print whatever it sends.  When
// the pipe is closed, notify our caller.
func handlePipe(c *Child, r io.ReadCloser) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if c.tail != nil {
			c.tail.Write([]byte(line + "\n"))
		}
		if c.logger != nil {
			c.logger.Printf("%s%s\n", c.prefix, line)
		}
	}

	c.done <- true
}

// Start launches a prepared child process.
func (c *Child) Start() error {
	err := c.Cmd.Start()
	if err == nil {
		c.Process = c.Cmd.Process
	}
	return err
}

// Wait waits for the child process to exit.  If we are capturing its
// output, we will wait for the stdout/stderr pipes to be closed first.
func (c *Child) Wait() error {
	for c.pipes > 0 {
		<-c.done
		c.pipes--
	}
	return c.Cmd.Wait()
}

// SetUID allows us to launch a child process with different credentials
// than the launching daemon.
func (c *Child) SetUID(uid, gid uint32) {
	cred := syscall.Credential{
		Uid: uid,
		Gid: gid,
	}

	attr := syscall.SysProcAttr{
		Credential: &cred,
	}

	c.Cmd.SysProcAttr = &attr
}

// LogOutputTo will cause us to capture the stdout/stderr streams from a
// child process and write them to w, and also retains the last kilobyte
// of combined output so a failing probe can attach diagnostic context to
// its warn-level log line without re-running the tool.
func (c *Child) LogOutputTo(prefix string, flags int, w io.Writer) {
	c.logger = log.New(w, "", flags)
	c.prefix = prefix
	c.tail = newCBuf(1024)

	c.pipes = 0
	c.done = make(chan bool)
	if stdout, err := c.Cmd.StdoutPipe(); err == nil {
		c.pipes++
		go handlePipe(c, stdout)
	}
	if stderr, err := c.Cmd.StderrPipe(); err == nil {
		c.pipes++
		go handlePipe(c, stderr)
	}
}

// Tail returns the most recently captured output, if LogOutputTo was
// called; otherwise it returns an empty string.
func (c *Child) Tail() string {
	if c.tail == nil {
		return ""
	}
	return string(c.tail.contents())
}

// NewChild instantiates the tracking structure for a child process.
func NewChild(execpath string, args ...string) *Child {
	var c Child

	c.Cmd = exec.Command(execpath, args...)

	return &c
}

// FileExists checks to see whether the file/directory at the path location
// exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return false
	}
	return true
}

// ExpandDirPath takes a path name and will translate it into a root-relative
// path if that incoming path starts with a single '/'.  A path starting with
// '//' has one leading '/' removed; any other path is returned unchanged.
// The root directory is
// taken from the NETWATCH_ROOT environment variable, defaulting to the
// current directory.
func ExpandDirPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}
	if strings.HasPrefix(path, "//") {
		return strings.TrimPrefix(path, "/")
	}

	root := os.Getenv("NETWATCH_ROOT")
	if root == "" {
		root = "./"
	}
	return root + path
}

// Errorf is like fmt.Printf except it goes to os.Stderr.  It does *NOT*
// return an error object the way fmt.Errorf does.
func Errorf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format, v...)
}

// Fatalf is Errorf + os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
