package zfsutil

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/diekhans/zfs-zipper/internal/zerrors"
)

// pipeline runs `zfs <sendArgs> | zfs <recvArgs>`, joining the two
// processes with a manually-created OS pipe (rather than cmd.StdoutPipe())
// so the parent can close both its own copies of the pipe's ends right
// after starting the children, letting a crashed receiver SIGPIPE the
// sender instead of leaving it blocked on a full pipe buffer forever.
//
// Each child's stderr is captured to its own temporary file; the send
// side's stderr (the `-P` progress descriptor) is what callers parse for
// the action's size/name columns.
func (d *CLIDriver) pipeline(sendArgs, recvArgs []string) ([][]string, error) {
	sendArgv := append([]string{d.zfs()}, sendArgs...)
	recvArgv := append([]string{d.zfs()}, recvArgs...)
	d.log.WithField("argv", strings.Join(sendArgv, " ")+" | "+strings.Join(recvArgv, " ")).Debug("running pipeline")

	r, w, err := os.Pipe()
	if err != nil {
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to create pipe")
	}

	sendStderr, err := os.CreateTemp("", "zfszipper-send-*.stderr")
	if err != nil {
		r.Close()
		w.Close()
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to create send stderr capture file")
	}
	defer os.Remove(sendStderr.Name())
	defer sendStderr.Close()

	recvStderr, err := os.CreateTemp("", "zfszipper-recv-*.stderr")
	if err != nil {
		r.Close()
		w.Close()
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to create receive stderr capture file")
	}
	defer os.Remove(recvStderr.Name())
	defer recvStderr.Close()

	sendCmd := exec.Command(d.zfs(), sendArgs...)
	sendCmd.Stdout = w
	sendCmd.Stderr = sendStderr

	recvCmd := exec.Command(d.zfs(), recvArgs...)
	recvCmd.Stdin = r
	recvCmd.Stderr = recvStderr

	if err := sendCmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to start %s", strings.Join(sendArgv, " "))
	}
	if err := recvCmd.Start(); err != nil {
		w.Close()
		r.Close()
		_ = sendCmd.Wait()
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to start %s", strings.Join(recvArgv, " "))
	}

	// Both children now hold their own copies of the pipe's fds; drop the
	// parent's copies so a dead receiver's end-of-pipe reaches the sender
	// as SIGPIPE rather than blocking it forever.
	w.Close()
	r.Close()

	sendWaitErr := sendCmd.Wait()
	recvWaitErr := recvCmd.Wait()

	sendErr := commandWaitError(sendArgv, sendWaitErr, sendStderr)
	recvErr := commandWaitError(recvArgv, recvWaitErr, recvStderr)

	if sendErr != nil || recvErr != nil {
		return nil, zerrors.Pipeline(sendErr, recvErr)
	}

	sendStderrText, err := readAllFromStart(sendStderr)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.PipelineError, err, "failed to read send stderr capture")
	}
	return splitTabLines(sendStderrText), nil
}

// commandWaitError converts a process's Wait() result into a
// *zerrors.Error (ZfsCommandError), or nil if the process succeeded.
func commandWaitError(argv []string, waitErr error, stderrFile *os.File) *zerrors.Error {
	if waitErr == nil {
		return nil
	}
	exitCode := -1
	if ee, ok := waitErr.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	stderrText, _ := readAllFromStart(stderrFile)
	return zerrors.Command(argv, exitCode, strings.TrimSpace(stderrText))
}

func readAllFromStart(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
