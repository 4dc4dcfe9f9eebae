package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	// Packages
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Exit status which pauses the loop (EX_TEMPFAIL)
	exitPause = 75

	envMessageId    = "PGWORKER_MESSAGE_ID"
	envDequeueCount = "PGWORKER_DEQUEUE_COUNT"
)

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// execHandler returns a handler which runs a shell command for each message,
// with the message body on stdin. A non-zero exit status retries the message,
// and the pause exit status also pauses the loop.
func execHandler(command string, pause time.Duration, stdout, stderr io.Writer) worker.Handler {
	return func(ctx context.Context, message *schema.Message) error {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
		cmd.Stdin = bytes.NewReader(message.Body)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.Env = append(os.Environ(),
			envMessageId+"="+message.Id,
			envDequeueCount+"="+strconv.FormatUint(message.DequeueCount, 10),
		)

		err := cmd.Run()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitPause {
			return schema.Pause(pause, err)
		}
		return err
	}
}
