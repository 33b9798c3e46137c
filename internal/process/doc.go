// Package process runs the heyu controller binary as a subprocess.
//
// Two shapes are supported:
//   - Stream: a long-running process (heyu monitor) whose stdout is delivered
//     line by line. It runs in its own process group, is stopped with SIGTERM
//     then SIGKILL, and any unrequested exit is reported as ErrStreamTerminated.
//   - Run: a one-shot command (heyu on a1) executed synchronously, returning
//     its exit status and combined output.
//
// Example usage:
//
//	stream, err := process.StartStream(ctx, process.StreamConfig{
//	    Name:   "heyu-monitor",
//	    Binary: "heyu",
//	    Args:   []string{"monitor"},
//	})
//	if err != nil {
//	    return err
//	}
//	for line := range stream.Lines() {
//	    handle(line)
//	}
//	return stream.Wait()
package process
