package protocol

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// procConn adapts a provider subprocess's stdio to the client's
// channel. Closing it closes stdin (the EXIT path) and reaps the
// process.
type procConn struct {
	io.Reader // provider stdout
	io.Writer // provider stdin
	stdin     io.Closer
	cmd       *exec.Cmd
}

func (p *procConn) Close() error {
	closeErr := p.stdin.Close()
	waitErr := p.cmd.Wait()
	if closeErr != nil {
		return closeErr
	}
	return waitErr
}

// Launch starts a provider subprocess and connects to it over stdio.
// The provider's stderr passes through, so its logs land with the
// engine's. Closing the returned client terminates the process.
func Launch(ctx context.Context, logger *telemetry.Logger, command string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open provider stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open provider stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start provider %s: %w", command, err)
	}

	conn := &procConn{
		Reader: stdout,
		Writer: stdin,
		stdin:  stdin,
		cmd:    cmd,
	}

	client, err := NewClient(ClientConfig{
		Conn:   conn,
		Closer: conn,
		Logger: logger,
	})
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to connect to provider %s: %w", command, err)
	}
	return client, nil
}
