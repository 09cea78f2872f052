package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"mte/internal/protocol"
)

// Dialer opens the message stream to a server
type Dialer func(ctx context.Context) (protocol.MessageStream, error)

const killDelay = 3 * time.Second

// Spawn starts a server process per connection and talks to it over its stdio
func Spawn(command string, args []string, dir string) Dialer {
	return func(ctx context.Context) (protocol.MessageStream, error) {
		if command == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate server binary: %w", err)
			}
			command = self
		}

		cmd := exec.Command(command, args...)
		cmd.Dir = dir
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("server stdin: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("server stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start server %s: %w", command, err)
		}
		return &processStream{
			MessageStream: protocol.NewHeaderStreamFrom(stdout, stdin, stdin),
			cmd:           cmd,
		}, nil
	}
}

// processStream stops the server process when closed: closing stdin asks it to exit,
// a process still running after killDelay is killed.
type processStream struct {
	protocol.MessageStream
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (p *processStream) Close() error {
	p.once.Do(func() {
		p.err = p.MessageStream.Close()

		done := make(chan struct{})
		go func() {
			_ = p.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(killDelay):
			_ = p.cmd.Process.Kill()
			<-done
		}
	})
	return p.err
}

// WebSocket connects to a server listening with serve --listen
func WebSocket(url string) Dialer {
	return func(ctx context.Context) (protocol.MessageStream, error) {
		return protocol.DialWebSocket(ctx, url)
	}
}

// Stream uses an existing connection. It can be dialed once.
func Stream(rwc io.ReadWriteCloser) Dialer {
	var used bool
	var mu sync.Mutex
	return func(context.Context) (protocol.MessageStream, error) {
		mu.Lock()
		defer mu.Unlock()
		if used {
			return nil, fmt.Errorf("stream already used")
		}
		used = true
		return protocol.NewHeaderStream(rwc), nil
	}
}
