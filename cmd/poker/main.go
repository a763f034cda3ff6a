// Command poker is a line-oriented planning poker client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/DoyleJ11/planning-poker/internal/config"
	"github.com/DoyleJ11/planning-poker/internal/coordinator"
	"github.com/DoyleJ11/planning-poker/internal/localstate"
	"github.com/DoyleJ11/planning-poker/internal/logging"
	"github.com/DoyleJ11/planning-poker/internal/storeclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	dir := cfg.StateDir
	if dir == "" {
		if dir, err = localstate.DefaultDir(); err != nil {
			return err
		}
	}

	cl, err := storeclient.New(cfg.ServerURL, storeclient.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := newPrinter(os.Stdout)
	c := coordinator.New(cl, cl,
		coordinator.WithLogger(log),
		coordinator.WithCredentials(localstate.Open(dir)),
		coordinator.WithSink(out),
	)
	defer c.Close()

	if err := c.Resume(ctx); err != nil {
		out.println("could not reconnect:", err)
	}

	sh := &shell{c: c, out: out}
	return sh.loop(ctx, os.Stdin)
}

type shell struct {
	c   *coordinator.Coordinator
	out *printer
}

func (s *shell) loop(ctx context.Context, in io.Reader) error {
	s.out.println(usage)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(ctx, line)
			if err != nil {
				s.out.println("error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}
