// Command renamer submits images to the gateway, follows the job and
// optionally renames the local files to the suggested names.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/basilysf1709/file-renamer-ai/internal/client"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
	"github.com/basilysf1709/file-renamer-ai/internal/poller"
	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
	"github.com/basilysf1709/file-renamer-ai/pkg/logging"
)

type cliConfig struct {
	Gateway  string        `env:"RENAMER_GATEWAY" envDefault:"http://localhost:8080"`
	Token    string        `env:"RENAMER_TOKEN"`
	Timeout  time.Duration `env:"RENAMER_TIMEOUT" envDefault:"120s"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"warn"`
}

const usage = `usage: renamer <command> [flags]

commands:
  credits                      show the remaining credit balance
  submit [flags] <file>...     rename images and wait for the result
  status <job-id>              show a tracked job
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_ = godotenv.Load()

	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	logger := logging.New(stderr, cfg.LogLevel, "text")

	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	c := client.New(cfg.Gateway, cfg.Token, cfg.Timeout)

	switch args[0] {
	case "credits":
		credits, err := c.Credits(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d credits\n", credits)
		return nil
	case "status":
		if len(args) != 2 {
			return errors.New("status needs exactly one job id")
		}
		rec, err := c.Job(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s %d/%d\n", rec.JobID, rec.Status, rec.Completed, rec.Total)
		if rec.Error != "" {
			fmt.Fprintln(stdout, rec.Error)
		}
		return nil
	case "submit":
		return submit(ctx, c, logger, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func submit(ctx context.Context, c *client.Client, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prompt := fs.String("prompt", "", "extra instructions for the namer")
	apply := fs.Bool("apply", false, "rename the local files to the suggested names")
	interval := fs.Duration("interval", poller.DefaultInterval, "delay between polls")
	attempts := fs.Int("attempts", poller.DefaultMaxAttempts, "maximum number of polls")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return errors.New("submit needs at least one file")
	}

	files := make([]upstream.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, upstream.File{Name: filepath.Base(p), ContentType: contentType(p, data), Data: data})
	}

	job, err := c.Submit(ctx, *prompt, files)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "job %s submitted (%d files)\n", job.JobID, len(files))

	result, err := poller.New(c, *interval, *attempts, logger).Wait(ctx, job.JobID, len(files), func(completed, total int) {
		fmt.Fprintf(stderr, "\r%d/%d", completed, total)
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return err
	}

	return report(result, paths, *apply, stdout)
}

func report(result models.JobResult, paths []string, apply bool, stdout io.Writer) error {
	namers := make(map[string]*client.Namer)
	for _, item := range result.Results {
		if item.Index < 0 || item.Index >= len(paths) {
			continue
		}
		path := paths[item.Index]
		if item.Failed() {
			fmt.Fprintf(stdout, "%s: %s\n", item.Original, item.Error)
			continue
		}
		if !apply {
			fmt.Fprintf(stdout, "%s -> %s\n", item.Original, *item.Suggested)
			continue
		}

		dir := filepath.Dir(path)
		namer, ok := namers[dir]
		if !ok {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			namer = client.NewNamer(names)
			namers[dir] = namer
		}

		target := filepath.Join(dir, namer.Name(filepath.Base(path), *item.Suggested))
		if err := os.Rename(path, target); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s -> %s\n", path, target)
	}
	return nil
}

func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
