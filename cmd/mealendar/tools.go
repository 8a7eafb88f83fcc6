package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"mealendar/internal/auth"
	"mealendar/internal/capture"
	"mealendar/internal/chat"
	appLog "mealendar/internal/log"
	"mealendar/internal/schedule"
)

func dayCommand() *cli.Command {
	return &cli.Command{
		Name:      "day",
		Usage:     "print one day's schedule from the shared calendars",
		ArgsUsage: "[YYYY-MM-DD]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the /api/calendar/events response"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// No database: lookups go straight to the geocoder.
			svc, err := newScheduleService(conf, nil)
			if err != nil {
				appLog.Warn("some calendars are unavailable", "err", err)
			}

			shared := svc.Shared()
			if len(shared) == 0 {
				return errors.New("no shared ics or caldav calendars configured")
			}
			for _, src := range shared {
				appLog.Debug("shared calendar", "name", src.Name())
			}

			d, err := svc.Day(ctx, nil, "", cmd.Args().First())
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(schedule.NewResponse(d))
			}
			fmt.Println(chat.FormatSchedule(d))
			return nil
		},
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "capture a PNG of the running dashboard with headless Chromium",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "page to capture (default: the local dashboard)"},
			&cli.StringFlag{Name: "date", Usage: "day to show, YYYY-MM-DD"},
			&cli.StringFlag{Name: "out", Usage: "output PNG path (default: <data_dir>/preview.png)"},
			&cli.IntFlag{Name: "width", Value: capture.DefaultWidth},
			&cli.IntFlag{Name: "height", Value: capture.DefaultHeight},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts := captureOptions(conf, cmd.String("date"))
			if u := cmd.String("url"); u != "" {
				opts.URL = u
			}
			if out := cmd.String("out"); out != "" {
				opts.OutputPath = out
			}
			opts.Width = int(cmd.Int("width"))
			opts.Height = int(cmd.Int("height"))

			if err := capture.CapturePNG(ctx, opts); err != nil {
				return err
			}
			fmt.Println(opts.OutputPath)
			return nil
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "print an argon2id hash for basic_auth.password",
		Action: func(_ context.Context, _ *cli.Command) error {
			password, err := readPassword("Enter password:   ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

var stdinLines = bufio.NewReader(os.Stdin)

// readPassword reads without echo from a terminal, or one line from piped
// stdin.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinLines.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
