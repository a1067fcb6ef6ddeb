package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/attuned-ai/attuned/config"
	"github.com/attuned-ai/attuned/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

func main() {
	logger := bootstrap.InitLogger(false)

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	// One-shot invocations never live long enough for a refresh cycle.
	cfg.Identity.DisableAutoRefresh = true

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"signup": {
			name:        "signup",
			description: "Create an account and establish a local session",
			run:         runSignup,
		},
		"login": {
			name:        "login",
			description: "Authenticate and establish a local session",
			run:         runLogin,
		},
		"whoami": {
			name:        "whoami",
			description: "Show the current session and resolved flow",
			run:         runWhoami,
		},
		"logout": {
			name:        "logout",
			description: "Clear the local session and sign out of the provider",
			run:         runLogout,
		},
		"update-profile": {
			name:        "update-profile",
			description: "Merge profile fields through the backend",
			run:         runUpdateProfile,
		},
		"complete-onboarding": {
			name:        "complete-onboarding",
			description: "Mark onboarding as finished",
			run:         runCompleteOnboarding,
		},
		"upload": {
			name:        "upload",
			description: "Upload a chat-log export for analysis",
			run:         runUpload,
		},
		"resend-confirmation": {
			name:        "resend-confirmation",
			description: "Re-send the signup confirmation email",
			run:         runResendConfirmation,
		},
		"reset-password": {
			name:        "reset-password",
			description: "Start the password recovery flow",
			run:         runResetPassword,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: attunedctl <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-22s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
