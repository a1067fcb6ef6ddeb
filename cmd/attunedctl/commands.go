package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/attuned-ai/attuned/internal/bootstrap"
	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
)

const defaultCommandTimeout = 2 * time.Minute

// withRuntime wires the session core, initializes it, and hands control
// to f. The runtime is torn down on every path.
func withRuntime(cmdCtx *commandContext, f func(context.Context, *bootstrap.Runtime) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	rt, err := bootstrap.NewRuntime(cmdCtx.Config, cmdCtx.Logger, bootstrap.RuntimeOptions{
		Mount: func(domainsession.Flow) {},
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			cmdCtx.Logger.Warn("runtime close failed", "error", cerr)
		}
	}()

	if err := rt.Controller.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session controller: %w", err)
	}

	return f(ctx, rt)
}

func runSignup(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", "", "Account password (required)")
	profileJSON := fs.String("profile", "", "Optional seed profile as JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("--email and --password are required")
	}

	seed, err := parseProfileJSON(*profileJSON)
	if err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		sess, err := rt.Controller.Signup(ctx, *email, *password, seed)
		if err != nil {
			return err
		}
		if err := writef(os.Stdout, "signed up as %s (%s)\n", sess.Email, sess.UserID); err != nil {
			return err
		}
		return writef(os.Stdout, "flow: %s\n", currentFlow(rt))
	})
}

func runLogin(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", "", "Account password (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("--email and --password are required")
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		sess, err := rt.Controller.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		if err := writef(os.Stdout, "logged in as %s (%s)\n", sess.Email, sess.UserID); err != nil {
			return err
		}
		return writef(os.Stdout, "flow: %s\n", currentFlow(rt))
	})
}

func runWhoami(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print the session as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(_ context.Context, rt *bootstrap.Runtime) error {
		st := rt.Controller.State()
		if !st.Session.Authenticated() {
			return writeln(os.Stdout, "not authenticated")
		}
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(domainsession.SnapshotOf(st.Session))
		}
		if err := writef(os.Stdout, "user:       %s\n", st.Session.UserID); err != nil {
			return err
		}
		if err := writef(os.Stdout, "email:      %s\n", st.Session.Email); err != nil {
			return err
		}
		if err := writef(os.Stdout, "onboarded:  %t\n", st.Session.OnboardingComplete); err != nil {
			return err
		}
		return writef(os.Stdout, "flow:       %s\n", currentFlow(rt))
	})
}

func runLogout(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if err := rt.Controller.Logout(ctx); err != nil {
			return err
		}
		return writeln(os.Stdout, "logged out")
	})
}

func runUpdateProfile(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("update-profile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	profileJSON := fs.String("profile", "", "Partial profile as JSON object (required); null values delete keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*profileJSON) == "" {
		return errors.New("--profile is required")
	}

	partial, err := parseProfileJSON(*profileJSON)
	if err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		merged, err := rt.Controller.UpdateProfile(ctx, partial)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(merged)
	})
}

func runCompleteOnboarding(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("complete-onboarding", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if err := rt.Controller.CompleteOnboarding(ctx); err != nil {
			return err
		}
		return writef(os.Stdout, "onboarding complete; flow: %s\n", currentFlow(rt))
	})
}

func runUpload(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := fs.String("file", "", "Path to the chat-log export (required)")
	name := fs.String("name", "", "Override the uploaded filename")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close upload file failed", "error", cerr)
		}
	}()

	filename := *name
	if filename == "" {
		filename = filepath.Base(*file)
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		res, err := rt.Controller.UploadDerivedData(ctx, filename, f)
		if err != nil {
			return err
		}
		return writef(os.Stdout, "uploaded %s: id=%s records=%d features=%d\n",
			filename, res.DerivedDataID, res.RecordCount, res.FeatureCount)
	})
}

func runResendConfirmation(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("resend-confirmation", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	email := fs.String("email", "", "Account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if err := rt.Controller.ResendConfirmation(ctx, *email); err != nil {
			return err
		}
		return writef(os.Stdout, "confirmation email sent to %s\n", *email)
	})
}

func runResetPassword(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	email := fs.String("email", "", "Account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	return withRuntime(cmdCtx, func(ctx context.Context, rt *bootstrap.Runtime) error {
		if err := rt.Controller.ResetPassword(ctx, *email); err != nil {
			return err
		}
		return writef(os.Stdout, "recovery email sent to %s\n", *email)
	})
}

func parseProfileJSON(s string) (domainsession.Profile, error) {
	if strings.TrimSpace(s) == "" {
		return domainsession.Profile{}, nil
	}
	var p domainsession.Profile
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("parse profile JSON: %w", err)
	}
	return p, nil
}

func currentFlow(rt *bootstrap.Runtime) domainsession.Flow {
	st := rt.Controller.State()
	return domainsession.ResolveFlow(st.Status, st.Session)
}
