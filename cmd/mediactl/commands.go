package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/vnmchuo/transcribe-client/internal/api"
	"github.com/vnmchuo/transcribe-client/internal/credential"
	"github.com/vnmchuo/transcribe-client/internal/logging"
)

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func runSession(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	switch args[0] {
	case "set":
		fs := a.flags("session set")
		access := fs.String("access", "", "access token")
		refresh := fs.String("refresh", "", "refresh token")
		if err := parse(fs, args[1:]); err != nil {
			return err
		}
		if err := credential.Init(ctx, a.store, credential.Pair{Access: strings.TrimSpace(*access), Refresh: strings.TrimSpace(*refresh)}); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "session stored")
		return nil

	case "show":
		pair, err := a.store.Load(ctx)
		if errors.Is(err, credential.ErrNoCredentials) {
			fmt.Fprintln(a.stdout, "no session")
			return nil
		}
		if err != nil {
			return err
		}
		printToken(a, "access", pair.Access)
		printToken(a, "refresh", pair.Refresh)
		return nil

	case "clear":
		if err := a.store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "session cleared")
		return nil
	}
	return fmt.Errorf("%w: unknown session command %q", errUsage, args[0])
}

func printToken(a *app, name, token string) {
	if token == "" {
		fmt.Fprintf(a.stdout, "%s=<none>\n", name)
		return
	}
	line := fmt.Sprintf("%s=%s", name, logging.Redact(token))
	if claims, err := credential.Inspect(token); err == nil && !claims.ExpiresAt.IsZero() {
		line += " expires=" + claims.ExpiresAt.Format(time.RFC3339)
		if claims.Expired(time.Now()) {
			line += " (expired)"
		}
	}
	fmt.Fprintln(a.stdout, line)
}

func runWhoami(ctx context.Context, a *app) error {
	u, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "id=%d username=%s email=%s\n", u.ID, u.Username, u.Email)
	return nil
}

func runTranscribe(ctx context.Context, a *app, args []string) error {
	fs := a.flags("transcribe")
	fileID := fs.Int64("file", 0, "media file id")
	language := fs.String("language", "en", "spoken language")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *fileID <= 0 {
		return fmt.Errorf("%w: --file is required", errUsage)
	}

	j, err := a.client.StartTranscription(ctx, *fileID, *language)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "job_id=%d status=%s\n", j.ID, j.Status)
	return nil
}

func runAnalyze(ctx context.Context, a *app, args []string) error {
	fs := a.flags("analyze")
	jobID := fs.Int64("job", 0, "transcription job id")
	typ := fs.String("type", string(api.AnalysisSummary), "SUMMARY, REPORT, TRANSLATION or CUSTOM")
	prompt := fs.String("prompt", "", "extra instructions")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *jobID <= 0 {
		return fmt.Errorf("%w: --job is required", errUsage)
	}

	r, err := a.client.RequestAnalysis(ctx, *jobID, api.AnalysisType(*typ), *prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "request_id=%d type=%s status=%s\n", r.ID, r.Type, r.Status)
	return nil
}
