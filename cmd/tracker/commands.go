package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/safety-report-tracker/internal/bootstrap"
	"github.com/kirillkom/safety-report-tracker/internal/config"
	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/auth"
)

type commandFunc func(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error

var commands = map[string]commandFunc{
	"submit":  submitCommand,
	"track":   trackCommand,
	"history": historyCommand,
	"delete":  deleteCommand,
	"pdf":     pdfCommand,
	"export":  exportCommand,
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	token := fs.String("token", "", "bearer token; overrides AUTH_TOKEN")
	return fs, token
}

func withToken(ctx context.Context, token string) context.Context {
	if strings.TrimSpace(token) == "" {
		return ctx
	}
	return auth.WithCredential(ctx, token)
}

func submitCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("submit", stderr)
	path := fs.String("file", "", "image to upload")
	mimeType := fs.String("mime", "", "image MIME type; detected when empty")
	track := fs.Bool("track", true, "track the request until it completes")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *path == "" {
		fmt.Fprintln(stderr, "submit: -file is required")
		return errUsage
	}

	image, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	ctx = withToken(ctx, *token)

	requestID, err := app.Submitter.Submit(ctx, domain.UploadRequest{
		Image:    image,
		FileName: filepath.Base(*path),
		MimeType: detectMimeType(*mimeType, *path, image),
	})
	if err != nil {
		return err
	}
	if !*track {
		return writeJSON(stdout, map[string]string{"request_id": requestID})
	}
	return trackRequest(ctx, app, requestID, stdout)
}

func trackCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("track", stderr)
	requestID := fs.String("id", "", "request id to track")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *requestID == "" {
		fmt.Fprintln(stderr, "track: -id is required")
		return errUsage
	}
	return trackRequest(withToken(ctx, *token), app, *requestID, stdout)
}

// trackRequest prints one JSON line per progress update and the completion payload last.
func trackRequest(ctx context.Context, app *bootstrap.App, requestID string, stdout io.Writer) error {
	encoder := json.NewEncoder(stdout)
	session, err := app.Tracker.Track(ctx, requestID, domain.TrackCallbacks{
		OnProgress: func(flags domain.StageFlags) {
			_ = encoder.Encode(map[string]any{"request_id": requestID, "progress": flags})
		},
		OnComplete: func(payload domain.CompletionPayload) {
			_ = encoder.Encode(payload)
		},
	})
	if err != nil {
		return err
	}
	<-session.Done()
	if session.State() != domain.SessionCompleted {
		return fmt.Errorf("request %s %s: %w", requestID, session.State(), session.Err())
	}
	return nil
}

func historyCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("history", stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	entries, err := app.History.Refresh(withToken(ctx, *token))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return writeJSON(stdout, entries)
}

func deleteCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("delete", stderr)
	requestID := fs.String("id", "", "request id to delete")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := app.Actions.Delete(withToken(ctx, *token), *requestID); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"deleted": *requestID})
}

func pdfCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("pdf", stderr)
	requestID := fs.String("id", "", "request id whose PDF to download")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	key, err := app.Actions.DownloadPDF(withToken(ctx, *token), *requestID)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]string{"request_id": *requestID, "key": key})
}

func exportCommand(ctx context.Context, app *bootstrap.App, args []string, stdout, stderr io.Writer) error {
	fs, token := newFlagSet("export", stderr)
	out := fs.String("out", "history.xlsx", "workbook path")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if _, err := app.History.Refresh(withToken(ctx, *token)); err != nil {
		return err
	}

	file, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	if err := app.History.Export(file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", *out, err)
	}
	return writeJSON(stdout, map[string]any{"path": *out, "entries": len(app.History.Entries())})
}

func printConfig(cfg config.Config, stdout io.Writer) error {
	encoder := yaml.NewEncoder(stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return encoder.Close()
}

func detectMimeType(explicit, path string, image []byte) string {
	if explicit != "" {
		return explicit
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return http.DetectContentType(image)
}

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
