// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rileycms/internal/api"
	"rileycms/internal/audit"
	"rileycms/internal/config"
	"rileycms/internal/content"
	"rileycms/internal/gitcgi"
	"rileycms/internal/logging"
	"rileycms/internal/storage"
	"rileycms/internal/webhook"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "init":
		err = cmdInit(os.Args[2:])
	case "upload":
		err = cmdUpload(os.Args[2:])
	case "ls":
		err = cmdLs(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: rileycms <command> [flags]

Commands:
  serve     Run the content service
  init      Scaffold a new content repository
  upload    Upload an asset to the storage bucket
  ls        List assets in the storage bucket
  validate  Check the content tree for problems
`)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to riley_cms.toml (defaults to search)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	logger := logging.New(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	store, err := content.NewStore(cfg.Content)
	if err != nil {
		return err
	}

	backend, err := gitcgi.New(cfg.Git.BackendPath, cfg.Content.RepoPath, cfg.Git.MaxBodySize, logger)
	if err != nil {
		return err
	}
	if !gitcgi.IsValidRepo(cfg.Content.RepoPath) {
		logger.Warn("Content repo_path is not a git repository; pushes will fail",
			"path", cfg.Content.RepoPath)
	}

	assets, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	var auditLog *audit.Log
	if cfg.Server.AuditDBPath != "" {
		auditLog, err = audit.Open(ctx, cfg.Server.AuditDBPath)
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	auth, err := api.NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}

	hooks := webhook.New(cfg.Webhooks, logger)
	srv := api.NewServer(cfg, store, backend, hooks, assets, auditLog, auth, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
		// Read and write timeouts stay off: a git push can legitimately
		// run for minutes. The CGI layer enforces its own deadline.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Starting Riley CMS", "addr", server.Addr, "etag", store.ETag())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

const initConfig = `[content]
repo_path = "."
content_dir = "content"

[storage]
backend = "s3"
bucket = "my-assets-bucket"
region = "auto"
# endpoint = "https://<account>.r2.cloudflarestorage.com"
public_url_base = "https://assets.example.com"

[server]
host = "0.0.0.0"
port = 8080
cors_origins = []

[git]
# max_body_size = 104857600
# cgi_timeout_secs = 300

[webhooks]
on_content_update = []
secret = "env:RILEY_WEBHOOK_SECRET"

[auth]
git_token = "env:RILEY_GIT_TOKEN"
api_token = "env:RILEY_API_TOKEN"
`

const initPostConfig = `title = "Hello World"
preview_text = "A first post to prove the pipeline works."
tags = ["meta"]
# Remove this line to keep the post as a draft:
goes_live_at = 2026-01-01T00:00:00Z
`

const initPostContent = `# Hello World

Welcome to your new content repository. Edit this post, commit, and push.
`

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args)

	dir := "."
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	postDir := filepath.Join(dir, "content", "hello-world")
	if err := os.MkdirAll(postDir, 0o755); err != nil {
		return err
	}
	files := map[string]string{
		cfgPath:                               initConfig,
		filepath.Join(postDir, "config.toml"): initPostConfig,
		filepath.Join(postDir, "content.mdx"): initPostContent,
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}

	fmt.Printf("Initialized content repository in %s\n", dir)
	fmt.Println("Next: edit", config.FileName, "and run `rileycms serve`")
	return nil
}

func cmdUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to riley_cms.toml (defaults to search)")
	key := fs.String("key", "", "Destination key (defaults to the file name)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rileycms upload [flags] <file>")
	}
	localPath := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	destKey := *key
	if destKey == "" {
		destKey = filepath.Base(localPath)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage, slog.Default())
	if err != nil {
		return err
	}
	asset, err := store.Upload(ctx, localPath, destKey)
	if err != nil {
		return err
	}
	fmt.Println(asset.URL)
	return nil
}

func cmdLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to riley_cms.toml (defaults to search)")
	drafts := fs.Bool("drafts", false, "Include drafts and scheduled items")
	limit := fs.Int("limit", storage.DefaultListLimit, "Maximum number of assets to list")
	token := fs.String("token", "", "Continuation token from a previous asset listing")
	fs.Parse(args)

	subject := "posts"
	if fs.NArg() > 0 {
		subject = fs.Arg(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	switch subject {
	case "posts", "series":
		idx, err := content.Load(cfg.Content)
		if err != nil {
			return err
		}
		max := content.MaxPageSize
		opts := content.ListOptions{
			IncludeDrafts:    *drafts,
			IncludeScheduled: *drafts,
			Limit:            &max,
		}
		if subject == "posts" {
			for _, p := range idx.ListPosts(opts).Items {
				fmt.Printf("%-30s  %s%s\n", p.Slug, p.Title, stateSuffix(p.GoesLiveAt))
			}
		} else {
			for _, s := range idx.ListSeries(opts).Items {
				fmt.Printf("%-30s  %s (%d posts)%s\n", s.Slug, s.Title, s.PostCount, stateSuffix(s.GoesLiveAt))
			}
		}
		return nil

	case "assets":
		ctx := context.Background()
		store, err := storage.New(ctx, cfg.Storage, slog.Default())
		if err != nil {
			return err
		}
		page, err := store.List(ctx, storage.ListOptions{Limit: *limit, Token: *token})
		if err != nil {
			return err
		}
		for _, a := range page.Assets {
			fmt.Printf("%10d  %s\n", a.Size, a.URL)
		}
		if page.NextToken != "" {
			fmt.Printf("\nmore results: --token %s\n", page.NextToken)
		}
		return nil

	default:
		return fmt.Errorf("usage: rileycms ls [posts|series|assets]")
	}
}

func stateSuffix(goesLiveAt *time.Time) string {
	switch {
	case goesLiveAt == nil:
		return "  [draft]"
	case goesLiveAt.After(time.Now().UTC()):
		return "  [scheduled]"
	default:
		return ""
	}
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to riley_cms.toml (defaults to search)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	idx, err := content.Load(cfg.Content)
	if err != nil {
		return err
	}

	errs := idx.Validate()
	if len(errs) == 0 {
		fmt.Println("Content is valid")
		return nil
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "%s: %s\n", e.Path, e.Message)
	}
	return fmt.Errorf("%d validation problem(s) found", len(errs))
}
