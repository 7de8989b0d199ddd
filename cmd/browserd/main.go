package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/browserd/internal/api"
	"github.com/roelfdiedericks/browserd/internal/browser"
	"github.com/roelfdiedericks/browserd/internal/config"
	. "github.com/roelfdiedericks/browserd/internal/logging"
	"github.com/roelfdiedericks/browserd/internal/media"
	"github.com/roelfdiedericks/browserd/internal/webtool"
)

const version = "0.1.0"

type cli struct {
	LogLevel string `help:"Override log level (trace, debug, info, warn, error)." short:"l"`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the browser control plane server."`
	Status  statusCmd  `cmd:"" help:"Show browser status via a running server."`
	Stop    stopCmd    `cmd:"" help:"Stop the managed browser via a running server."`
	Tools   toolsCmd   `cmd:"" help:"List available tool operations."`
	Call    callCmd    `cmd:"" help:"Invoke a single tool operation."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type serveCmd struct{}
type statusCmd struct{}
type stopCmd struct{}
type toolsCmd struct{}

type callCmd struct {
	Name   string `arg:"" help:"Operation name (see: browserd tools)."`
	Args   string `help:"Arguments as a JSON object." default:"{}"`
	Target string `help:"Target tab id or unique prefix." short:"t"`
}

type versionCmd struct{}

func main() {
	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("browserd"),
		kong.Description("Local browser control plane: drives a Chromium instance over its debug protocol."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}

	Init(&Config{
		Level:      ParseLevel(cfg.Logging.Level),
		ShowCaller: true,
		File:       cfg.Logging.File,
	})

	ctx.FatalIfErrorf(ctx.Run(cfg))
}

func (c *serveCmd) Run(cfg *config.Config) error {
	L_info("browserd %s starting", version)

	store, err := media.NewStore(cfg.Media)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	store.Start()
	defer store.Close()

	plane := browser.NewPlane(cfg.Browser, store)
	fetcher := webtool.NewFetcher(plane)
	searcher := webtool.NewSearcher(cfg.Search.BraveAPIKey)
	plane.SetWebTools(fetcher, searcher)

	server := api.New(cfg.Server.Listen, plane)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		L_info("browserd: shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		L_warn("browserd: shutdown error", "error", err)
	}
	if res := plane.Lifecycle().Stop(); res.Stopped {
		L_info("browserd: managed browser stopped")
	}

	L_info("browserd: stopped")
	return nil
}

func (c *statusCmd) Run(cfg *config.Config) error {
	return clientGet(cfg, "/status")
}

func (c *stopCmd) Run(cfg *config.Config) error {
	return clientPost(cfg, "/stop", nil)
}

func (c *toolsCmd) Run(cfg *config.Config) error {
	return clientGet(cfg, "/tools")
}

func (c *callCmd) Run(cfg *config.Config) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Args), &args); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}
	body := map[string]any{"name": c.Name, "args": args}
	if c.Target != "" {
		body["targetId"] = c.Target
	}
	return clientPost(cfg, "/tools/call", body)
}

func (c *versionCmd) Run(cfg *config.Config) error {
	fmt.Printf("browserd %s\n", version)
	return nil
}

// clientGet calls a running server and prints the JSON response.
func clientGet(cfg *config.Config, path string) error {
	resp, err := http.Get("http://" + cfg.Server.Listen + path)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	return printResponse(resp)
}

func clientPost(cfg *config.Config, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post("http://"+cfg.Server.Listen+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Re-indent for the terminal; fall back to raw output.
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
