// Command notarize uploads files to a Basalt server and prints their evidence.
//
//	notarize -key bslt_... -meta author=ada photo.jpg scan.pdf
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/basalt/basalt/pkg/basalt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("notarize", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		baseURL  = fs.String("url", envOr("BASALT_URL", basalt.DefaultBaseURL), "Basalt server URL")
		apiKey   = fs.String("key", os.Getenv("BASALT_API_KEY"), "API key (bslt_...)")
		asJSON   = fs.Bool("json", false, "Print evidence as JSON")
		verify   = fs.Bool("verify", false, "Verify each result against the server after notarizing")
		metadata = map[string]string{}
	)
	fs.Func("meta", "Metadata as key=value; repeatable", func(v string) error {
		k, val, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("expected key=value, got %q", v)
		}
		metadata[strings.TrimSpace(k)] = val
		return nil
	})
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: notarize [flags] file...")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	client := basalt.New(basalt.WithBaseURL(*baseURL), basalt.WithAPIKey(*apiKey))

	failed := 0
	for _, path := range fs.Args() {
		ev, err := client.Notarize(ctx, path, metadata)
		if err != nil {
			failed++
			fmt.Fprintf(stderr, "%s: %s\n", path, describe(err))
			if errors.Is(err, basalt.ErrServerUnreachable) || errors.Is(err, context.Canceled) {
				break
			}
			continue
		}

		if *asJSON {
			enc := json.NewEncoder(stdout)
			_ = enc.Encode(struct {
				File     string           `json:"file"`
				Evidence *basalt.Evidence `json:"evidence"`
			}{path, ev})
		} else {
			fmt.Fprintf(stdout, "%s\n%s\n", path, ev)
		}

		if *verify {
			ok, err := client.Verify(ctx, ev)
			switch {
			case err != nil:
				failed++
				fmt.Fprintf(stderr, "%s: verify: %s\n", path, describe(err))
			case !ok:
				failed++
				fmt.Fprintf(stderr, "%s: server has no matching record\n", path)
			default:
				fmt.Fprintf(stderr, "%s: verified\n", path)
			}
		}
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func describe(err error) string {
	var nerr *basalt.NotarizationError
	switch {
	case errors.Is(err, basalt.ErrFileNotFound):
		return "file not found"
	case errors.Is(err, basalt.ErrServerUnreachable):
		return "could not connect to the Basalt server; is it running?"
	case errors.As(err, &nerr):
		return nerr.Message
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
