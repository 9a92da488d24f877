// Command tdtool parses, canonicalizes, validates and composes Thing
// Descriptions and Thing Models, serves them over gRPC and manages a TD
// directory.
//
// Usage:
//
//	tdtool [-config tdkit.yaml] <command> [flags] [args]
//
// Commands:
//
//	parse <file>               print the TD with all defaults applied
//	canonicalize <file>        print the canonical form of a TD
//	validate <file>            validate a Thing Model
//	compose [flags] <uri>      compose a Thing Model into partial TDs
//	serve [-port n]            run the gRPC service
//	dir add|get|delete|list|search|query
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wotkit/tdkit"
	"github.com/wotkit/tdkit/config"
	"github.com/wotkit/tdkit/resolver"
	"github.com/wotkit/tdkit/tderr"
	"github.com/wotkit/tdkit/tdservice"
	"github.com/wotkit/tdkit/thingmodel"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "tdtool:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: tdtool [-config file] parse|canonicalize|validate|compose|serve|dir ...")

type app struct {
	cfg    *config.Config
	kit    *tdkit.Toolkit
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("tdtool", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to tdkit.yaml or a directory containing it")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	kit, err := tdkit.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer tdkit.CloseWithLog(kit, kit.Logger(), "toolkit")

	a := &app{cfg: cfg, kit: kit, stdout: stdout}
	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "parse":
		return a.parse(rest)
	case "canonicalize":
		return a.canonicalize(rest)
	case "validate":
		return a.validate(rest)
	case "compose":
		return a.compose(ctx, rest, stderr)
	case "serve":
		return a.serve(ctx, rest, stderr)
	case "dir":
		return a.dir(ctx, rest, stderr)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

// loadConfig reads path when given and otherwise uses defaults with the
// environment overrides.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg, nil
}

func readArg(args []string, what string) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one %s", what)
	}
	if args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func (a *app) parse(args []string) error {
	data, err := readArg(args, "file")
	if err != nil {
		return err
	}
	thing, err := a.kit.ParseTD(data)
	if err != nil {
		return err
	}
	return a.printJSON(thing)
}

func (a *app) canonicalize(args []string) error {
	data, err := readArg(args, "file")
	if err != nil {
		return err
	}
	canon, err := a.kit.Canonicalize(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, canon)
	return err
}

func (a *app) validate(args []string) error {
	data, err := readArg(args, "file")
	if err != nil {
		return err
	}
	if err := a.kit.ValidateModel(data); err != nil {
		var e *tderr.Error
		if errors.As(err, &e) && e.Code == tderr.CodeValidation {
			fmt.Fprintln(a.stdout, e.Message)
		}
		return err
	}
	_, err = fmt.Fprintln(a.stdout, "valid")
	return err
}

func (a *app) compose(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	fs.SetOutput(stderr)
	base := fs.String("base", "", "base URL for generated links")
	self := fs.Bool("self", false, "flatten submodels into the root model")
	mapFile := fs.String("map", "", "YAML or JSON file with placeholder values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("compose expects one model URI or file")
	}

	opts := &thingmodel.CompositionOptions{BaseURL: *base, SelfComposition: *self}
	if c := a.cfg.Composition; c != nil {
		if opts.BaseURL == "" {
			opts.BaseURL = c.BaseURL
		}
		opts.SelfComposition = opts.SelfComposition || c.SelfComposition
		opts.Map = c.Map
	}
	if *mapFile != "" {
		values, err := readMap(*mapFile)
		if err != nil {
			return err
		}
		opts.Map = values
	}

	tds, err := a.kit.PartialTDsFromURI(ctx, modelURI(fs.Arg(0)), opts)
	if err != nil {
		return err
	}
	return a.printJSON(tds)
}

// modelURI turns a plain path into a file URI.
func modelURI(arg string) string {
	if resolver.Scheme(arg) != "" {
		return arg
	}
	return "file://" + filepath.ToSlash(arg)
}

func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse map file: %w", err)
	}
	return values, nil
}

func (a *app) serve(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	port := fs.Int("port", a.cfg.Server.GetPort(), "gRPC port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	serverCfg := &tdservice.Config{
		Port:            *port,
		GracefulTimeout: a.cfg.Server.GetGracefulTimeout(),
	}
	if s := a.cfg.Server; s != nil {
		serverCfg.TLSCertFile = s.TLSCertFile
		serverCfg.TLSKeyFile = s.TLSKeyFile
	}

	srv, err := tdservice.NewServer(serverCfg, a.kit.Service(),
		tdservice.WithLogger(a.kit.Logger()),
		tdservice.WithTracerProvider(a.kit.TracerProvider()),
	)
	if err != nil {
		return err
	}
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) dir(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: tdtool dir add|get|delete|list|search|query ...")
	}
	dir, err := a.kit.Directory()
	if err != nil {
		return err
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		fs := flag.NewFlagSet("dir add", flag.ContinueOnError)
		fs.SetOutput(stderr)
		lifetime := fs.Duration("lifetime", 0, "lifetime of the entry; 0 uses the configured default")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		data, err := readArg(fs.Args(), "file")
		if err != nil {
			return err
		}
		id, err := dir.Add(ctx, data, *lifetime)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.stdout, id)
		return err

	case "get":
		if len(rest) != 1 {
			return errors.New("dir get expects one id")
		}
		doc, err := dir.Document(ctx, rest[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.stdout, string(doc))
		return err

	case "delete":
		if len(rest) != 1 {
			return errors.New("dir delete expects one id")
		}
		deleted, err := dir.Delete(ctx, rest[0])
		if err != nil {
			return err
		}
		if !deleted {
			return tderr.Newf("tdtool.dir", tderr.CodeNotFound, "Thing Description %s not found", rest[0])
		}
		return nil

	case "list":
		ids, err := dir.List(ctx)
		if err != nil {
			return err
		}
		return a.printLines(ids)

	case "search":
		ids, err := dir.Search(ctx, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		return a.printLines(ids)

	case "query":
		if len(rest) != 1 {
			return errors.New("dir query expects one CEL expression")
		}
		queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		ids, err := dir.Query(queryCtx, rest[0])
		if err != nil {
			return err
		}
		return a.printLines(ids)

	default:
		return fmt.Errorf("unknown dir command %q", sub)
	}
}

func (a *app) printLines(lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(a.stdout, line); err != nil {
			return err
		}
	}
	return nil
}
