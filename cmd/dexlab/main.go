// Command dexlab is the CLI entry point wiring config load, DEX decode,
// and the analysis core (vm, flow, xref, graph) together, plus the HTTP
// API server for a connected front end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/lookbusy1344/dexlab/api"
	"github.com/lookbusy1344/dexlab/config"
	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/graph"
	"github.com/lookbusy1344/dexlab/vm"
	"github.com/lookbusy1344/dexlab/xref"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dexlab: loading config: %v\n", err)
		os.Exit(1)
	}

	var cmdErr error
	switch os.Args[1] {
	case "decode":
		cmdErr = runDecode(os.Args[2:])
	case "xref":
		cmdErr = runXref(os.Args[2:], cfg)
	case "graph":
		cmdErr = runGraph(os.Args[2:], cfg)
	case "run":
		cmdErr = runMethod(os.Args[2:], cfg)
	case "inspect":
		cmdErr = runInspect(os.Args[2:])
	case "serve":
		cmdErr = runServe(os.Args[2:], cfg)
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	case "-version", "--version", "version":
		fmt.Printf("dexlab %s (%s)\n", Version, Commit)
		return
	default:
		fmt.Fprintf(os.Stderr, "dexlab: unknown subcommand %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "dexlab: %v\n", cmdErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: dexlab <command> [flags]

commands:
  decode   <file.dex> [file2.dex ...]     decode and summarize DEX files
  xref     -kind=... ... <file.dex ...>   search for references to a declaration
  graph    [-whitelist=...] <file.dex ...> build the super-graph and print its size
  run      -class=... -method=... <file.dex>  concretely execute one method
  inspect  <file.dex>                     browse the decoded class/method tree
  serve    [-port=8732]                   start the HTTP+WebSocket API server
  version                                 print version information`)
}

func loadDexes(paths []string) (*dex.MultiDex, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no DEX files given")
	}
	md := dex.NewMultiDex()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		f, err := dex.Decode(data, p)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		if err := md.Add(f); err != nil {
			return nil, fmt.Errorf("adding %s: %w", p, err)
		}
	}
	return md, nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	md, err := loadDexes(fs.Args())
	if err != nil {
		return err
	}
	for _, f := range md.Files() {
		classes := f.Classes.All()
		fmt.Printf("%s (id=%s)\n", f.Name, f.ID())
		fmt.Printf("  strings=%d types=%d protos=%d fields=%d methods=%d classes=%d\n",
			f.Strings.Len(), f.Types.Len(), f.Protos.Len(), f.Fields.Len(), f.Methods.Len(), len(classes))
	}
	return nil
}

func runXref(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("xref", flag.ExitOnError)
	kind := fs.String("kind", "class", "class|method|field|string|type|proto|static-field")
	className := fs.String("class", "", "class name, e.g. LMain;")
	methodName := fs.String("method", "", "method name")
	fieldName := fs.String("field", "", "field name")
	stringValue := fs.String("string", "", "string literal value")
	pattern := fs.String("pattern", "", "regex surface search instead of a declaration search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	md, err := loadDexes(fs.Args())
	if err != nil {
		return err
	}

	idx := xref.NewIndex()
	var evidence []xref.Evidence
	if *pattern != "" {
		re, err := regexp.Compile(*pattern)
		if err != nil {
			return fmt.Errorf("invalid -pattern: %w", err)
		}
		k, ok := parseObjectKind(*kind)
		if !ok {
			return fmt.Errorf("unknown -kind %q", *kind)
		}
		evidence = idx.SearchRegex(re, []xref.ObjectKind{k}, md)
	} else {
		k, ok := parseObjectKind(*kind)
		if !ok {
			return fmt.Errorf("unknown -kind %q", *kind)
		}
		ctx := xref.Context{
			Kind:        k,
			ClassName:   *className,
			MethodName:  *methodName,
			FieldName:   *fieldName,
			StringValue: *stringValue,
		}
		evidence = idx.FindReferences(ctx, md)
	}

	for _, ev := range evidence {
		fmt.Printf("%s %s#%s+%d: %s [%s]\n",
			ev.Location.DexID, ev.Location.ClassName, ev.Location.MethodSig, ev.Location.Offset,
			ev.Detail, ev.Confidence)
	}
	fmt.Printf("%d hits\n", len(evidence))
	_ = cfg
	return nil
}

func parseObjectKind(s string) (xref.ObjectKind, bool) {
	switch s {
	case "class":
		return xref.KindClass, true
	case "method":
		return xref.KindMethod, true
	case "field":
		return xref.KindField, true
	case "string":
		return xref.KindString, true
	case "type":
		return xref.KindType, true
	case "proto":
		return xref.KindProto, true
	case "static-field":
		return xref.KindStaticField, true
	default:
		return 0, false
	}
}

func runGraph(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	whitelist := fs.String("whitelist", "", "comma-separated classes allowed dynamic emulation beyond <clinit>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	md, err := loadDexes(fs.Args())
	if err != nil {
		return err
	}

	opts := graph.DefaultBuildOptions()
	opts.HeapSeed = cfg.Decoder.HeapSeed
	opts.MaxMallocRetries = cfg.Decoder.MallocRetries
	opts.MaxInstructions = cfg.VM.MaxInstructionsStep
	opts.MaxStackDepth = cfg.VM.MaxStackDepth
	if *whitelist != "" {
		opts.Whitelist = splitCSV(*whitelist)
	}

	builder := graph.NewBuilder()
	g, err := builder.Build(context.Background(), md, opts)
	if err != nil {
		return fmt.Errorf("building graph: %w", err)
	}
	fmt.Printf("nodes=%d edges=%d\n", g.NodeCount(), g.EdgeCount())
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func runMethod(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	className := fs.String("class", "", "class name, e.g. LMain;")
	methodName := fs.String("method", "", "method name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *className == "" || *methodName == "" {
		return fmt.Errorf("-class and -method are required")
	}
	md, err := loadDexes(fs.Args())
	if err != nil {
		return err
	}

	var dexID string
	var methodIdx uint32
	found := false
	for _, f := range md.Files() {
		cd, ok := f.Classes.Get(*className)
		if !ok || cd.Data == nil {
			continue
		}
		members := append(append([]dex.EncodedMember{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...)
		for _, m := range members {
			if f.Methods.Name(m.Index) == *methodName {
				dexID, methodIdx, found = f.ID(), m.Index, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return fmt.Errorf("method %s#%s not found", *className, *methodName)
	}

	m := vm.NewMachine(md, cfg.Decoder.HeapSeed, cfg.Decoder.MallocRetries, cfg.VM.MaxInstructionsStep, cfg.VM.MaxStackDepth)
	ret, err := m.Start(dexID, methodIdx, nil)
	if err != nil {
		return fmt.Errorf("executing %s#%s: %w", *className, *methodName, err)
	}
	fmt.Printf("return = %s\n", ret.String())
	return nil
}

func runServe(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.API.Port, "API server port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	server := api.NewServer(cfg, *port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			fmt.Println("\nShutting down dexlab API server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		})
	}

	monitor := api.NewProcessMonitor(performShutdown)
	monitor.Start()

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
	return nil
}
