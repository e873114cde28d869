package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/stealthrocket/iterc"
	"github.com/stealthrocket/iterc/compiler"
	"github.com/stealthrocket/iterc/emit"
	"github.com/stealthrocket/iterc/gen"
	"github.com/stealthrocket/iterc/source"
)

const usage = `
iterc lowers iterator methods into state machines.

USAGE:
  iterc [OPTIONS] [FILE] [ARGS...]

OPTIONS:
  -o PATH         Write the output to PATH, or to stdout when PATH is -
                  (default <file>_iter.go for go, stdout otherwise)
  -emit FORMAT    Output format: go, asm or bin (default go)
  -tag TAG        Restrict the generated Go file to builds with TAG
  -j N            Number of methods lowered concurrently
  -run NAME       Run the iterator NAME with ARGS and print its values
  -debug          Log the lowering of each method
  -h, --help      Show this help information
  -v, --version   Show the compiler version
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = func() { println(usage[1:]) }

	var (
		showVersion bool
		output      string
		format      string
		buildTag    string
		concurrency int
		runName     string
		debugLog    bool
	)
	flag.BoolVar(&showVersion, "v", false, "")
	flag.BoolVar(&showVersion, "version", false, "")
	flag.StringVar(&output, "o", "", "")
	flag.StringVar(&format, "emit", "go", "")
	flag.StringVar(&buildTag, "tag", "", "")
	flag.IntVar(&concurrency, "j", 0, "")
	flag.StringVar(&runName, "run", "", "")
	flag.BoolVar(&debugLog, "debug", false, "")

	flag.Parse()

	if showVersion {
		fmt.Println(version())
		return nil
	}

	path := flag.Arg(0)
	if path == "" {
		// If the compiler was invoked via go generate, the GOFILE
		// environment variable will be set with the name of the file
		// that contained the go:generate directive.
		path = os.Getenv("GOFILE")
	}
	if path == "" {
		flag.Usage()
		return errors.New("missing input file")
	}

	log, err := newLogger(debugLog)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	iterc.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := source.Parse(path, src)
	if err != nil {
		return err
	}
	for _, d := range f.Diagnostics {
		fmt.Fprintln(os.Stderr, d.Error())
	}

	iterators, err := compiler.Compile(ctx, f.Methods,
		compiler.WithConcurrency(concurrency),
		compiler.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if runName != "" {
		return runIterator(iterators, runName, flag.Args()[1:])
	}

	var b []byte
	switch format {
	case "go":
		b, err = gen.Generate(iterators,
			gen.WithPackageName(f.Package),
			gen.WithConstraint(f.Constraint),
			gen.WithBuildTag(buildTag),
		)
		if err != nil {
			return err
		}
		if output == "" {
			output = strings.TrimSuffix(path, ".go") + "_iter.go"
		}
	case "asm":
		var s strings.Builder
		for _, it := range iterators {
			if it == nil {
				continue
			}
			s.WriteString(emit.DisassembleType(it.Storey))
			s.WriteString("\n")
			s.WriteString(emit.Disassemble(it.Stub))
			s.WriteString("\n")
		}
		b = []byte(s.String())
	case "bin":
		b = compiler.Module(iterators...).MarshalAppend(nil)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if output == "" || output == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(output, b, 0644)
}

// runIterator interprets the lowered iterator name and prints the values
// it produces, one per line. The print host function is available to the
// iterator.
func runIterator(iterators []*compiler.Iterator, name string, args []string) error {
	prog, err := iterc.NewProgram(compiler.Module(iterators...),
		iterc.WithHost("print", func(args ...any) (any, error) {
			fmt.Fprintln(os.Stderr, args...)
			return nil, nil
		}),
	)
	if err != nil {
		return err
	}
	values := make([]any, len(args))
	for i, arg := range args {
		values[i] = literal(arg)
	}
	it, err := prog.Call(name, values...)
	if err != nil {
		return err
	}
	if it, err = it.GetEnumerator(); err != nil {
		return err
	}
	return iterc.Run(it, func(v any) error {
		_, err := fmt.Println(v)
		return err
	})
}

// literal converts a command line argument to the value it spells.
func literal(s string) any {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func version() (version string) {
	version = "devel"
	if info, ok := debug.ReadBuildInfo(); ok {
		switch info.Main.Version {
		case "":
		case "(devel)":
		default:
			version = info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				version += " " + setting.Value
			}
		}
	}
	return
}
