// Command oslc compiles shader groups from serialized masters.
//
// Usage:
//
//	oslc [options] -group <group file> <master.oso>...
//
// Examples:
//
//	oslc -group scene.grp matte.oso noise.oso   # Compile and summarize
//	oslc -dump -group scene.grp matte.oso       # Print the lowered program
//	oslc -run -group scene.grp matte.oso        # Execute with default globals
//	oslc -info matte.oso                        # List params, types, defaults
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gogpu/osl"
	"github.com/gogpu/osl/oso"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

var (
	groupFile = flag.String("group", "", "serialized group file")
	dump      = flag.Bool("dump", false, "print the lowered program")
	run       = flag.Bool("run", false, "execute once with default globals")
	merge     = flag.Bool("merge", true, "merge equivalent layers")
	info      = flag.Bool("info", false, "list each master's params, types, and defaults")
	version   = flag.Bool("version", false, "print version")
)

const oslVersion = "0.1.0-dev"

func main() {
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("oslc version %s\n", oslVersion)
		return
	}
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: need at least one master file")
		usage()
		os.Exit(1)
	}
	if *groupFile == "" && !*info {
		fmt.Fprintln(os.Stderr, "Error: need -group or -info")
		usage()
		os.Exit(1)
	}

	opts := osl.DefaultOptions()
	opts.MergeInstances = *merge
	sys := osl.NewSystem(opts)

	var masters []*shader.Master
	for _, path := range flag.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			fatalf("reading %s: %v", path, err)
		}
		m, err := oso.Parse(string(src))
		if err != nil {
			fatalf("parsing %s: %v", path, err)
		}
		if err := sys.RegisterMaster(m); err != nil {
			fatalf("%v", err)
		}
		masters = append(masters, m)
	}

	if *info {
		for _, m := range masters {
			describe(m)
		}
		if *groupFile == "" {
			return
		}
	}

	src, err := os.ReadFile(*groupFile)
	if err != nil {
		fatalf("reading %s: %v", *groupFile, err)
	}
	group, err := sys.ParseGroup(*groupFile, string(src))
	if err != nil {
		fatalf("parsing group: %v", err)
	}

	compiled, err := sys.CompileGroup(group)
	if err != nil {
		fatalf("compiling group: %v", err)
	}
	for _, w := range compiled.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *dump {
		fmt.Print(compiled.Program.Dump())
		return
	}
	if *run {
		runOnce(compiled)
		return
	}
	summarize(sys, compiled)
}

// describe lists a master's parameters with their types and defaults.
func describe(m *shader.Master) {
	fmt.Printf("%s %q\n", m.ShaderType, m.Name)
	for sym := m.FirstParam; sym < m.LastParam; sym++ {
		s := m.Symbol(sym)
		kind := "param"
		if s.Kind == shader.SymOutputParam {
			kind = "oparam"
		}
		fmt.Printf("  %s %s %s", kind, s.Type, s.Name)
		switch {
		case s.HasInitOps():
			fmt.Print("  default <init ops>")
		case s.Type.Base == shader.BaseInt:
			fmt.Printf("  default %v", m.ParamDefaultInts(sym))
		case s.Type.Base == shader.BaseString:
			fmt.Printf("  default %q", m.ParamDefaultStrings(sym))
		default:
			if v := m.ParamDefaultFloats(sym); v != nil {
				fmt.Printf("  default %v", v)
			}
		}
		fmt.Println()
	}
}

func summarize(sys *osl.System, cg *osl.CompiledGroup) {
	g := cg.Group
	fmt.Printf("group %s: %d layers, %d cells of group data\n",
		g.Name, g.NumLayers(), cg.Layout.Size)
	for i, l := range g.Layers {
		if into, merged := g.Merged(i); merged {
			fmt.Printf("  layer %d %s (%s) merged into %d\n", i, l.LayerName, l.Master.Name, into)
			continue
		}
		fmt.Printf("  layer %d %s (%s)\n", i, l.LayerName, l.Master.Name)
	}
	stats := sys.Stats.Snapshot()
	fmt.Printf("masters %d, instances %d, merged %d\n",
		stats.Masters, stats.Instances, stats.InstancesMerged)
}

func runOnce(cg *osl.CompiledGroup) {
	exec := cg.NewExecution(runtime.NewExterns())
	exec.SetGlobals(runtime.Globals{
		"u": {Val: []float32{0.5}},
		"v": {Val: []float32{0.5}},
		"N": {Val: []float32{0, 0, 1}},
	}, runtime.StandardRayTypeBit("camera"))
	if err := exec.Run(); err != nil {
		fatalf("%v", err)
	}
	for _, msg := range exec.Externs().Errors {
		fmt.Fprintf(os.Stderr, "shader error: %s\n", msg)
	}

	// Print every output param of every unmerged layer.
	g := cg.Group
	for i, l := range g.Layers {
		if _, merged := g.Merged(i); merged {
			continue
		}
		m := l.Master
		for sym := m.FirstParam; sym < m.LastParam; sym++ {
			s := &m.Symbols[sym]
			if s.Kind != shader.SymOutputParam || !s.Type.IsFloatBased() {
				continue
			}
			vals, err := exec.OutputFloats(l.LayerName, s.Name)
			if err != nil {
				continue
			}
			fmt.Printf("%s.%s = %v\n", l.LayerName, s.Name, vals)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: oslc [options] <master.oso>...\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}
