// replay-dump inspects the program cache: list cached startup programs
// or dump one program's listing or generated Go source.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/replay/cache"
	"github.com/chazu/replay/manifest"
)

func main() {
	cachePath := flag.String("cache", "", "Path to the program cache (defaults to the replay.toml setting)")
	list := flag.Bool("list", false, "List cached programs")
	name := flag.String("name", "", "Dump the newest program with this name")
	hash := flag.String("hash", "", "Dump the program with this content hash")
	source := flag.Bool("src", false, "Dump generated Go source instead of the listing")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: replay-dump [options]\n\n")
		fmt.Fprintf(os.Stderr, "Inspect cached startup programs.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  replay-dump -list\n")
		fmt.Fprintf(os.Stderr, "  replay-dump -name replay.recorded.step$deploy1a2b3c4d\n")
		fmt.Fprintf(os.Stderr, "  replay-dump -hash 4f2c... -src\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	}

	path := *cachePath
	if path == "" {
		if m, err := manifest.Load("."); err == nil {
			path = m.CachePath()
		} else {
			path = manifest.Default().Cache.Path
		}
	}

	store, err := cache.Open(path)
	if err != nil {
		fail(err)
	}
	defer store.Close()

	switch {
	case *list:
		entries, err := store.List()
		if err != nil {
			fail(err)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-40s  %s  %s\n",
				e.Hash[:12], e.Name, e.BuildStep, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	case *name != "" || *hash != "":
		var e *cache.Entry
		if *hash != "" {
			e, err = store.Get(*hash)
		} else {
			e, err = store.GetByName(*name)
		}
		if err != nil {
			fail(err)
		}
		if *source {
			if len(e.Source) == 0 {
				fail(fmt.Errorf("no Go source was cached for %s", e.Name))
			}
			os.Stdout.Write(e.Source)
		} else {
			fmt.Print(e.Listing)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "replay-dump: %v\n", err)
	os.Exit(1)
}
