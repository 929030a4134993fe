// Command inspect dumps the contents of an on-disk cache for debugging.
// It opens the pebble directory read-only and prints keys (and optionally
// values) under a prefix.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

func main() {
	path := flag.String("cache", "", "pebble cache path")
	prefix := flag.String("prefix", "", "only keys with this prefix (e.g. ent:message:)")
	values := flag.Bool("values", false, "print values as well as keys")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --cache <path> [--prefix p] [--values]")
		os.Exit(2)
	}

	db, err := pebble.Open(*path, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *path, err)
		os.Exit(1)
	}
	defer db.Close()

	opts := &pebble.IterOptions{}
	if *prefix != "" {
		opts.LowerBound = []byte(*prefix)
		opts.UpperBound = upperBound([]byte(*prefix))
	}
	it, err := db.NewIter(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterator: %v\n", err)
		os.Exit(1)
	}
	defer it.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		if *values {
			fmt.Printf("%s\t%s\n", it.Key(), it.Value())
		} else {
			fmt.Println(string(it.Key()))
		}
		n++
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}

// upperBound returns the smallest key greater than every key with the
// given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
