// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The jarfix tool renames fields and methods with a '.' in their name in the
// classes of a JAR, so that the JAR loads on JVMs that enforce the class file
// format, such as OpenJDK.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/jarfix/jarfix/jar"
)

func usage() {
	fmt.Fprint(os.Stderr, `Usage: jarfix [flag] path

Fixes member names containing a '.' in the classes of a JAR. The first '.' of
every such field or method name, including references to members of other
classes, is replaced by '_'.

Without --output, the JAR is replaced in place after being backed up to
path.bak. If path is a directory, every JAR below it is fixed in place. Paths
of fixed classes (or JARs, for directories) are printed to stdout.

Flags:

    -o, --output PATH       Write the fixed JAR to PATH instead.
    -f, --force             Don't back up JARs fixed in place.
    -n, --dry-run           Only print what needs fixing.
    -k, --keep-going        Leave malformed classes unchanged instead of
                            failing.
    -s, --strip-signatures  Remove signature files from fixed JARs.
    -v, --verbose           Print verbose logs to stderr.

`)
}

var skipDirs = map[string]bool{
	".hg":          true,
	".git":         true,
	"node_modules": true,
}

// options holds the parsed command line flags.
type options struct {
	output          string
	force           bool
	dryRun          bool
	keepGoing       bool
	stripSignatures bool
	logf            func(format string, v ...interface{})
}

func main() {
	var (
		output, o          string
		force, f           bool
		dryRun, n          bool
		keepGoing, k       bool
		stripSignatures, s bool
		verbose, v         bool
	)
	flag.StringVar(&output, "output", "", "")
	flag.StringVar(&o, "o", "", "")
	flag.BoolVar(&force, "force", false, "")
	flag.BoolVar(&f, "f", false, "")
	flag.BoolVar(&dryRun, "dry-run", false, "")
	flag.BoolVar(&n, "n", false, "")
	flag.BoolVar(&keepGoing, "keep-going", false, "")
	flag.BoolVar(&k, "k", false, "")
	flag.BoolVar(&stripSignatures, "strip-signatures", false, "")
	flag.BoolVar(&s, "s", false, "")
	flag.BoolVar(&verbose, "verbose", false, "")
	flag.BoolVar(&v, "v", false, "")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	if o != "" {
		output = o
	}
	if v {
		verbose = v
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	opts := options{
		output:          output,
		force:           force || f,
		dryRun:          dryRun || n,
		keepGoing:       keepGoing || k,
		stripSignatures: stripSignatures || s,
		logf: func(format string, v ...interface{}) {
			if verbose {
				log.Printf(format, v...)
			}
		},
	}
	if err := opts.run(flag.Arg(0), os.Stdout); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func (o *options) rewriter() *jar.Rewriter {
	rw := &jar.Rewriter{
		StripSignatures: o.stripSignatures,
		Logf:            o.logf,
	}
	if o.keepGoing {
		rw.FileError = func(path string, err error) error {
			log.Printf("Error: %s: %v; leaving it unchanged", path, err)
			return nil
		}
	}
	return rw
}

// run fixes the JAR or directory at path, printing what was fixed to stdout.
func (o *options) run(path string, stdout io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if o.output != "" {
			return fmt.Errorf("--output can't be used with directory %s", path)
		}
		return o.walk(path, stdout)
	}
	switch {
	case o.dryRun:
		return o.parse(path, stdout)
	case o.output != "":
		return o.writeTo(path, info, stdout)
	}

	o.logf("Fixing %s", path)
	r, err := o.rewriter().RewriteFile(path, !o.force)
	if err != nil {
		return err
	}
	if !r.NeedsFix() {
		o.logf("Nothing to fix in %s", path)
	}
	printClasses(stdout, r)
	return nil
}

func printClasses(w io.Writer, r *jar.Report) {
	for _, c := range r.Classes {
		fmt.Fprintln(w, c.Name)
	}
}

func (o *options) parse(path string, stdout io.Writer) error {
	zr, _, err := jar.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening %s: %v", path, err)
	}
	defer zr.Close()
	r, err := o.rewriter().Parse(&zr.Reader)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	printClasses(stdout, r)
	return nil
}

// writeTo writes the fixed JAR to o.output, even if nothing needed fixing.
func (o *options) writeTo(path string, info fs.FileInfo, stdout io.Writer) error {
	if outInfo, err := os.Stat(o.output); err == nil && os.SameFile(info, outInfo) {
		return fmt.Errorf("output %s is the input, leave out --output to fix it in place", o.output)
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(o.output)
	if err != nil {
		return err
	}
	r, err := o.rewriter().RewriteJAR(dest, src, info.Size())
	if err != nil {
		dest.Close()
		os.Remove(o.output)
		return fmt.Errorf("fixing %s: %w", path, err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("closing %s: %v", o.output, err)
	}
	printClasses(stdout, r)
	return nil
}

// walk fixes every JAR below dir in place.
func (o *options) walk(dir string, stdout io.Writer) error {
	failed := 0
	seen := 0
	walker := jar.Walker{
		Rewriter: o.rewriter(),
		Rewrite:  !o.dryRun,
		Backup:   !o.force,
		SkipDir: func(path string, d fs.DirEntry) bool {
			seen++
			if seen%5000 == 0 {
				o.logf("Scanned %d files", seen)
			}
			if !d.IsDir() {
				return false
			}
			if skipDirs[filepath.Base(path)] {
				return true
			}
			ignore, err := ignoreDir(path)
			if err != nil {
				log.Printf("Error: %v", err)
				return false
			}
			if ignore {
				o.logf("Skipping %s", path)
			}
			return ignore
		},
		HandleError: func(path string, err error) {
			log.Printf("Error: fixing %s: %v", path, err)
			failed++
		},
		HandleReport: func(path string, r *jar.Report) {
			if o.dryRun {
				fmt.Fprintln(stdout, path)
			}
		},
		HandleRewrite: func(path string, r *jar.Report) {
			fmt.Fprintln(stdout, path)
		},
	}

	o.logf("Scanning %s", dir)
	if err := walker.Walk(dir); err != nil {
		return fmt.Errorf("walking %s: %v", dir, err)
	}
	if failed > 0 {
		return errors.New(plural(failed, "file") + " could not be fixed")
	}
	return nil
}

func plural(n int, s string) string {
	if n == 1 {
		return "1 " + s
	}
	return fmt.Sprintf("%d %ss", n, s)
}
