// Command fsfsutil is a small operator CLI over the svnfsfs storage
// engine: create a repository, commit a batch of file changes read
// from a recipe file, and inspect an existing repository's history.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/svnfsfs/fsfs"
	"github.com/rcowham/svnfsfs/fsfs/diag"
	"github.com/rcowham/svnfsfs/fsfs/fsfsconfig"
	"github.com/rcowham/svnfsfs/fsfs/history"
	"github.com/rcowham/svnfsfs/fsfs/hotcopy"
	"github.com/rcowham/svnfsfs/fsfs/transaction"
	"github.com/rcowham/svnfsfs/internal/version"
)

var (
	app = kingpin.New("fsfsutil", "Inspect and drive a svnfsfs repository.")

	debug      = app.Flag("debug", "Enable debug-level logging.").Bool()
	configFile = app.Flag("config", "Path to an fsfs.conf that commit validates; its settings are not applied.").String()

	initCmd     = app.Command("init", "Create a new empty repository.")
	initPath    = initCmd.Arg("path", "Repository root to create.").Required().String()
	initShard   = initCmd.Flag("shard-size", "Revisions per shard; 0 for the default, negative for unsharded.").Default("0").Int()

	commitCmd    = app.Command("commit", "Commit a batch of file changes described by a recipe file.")
	commitPath   = commitCmd.Arg("path", "Repository root.").Required().String()
	commitRecipe = commitCmd.Arg("recipe", "Recipe file listing changes to commit.").Required().String()
	commitProp   = commitCmd.Flag("revprop", "key=value revision property (repeatable).").Strings()

	catCmd  = app.Command("cat", "Print a file's contents at a given revision.")
	catPath = catCmd.Arg("path", "Repository root.").Required().String()
	catRev  = catCmd.Arg("rev", "Revision number.").Required().Int64()
	catFile = catCmd.Arg("file", "Repository-relative file path.").Required().String()

	logCmd  = app.Command("log", "List revisions and their changed paths.")
	logPath = logCmd.Arg("path", "Repository root.").Required().String()
	logFrom = logCmd.Flag("from", "First revision to show.").Default("0").Int64()
	logTo   = logCmd.Flag("to", "Last revision to show; 0 for youngest.").Default("0").Int64()

	verifyCmd  = app.Command("verify", "Walk every revision's root tree, failing on the first corruption found.")
	verifyPath = verifyCmd.Arg("path", "Repository root.").Required().String()

	hotcopyCmd = app.Command("hotcopy", "Replicate a repository into a fresh or already-copied destination.")
	hotcopySrc = hotcopyCmd.Arg("src", "Source repository root.").Required().String()
	hotcopyDst = hotcopyCmd.Arg("dst", "Destination repository root.").Required().String()

	datedCmd  = app.Command("dated-rev", "Find the youngest revision at or before a given RFC3339 timestamp.")
	datedPath = datedCmd.Arg("path", "Repository root.").Required().String()
	datedTime = datedCmd.Arg("time", "RFC3339 timestamp.").Required().String()

	historyCmd  = app.Command("history", "Print a file's revision history from its creation through a given revision.")
	historyPath = historyCmd.Arg("path", "Repository root.").Required().String()
	historyRev  = historyCmd.Arg("rev", "Revision to walk back from.").Required().Int64()
	historyFile = historyCmd.Arg("file", "Repository-relative file path.").Required().String()
)

func main() {
	app.Version(version.Print("fsfsutil")).Author("Robert Cowham")
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}
	sink := &diag.LogrusSink{Logger: logger}

	var err error
	switch cmd {
	case initCmd.FullCommand():
		err = runInit(logger, sink)
	case commitCmd.FullCommand():
		err = runCommit(logger, sink)
	case catCmd.FullCommand():
		err = runCat(logger, sink)
	case logCmd.FullCommand():
		err = runLog(logger, sink)
	case verifyCmd.FullCommand():
		err = runVerify(logger, sink)
	case hotcopyCmd.FullCommand():
		err = runHotcopy(logger, sink)
	case datedCmd.FullCommand():
		err = runDatedRev(logger, sink)
	case historyCmd.FullCommand():
		err = runHistory(logger, sink)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func runInit(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Create(*initPath, fsfs.CreateOptions{ShardSize: *initShard})
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()
	logger.Infof("created repository at %s", *initPath)
	return nil
}

// runCommit applies the recipe file's lines, one change per line, to
// a single new transaction rooted at the repository's youngest
// revision, then commits it.
//
// Recipe lines:
//
//	add <repo-path> <local-file>   stage the contents of local-file at repo-path
//	rm  <repo-path>                delete repo-path
//
// Blank lines and lines starting with # are ignored.
func runCommit(logger *logrus.Logger, sink diag.Sink) error {
	// Loaded for its validation side effect only: per-commit tuning
	// (deltification thresholds, rep-sharing toggle) lives on the
	// repository's shared resources, wired once at Open, not here.
	if *configFile != "" {
		if _, err := fsfsconfig.LoadConfigFile(*configFile); err != nil {
			return err
		}
	}

	fs, err := fsfs.Open(*commitPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	txn, err := fs.Begin()
	if err != nil {
		return err
	}

	if err := applyRecipe(fs, txn, *commitRecipe); err != nil {
		_ = txn.Abort()
		return err
	}

	if len(*commitProp) > 0 {
		props := map[string]string{}
		for _, kv := range *commitProp {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				_ = txn.Abort()
				return fmt.Errorf("malformed --revprop %q, want key=value", kv)
			}
			props[name] = value
		}
		txn.SetProplist("_txnprops", props)
	}

	rev, err := fs.Commit(txn)
	if err != nil {
		return err
	}
	logger.Infof("committed revision %d", rev)
	return nil
}

// applyRecipe reads recipePath line by line and stages each change
// into txn:
//
//	add <repo-path> <local-file>   stage local-file's contents at repo-path
//	rm  <repo-path>                delete repo-path
//
// Blank lines and lines starting with # are ignored.
func applyRecipe(fs *fsfs.Filesystem, txn *transaction.Transaction, recipePath string) error {
	f, err := os.Open(recipePath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "add":
			if len(fields) != 3 {
				return fmt.Errorf("%s:%d: want `add <repo-path> <local-file>`", recipePath, lineNo)
			}
			contents, err := os.ReadFile(fields[2])
			if err != nil {
				return fmt.Errorf("%s:%d: %w", recipePath, lineNo, err)
			}
			if err := fs.WriteFile(txn, fields[1], contents); err != nil {
				return fmt.Errorf("%s:%d: %w", recipePath, lineNo, err)
			}
		case "rm":
			if len(fields) != 2 {
				return fmt.Errorf("%s:%d: want `rm <repo-path>`", recipePath, lineNo)
			}
			if err := fs.DeleteEntry(txn, fields[1]); err != nil {
				return fmt.Errorf("%s:%d: %w", recipePath, lineNo, err)
			}
		default:
			return fmt.Errorf("%s:%d: unknown recipe verb %q", recipePath, lineNo, fields[0])
		}
	}
	return scanner.Err()
}

func runCat(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Open(*catPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	data, err := fs.ReadFile(*catRev, *catFile)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runLog(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Open(*logPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	to := *logTo
	if to == 0 {
		to, err = fs.Youngest()
		if err != nil {
			return err
		}
	}

	for rev := *logFrom; rev <= to; rev++ {
		props, err := fs.Revprops(rev)
		if err != nil {
			return err
		}
		changed, err := fs.ChangedPaths(rev)
		if err != nil {
			return err
		}
		fmt.Printf("r%d | %s | %s\n", rev, props["svn:author"], props["svn:date"])
		if msg := props["svn:log"]; msg != "" {
			fmt.Printf("  %s\n", msg)
		}
		for path, change := range changed {
			fmt.Printf("  %s %s\n", change.Kind, path)
		}
	}
	return nil
}

func runVerify(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Open(*verifyPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	youngest, err := fs.Youngest()
	if err != nil {
		return err
	}

	for rev := int64(0); rev <= youngest; rev++ {
		if err := verifyRevision(fs, rev); err != nil {
			return fmt.Errorf("revision %d: %w", rev, err)
		}
		logger.Debugf("revision %d OK", rev)
	}
	logger.Infof("verified revisions 0..%d", youngest)
	return nil
}

// verifyRevision walks rev's directory tree depth-first, reading
// every entry's node revision and, for files, their fulltext: a
// corrupt node-revision record, a dangling directory entry, or an
// undeltifiable representation surfaces here as an error.
func verifyRevision(fs *fsfs.Filesystem, rev int64) error {
	return walkDir(fs, rev, "/")
}

func runHotcopy(logger *logrus.Logger, sink diag.Sink) error {
	if err := hotcopy.Copy(*hotcopySrc, *hotcopyDst, hotcopy.Options{Sink: sink}); err != nil {
		return err
	}
	logger.Infof("hot-copied %s to %s", *hotcopySrc, *hotcopyDst)
	return nil
}

func runDatedRev(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Open(*datedPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	target, err := time.Parse(time.RFC3339, *datedTime)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", *datedTime, err)
	}

	rev, err := history.DatedRevision(fs, target)
	if err != nil {
		return err
	}
	fmt.Println(rev)
	return nil
}

func runHistory(logger *logrus.Logger, sink diag.Sink) error {
	fs, err := fsfs.Open(*historyPath)
	if err != nil {
		return err
	}
	fs.Sink = sink
	defer fs.Close()

	steps, err := history.FileRevisions(fs, *historyFile, *historyRev)
	if err != nil {
		return err
	}
	for _, s := range steps {
		changeMark := " "
		if s.ContentChanged {
			changeMark = "*"
		}
		fmt.Printf("r%d %s %s | %s\n", s.Revision, changeMark, s.Path, s.RevisionProps["svn:author"])
		for k, v := range s.PropsChanged {
			fmt.Printf("  %s = %s\n", k, v)
		}
	}
	return nil
}

func walkDir(fs *fsfs.Filesystem, rev int64, p string) error {
	entries, err := fs.DirEntries(rev, p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		childPath := strings.TrimSuffix(p, "/") + "/" + e.Name
		if e.Kind.String() == "dir" {
			if err := walkDir(fs, rev, childPath); err != nil {
				return err
			}
			continue
		}
		if e.Kind.String() == "file" {
			if _, err := fs.ReadFile(rev, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

