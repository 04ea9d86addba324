// Command btidx is the command-line surface for the blockdb B-tree
// index: create, find, insert, list. It contains no tree logic of its
// own — only argument validation, dispatch, and output formatting.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/fatih/color"

	"github.com/oda/blockdb"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

func main() {
	logger := log.New(os.Stderr, "", 0)

	if len(os.Args) < 2 {
		logger.Fatal(usage())
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "find":
		err = runFind(os.Args[2:])
	case "insert":
		err = runInsert(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	default:
		logger.Fatal(usage())
	}

	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() string {
	return "usage: btidx create <dataFile> <indexFile> <keySize> | " +
		"find <indexFile> <key> | insert <indexFile> <record> | " +
		"list <indexFile> <probeKey> <k>"
}

func runCreate(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("create: expected dataFilePath, indexPath, keySize")
	}
	keySize, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("create: invalid key size %q: %w", args[2], err)
	}

	idx, err := blockdb.BuildFromDataFile(args[0], args[1], keySize, func(key []byte, line string) {
		warnColor.Fprintf(os.Stdout, "duplicate key %q at line %q: skipped\n", string(key), line)
	})
	if err != nil {
		return err
	}
	defer idx.Close()

	okColor.Fprintf(os.Stdout, "created index %s (keySize=%d)\n", args[1], keySize)
	return nil
}

func runFind(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("find: expected indexPath, key")
	}

	idx, err := blockdb.Open(args[0])
	if err != nil {
		return err
	}
	defer idx.Close()

	offset, line, err := idx.Find([]byte(args[1]))
	if blockdb.Is(err, blockdb.NotFound) {
		fmt.Fprintln(os.Stdout, "key not found")
		return nil
	}
	if err != nil {
		return err
	}

	okColor.Fprintf(os.Stdout, "found key at offset %d with value: %s\n", offset, line)
	return nil
}

func runInsert(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("insert: expected indexPath, record")
	}

	idx, err := blockdb.Open(args[0])
	if err != nil {
		return err
	}
	defer idx.Close()

	offset, err := idx.InsertNewRecord(args[1])
	if blockdb.Is(err, blockdb.DuplicateKey) {
		warnColor.Fprintf(os.Stdout, "key already present at offset %d\n", offset)
		return nil
	}
	if err != nil {
		return err
	}

	okColor.Fprintf(os.Stdout, "inserted at offset %d\n", offset)
	return nil
}

func runList(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("list: expected indexPath, probeKey, k")
	}
	k, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("list: invalid k %q: %w", args[2], err)
	}

	idx, err := blockdb.Open(args[0])
	if err != nil {
		return err
	}
	defer idx.Close()

	return idx.List([]byte(args[1]), k, func(offset int64, line string) error {
		fmt.Fprintln(os.Stdout, line)
		return nil
	})
}
