// Command ckptctl is a small administrative tool for inspecting and
// maintaining a checkpoint store without writing Go code: dump its column/
// level tree, read back a version's key set, prune old versions, and kick
// off an out-of-band merge.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	ckptdb "github.com/ckptdb/ckptdb"
	"github.com/ckptdb/ckptdb/internal/xlog"
)

var dirFlag = &cli.StringFlag{
	Name:     "dir",
	Usage:    "store directory (must already exist, or be creatable)",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "ckptctl",
		Usage: "inspect and maintain an embedding checkpoint store",
		Commands: []*cli.Command{
			dumpCommand,
			getVersionCommand,
			deleteBeforeCommand,
			mergeCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		xlog.Root().Error("ckptctl failed", "err", err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (*ckptdb.Engine, error) {
	return ckptdb.Open(c.String("dir"), ckptdb.DefaultOptions(), nil)
}

var dumpCommand = &cli.Command{
	Name:  "dump",
	Usage: "print the column/level tree",
	Flags: []cli.Flag{dirFlag},
	Action: func(c *cli.Context) error {
		e, err := openStore(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return e.Dump(os.Stdout)
	},
}

var getVersionCommand = &cli.Command{
	Name:      "get-version",
	Usage:     "print the reconstructed key/value map for a version",
	ArgsUsage: "<column>",
	Flags:     []cli.Flag{dirFlag},
	Action: func(c *cli.Context) error {
		column, err := parseColumn(c.Args().First())
		if err != nil {
			return err
		}
		e, err := openStore(c)
		if err != nil {
			return err
		}
		defer e.Close()

		values, err := e.GetVersion(column)
		if err != nil {
			return err
		}
		for key, vec := range values {
			fmt.Printf("%d\t%v\n", key, vec)
		}
		return nil
	},
}

var deleteBeforeCommand = &cli.Command{
	Name:      "delete-before",
	Usage:     "prune every version up to and including a column",
	ArgsUsage: "<column>",
	Flags:     []cli.Flag{dirFlag},
	Action: func(c *cli.Context) error {
		column, err := parseColumn(c.Args().First())
		if err != nil {
			return err
		}
		e, err := openStore(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return e.DeleteCheckpointsBefore(column)
	},
}

var mergeCommand = &cli.Command{
	Name:      "merge",
	Usage:     "administratively merge a closed column range",
	ArgsUsage: "<start> <end>",
	Flags:     []cli.Flag{dirFlag},
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("merge requires <start> <end>")
		}
		start, err := parseColumn(c.Args().Get(0))
		if err != nil {
			return err
		}
		end, err := parseColumn(c.Args().Get(1))
		if err != nil {
			return err
		}
		e, err := openStore(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return e.Merge(start, end)
	},
}

func parseColumn(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("missing column argument")
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid column %q: %w", s, err)
	}
	return uint32(v), nil
}
