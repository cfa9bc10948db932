package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli"
)

func checkRule(c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	ctx := context.Background()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()

	verdicts, err := e.app.Acquirer.Preview(ctx, id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMATCH\tREASON\tSIZE\tTITLE")
	matched := 0
	for _, v := range verdicts {
		reason := string(v.Reason)
		if v.Known {
			reason = "already acquired"
		}
		if v.Match {
			matched++
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", v.Torrent.ID, v.Match, reason, v.Torrent.Size, v.Torrent.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d of %d listed items match\n", matched, len(verdicts))
	return nil
}
