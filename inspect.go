package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/c2h5oh/datasize"

	"github.com/fabricionaweb/pico-httptracker/internal/metainfo"
)

// inspect prints the info-hash clients announce with for a .torrent file,
// followed by its file layout when the info dictionary is valid.
func inspect(w io.Writer, path string) error {
	mi, err := metainfo.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	// Sizes of an invalid info dictionary may be negative; only the
	// identifying fields are printed for it.
	verr := mi.Info.Validate()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "info_hash:\t%s\n", mi.InfoHash)
	fmt.Fprintf(tw, "name:\t%s\n", mi.Info.Name)
	if verr == nil {
		fmt.Fprintf(tw, "size:\t%s\n", datasize.ByteSize(mi.TotalLength()).HumanReadable())
		fmt.Fprintf(tw, "piece length:\t%s\n", datasize.ByteSize(mi.Info.PieceLength).HumanReadable())
		fmt.Fprintf(tw, "pieces:\t%d\n", mi.NumPieces())
	}
	fmt.Fprintf(tw, "private:\t%t\n", mi.IsPrivate())
	if mi.Info.MetaVersion > 0 {
		fmt.Fprintf(tw, "meta version:\t%d\n", mi.Info.MetaVersion)
	}
	for _, u := range mi.AnnounceURLs() {
		fmt.Fprintf(tw, "announce:\t%s\n", u)
	}

	status := "ok"
	if verr != nil {
		status = verr.Error()
	}
	fmt.Fprintf(tw, "valid:\t%s\n", status)
	if err := tw.Flush(); err != nil {
		return err
	}
	if verr != nil {
		return nil
	}

	fmt.Fprintln(w, "\nfiles:")
	for _, f := range mi.Layout() {
		if _, err := fmt.Fprintf(w, "  %10s  %s\n", datasize.ByteSize(f.Length).HumanReadable(), f.Path); err != nil {
			return err
		}
	}
	return nil
}
