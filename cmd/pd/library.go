package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pd-go/internal/pd"
)

// library command
var libraryCmd = &cobra.Command{
	Use:     "library",
	Aliases: []string{"lib"},
	Short:   "Manage libraries",
}

var libraryAddCmd = &cobra.Command{
	Use:   "add LOCATION",
	Short: "Register a library (path, sftp://, s3:// or memory:)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AddLibrary")
		if err != nil {
			return err
		}
		defer a.Close()

		lib, err := a.AddLibrary(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Library %d: %s\n", lib.ID(), lib.Spec())
		return nil
	},
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List libraries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListLibraries")
		if err != nil {
			return err
		}
		defer a.Close()

		libs := a.Libraries()
		if len(libs) == 0 {
			fmt.Println("No libraries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFILES\tPENDING\tLOCATION")
		for _, lib := range libs {
			files, _, pending, err := lib.CatalogStats()
			if err != nil {
				fmt.Fprintf(w, "%d\t%s\t?\t?\t%s\n", lib.ID(), lib.Name(), lib.Spec())
				continue
			}
			loc := lib.Spec().String()
			if lib.IsTransient() {
				loc += " (transient)"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", lib.ID(), lib.Name(), files, pending, loc)
		}
		return w.Flush()
	},
}

var libraryRemoveCmd = &cobra.Command{
	Use:   "rm LIBRARY",
	Short: "Forget a library; its files are left alone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invalid, _ := cmd.Flags().GetBool("invalid")

		a, err := newApp("RemoveLibrary")
		if err != nil {
			return err
		}
		defer a.Close()

		if invalid {
			ids, err := a.RemoveInvalidLibraries()
			for _, id := range ids {
				fmt.Printf("Removed library %d\n", id)
			}
			return err
		}
		if len(args) == 0 {
			return fmt.Errorf("library required")
		}

		ctx, stop := signalContext()
		defer stop()
		if err := a.RemoveLibrary(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed library %s\n", args[0])
		return nil
	},
}

var librarySyncCmd = &cobra.Command{
	Use:   "sync [LIBRARY]",
	Short: "Write pending catalog and sidecar changes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Synchronize")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Synchronize(optionalArg(args))
	},
}

var libraryGCCmd = &cobra.Command{
	Use:   "gc [LIBRARY]",
	Short: "Drop cached previews of files that no longer exist",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CollectGarbage")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.CollectGarbage(optionalArg(args))
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cached preview(s)\n", n)
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage preview caches",
}

var cacheEmptyCmd = &cobra.Command{
	Use:   "empty [LIBRARY]",
	Short: "Discard cached previews",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("EmptyCaches")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.EmptyCaches(optionalArg(args))
	},
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm [DIR]",
	Short: "Generate previews ahead of time",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp("WarmCache")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		var progress func(*pd.Image, error)
		if interactive() {
			progress = func(img *pd.Image, err error) {
				if err != nil {
					fmt.Printf("!  %s: %v\n", img.Path(), err)
					return
				}
				fmt.Printf("✓  %s\n", img.Path())
			}
		}

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		n, err := a.WarmCache(ctx, target, recursive, progress)
		if err != nil {
			return err
		}
		fmt.Printf("Generated %d preview(s)\n", n)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch LIBRARY",
	Short: "Follow changes made to a local library by other programs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		return a.Watch(ctx, args[0], func(ev pd.Event) {
			switch ev.Kind {
			case pd.EventImageMoved:
				fmt.Printf("%s\t%s -> %s\n", ev.Kind, ev.OldPath, ev.Path)
			default:
				fmt.Printf("%s\t%s\n", ev.Kind, ev.Path)
			}
		})
	},
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	libraryCmd.AddCommand(libraryAddCmd)
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(libraryRemoveCmd)
	libraryRemoveCmd.Flags().Bool("invalid", false, "Remove every library whose root is gone")
	libraryCmd.AddCommand(librarySyncCmd)
	libraryCmd.AddCommand(libraryGCCmd)

	cacheCmd.AddCommand(cacheEmptyCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
	cacheWarmCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")

	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(watchCmd)
}
