package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pd-go/internal/app"
	"pd-go/internal/pd"
)

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [DIR]",
	Short: "List directories and images",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		l, err := a.List(ctx, target, recursive)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, d := range l.Directories {
			fmt.Fprintf(w, "%d:%s/\n", l.Library.ID(), d)
		}
		for _, img := range l.Images {
			width, height := img.OrientedPixelSize()
			fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\n",
				img.Name(), img.Path(), width, height, stars(img.Rating()), fileTypes(img))
		}
		return w.Flush()
	},
}

func stars(rating int) string {
	if rating <= 0 {
		return "-"
	}
	return strings.Repeat("*", rating)
}

func fileTypes(img *pd.Image) string {
	switch {
	case img.JPEGFile() != "" && img.RAWFile() != "":
		if img.UsesRAW() {
			return "jpeg+RAW"
		}
		return "JPEG+raw"
	case img.RAWFile() != "":
		return "RAW"
	default:
		return "JPEG"
	}
}

// import command
var importCmd = &cobra.Command{
	Use:   "import SOURCE... DIR",
	Short: "Copy images into a library directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetString("only")
		prefix, _ := cmd.Flags().GetString("prefix")
		move, _ := cmd.Flags().GetBool("move")
		sets, _ := cmd.Flags().GetStringArray("set")

		opts := app.ImportOptions{NamePrefix: prefix, DeleteSource: move}
		switch only {
		case "":
		case "jpeg":
			opts.FileTypes = pd.TypeJPEG
		case "raw":
			opts.FileTypes, opts.PreferredType = pd.TypeRAW, pd.TypeRAW
		default:
			return fmt.Errorf("--only must be jpeg or raw, got %q", only)
		}
		if len(sets) > 0 {
			opts.Properties = make(map[string]string, len(sets))
			for _, s := range sets {
				k, v, ok := strings.Cut(s, "=")
				if !ok {
					return fmt.Errorf("--set expects KEY=VALUE, got %q", s)
				}
				opts.Properties[k] = v
			}
		}

		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		srcs, dest := args[:len(args)-1], args[len(args)-1]
		iop, err := a.Import(ctx, srcs, dest, opts)
		if iop != nil && interactive() {
			for _, r := range iop.Results() {
				switch {
				case r.Err != nil:
					fmt.Printf("!  %s: %v\n", r.Source.Path(), r.Err)
				case r.Image != nil:
					fmt.Printf("✓  %s\n", r.Image.Path())
				}
			}
		}
		if iop != nil {
			fmt.Printf("Imported %d image(s) in %s\n", len(iop.Imported()), iop.Duration().Round(time.Millisecond))
		}
		return err
	},
}

// cp command
var cpCmd = &cobra.Command{
	Use:   "cp IMAGE... DIR",
	Short: "Copy images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Copy")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		copies, err := a.Copy(ctx, args[:len(args)-1], args[len(args)-1])
		for _, img := range copies {
			fmt.Println(img.Path())
		}
		return err
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv IMAGE... DIR",
	Short: "Move images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Move")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		return a.Move(ctx, args[:len(args)-1], args[len(args)-1])
	},
}

// mvdir command
var mvdirCmd = &cobra.Command{
	Use:   "mvdir DIR NEWDIR",
	Short: "Rename a directory within a library",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MoveDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MoveDirectory(args[0], args[1])
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir DIR",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MakeDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MakeDirectory(args[0])
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm IMAGE...",
	Short: "Delete images and their files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		return a.Remove(ctx, args)
	},
}

// prop command
var propCmd = &cobra.Command{
	Use:   "prop",
	Short: "Read and edit image properties",
}

var propGetCmd = &cobra.Command{
	Use:   "get IMAGE [KEY]",
	Short: "Show properties",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetProperty")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if len(args) == 2 {
			v, ok, err := a.GetProperty(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s has no %q property", args[0], args[1])
			}
			fmt.Println(v)
			return nil
		}

		props, err := a.Properties(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, p := range props {
			mark := " "
			if p.Editable {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\n", mark, p.Key, p.Value)
		}
		return w.Flush()
	},
}

var propSetCmd = &cobra.Command{
	Use:   "set KEY VALUE IMAGE...",
	Short: "Set an editable property; an empty VALUE clears it",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		a, err := newApp("SetProperty")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		key := args[0]
		return a.SetProperty(ctx, args[2:], key, args[1], list || key == pd.KeyKeywords)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")

	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("only", "", "Copy only jpeg or raw files")
	importCmd.Flags().String("prefix", "", "Prefix for imported file names")
	importCmd.Flags().Bool("move", false, "Delete the sources after importing")
	importCmd.Flags().StringArray("set", nil, "Set KEY=VALUE on every imported image")

	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(mvdirCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)

	propCmd.AddCommand(propGetCmd)
	propCmd.AddCommand(propSetCmd)
	propSetCmd.Flags().Bool("list", false, "Treat VALUE as a comma-separated list")
	rootCmd.AddCommand(propCmd)
}
