package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/srediag/plugin-loader/pkg/symtab"
)

func newSymbolsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Host symbol map tools",
	}
	cmd.AddCommand(newLookupCommand(opts), newConvertCommand(opts))
	return cmd
}

type baseFlags struct {
	elf  string
	bias uint64
	text uint64
	bss  uint64
	data uint64
	ro   uint64
}

func (f *baseFlags) resolve() (symtab.SectionBases, error) {
	if f.elf == "" {
		return symtab.SectionBases{
			Text:     uintptr(f.text),
			ZeroData: uintptr(f.bss),
			Data:     uintptr(f.data),
			ReadOnly: uintptr(f.ro),
		}, nil
	}
	file, err := os.Open(f.elf)
	if err != nil {
		return symtab.SectionBases{}, err
	}
	defer file.Close()
	b, err := symtab.BasesFromELF(file)
	if err != nil {
		return symtab.SectionBases{}, err
	}
	return b.Shift(uintptr(f.bias)), nil
}

func newLookupCommand(opts *options) *cobra.Command {
	var bf baseFlags
	cmd := &cobra.Command{
		Use:   "lookup <name|address>...",
		Short: "Resolve names to addresses and addresses to the following symbol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.setup()
			if err != nil {
				return err
			}
			defer rt.close()

			bases, err := bf.resolve()
			if err != nil {
				return err
			}
			tbl, err := rt.loadSymbols(bases)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				if n, err := strconv.ParseUint(arg, 0, 64); err == nil {
					fmt.Fprintf(out, "%#x\t%s\n", n, tbl.AddressToName(uintptr(n)))
					continue
				}
				fmt.Fprintf(out, "%s\t%#x\n", arg, tbl.NameToAddress(arg))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&bf.elf, "elf", "", "read section bases from this ELF binary")
	fl.Uint64Var(&bf.bias, "bias", 0, "load bias added to ELF section bases")
	fl.Uint64Var(&bf.text, "text-base", 0, "address of .text")
	fl.Uint64Var(&bf.bss, "bss-base", 0, "address of .bss")
	fl.Uint64Var(&bf.data, "data-base", 0, "address of .data")
	fl.Uint64Var(&bf.ro, "rodata-base", 0, "address of .rodata")
	return cmd
}

// loadSymbols reads the configured binary map directory, or the textual
// listing when no directory is configured.
func (rt *app) loadSymbols(bases symtab.SectionBases) (*symtab.Table, error) {
	sc := rt.cfg.Symbols
	opts := []symtab.Option{symtab.WithLogger(rt.logger), symtab.WithExclude(sc.Exclude...)}
	fsys := os.DirFS(rt.cfg.MountRoot)
	if sc.MapDir != "" {
		return symtab.LoadDir(fsys, sc.MapDir, bases, opts...)
	}
	if sc.Listing != "" {
		return symtab.Load(fsys, sc.Listing, bases, opts...)
	}
	return symtab.New(bases), nil
}

func newConvertCommand(opts *options) *cobra.Command {
	var keepAll bool
	cmd := &cobra.Command{
		Use:   "convert <listing> <out.bin>",
		Short: "Convert a textual symbol listing into a binary symbol map",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.setup()
			if err != nil {
				return err
			}
			defer rt.close()

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}

			exclude := symtab.DefaultExclude
			if keepAll {
				exclude = nil
			}
			st, err := symtab.Convert(in, out, exclude, rt.logger)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			rt.logger.Info().Int("symbols", st.Symbols).Int("filtered", st.Filtered).
				Int("malformed", st.Malformed).Int("rejected_sections", st.Rejected).
				Str("out", args[1]).Msg("symbol map written")
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepAll, "keep-all", false, "do not drop compiler generated helper symbols")
	return cmd
}
