package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/modload/internal/config"
	"github.com/kingrea/modload/internal/tui"
	"github.com/kingrea/modload/packagemanager"
)

// withRuntime opens the project runtime around fn.
func withRuntime(v *viper.Viper, cmd *cobra.Command, fn func(rt *runtime) error) (err error) {
	rt, err := openRuntime(v)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(cmd.Context()); err == nil {
			err = cerr
		}
	}()
	if err := fn(rt); err != nil {
		rt.log.Printf("%s failed: %v", cmd.Name(), err)
		return err
	}
	return nil
}

func newInitCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .modload/ with a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				fmt.Fprintln(cmd.OutOrStdout(), rt.cfg.ProjectConfigPath())
				return nil
			})
		},
	}
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Read or change project settings",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "cache [forever|none]",
		Short: "Show or persist the resolution cache policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				if len(args) == 1 {
					if err := rt.cfg.SetCachePolicy(args[0]); err != nil {
						return err
					}
					rt.log.Printf("cache policy set to %s", rt.cfg.CachePolicy())
				}
				fmt.Fprintln(cmd.OutOrStdout(), rt.cfg.CachePolicy())
				return nil
			})
		},
	})
	return cfg
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <specifier>...",
		Short: "Print the target each specifier resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				from := rt.from(v.GetString("from"))
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, spec := range args {
					res, err := rt.manager.Resolve(cmd.Context(), spec, from)
					if err != nil {
						return err
					}
					target := res.Path
					if res.Builtin {
						target = "builtin:" + res.Path
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", spec, target, res.Package)
				}
				return w.Flush()
			})
		},
	}
}

func newRequireCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "require <specifier>...",
		Short: "Resolve and load specifiers, printing their exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				from := rt.from(v.GetString("from"))
				out := cmd.OutOrStdout()
				for _, spec := range args {
					exports, err := rt.manager.Require(cmd.Context(), spec, from)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s:\n%s\n", spec, render(exports))
				}
				return nil
			})
		},
	}
}

func newInstallCmd(v *viper.Viper) *cobra.Command {
	sets := keyValueFlag{}
	cmd := &cobra.Command{
		Use:   "install <specifier>...",
		Short: "Install packages with the configured installer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				if err := rt.manager.Install(cmd.Context(), args, rt.from(v.GetString("from")), sets.options()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %d package(s)\n", len(args))
				return nil
			})
		},
	}
	cmd.Flags().Var(&sets, "set", "installer option (key=value, repeatable)")
	return cmd
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [specifier]...",
		Short: "Load specifiers and browse the artifact table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				from := rt.from(v.GetString("from"))
				for _, spec := range args {
					if _, err := rt.manager.Require(cmd.Context(), spec, from); err != nil {
						return err
					}
				}
				out := cmd.OutOrStdout()
				if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) && !v.GetBool("plain") {
					return tui.Run(rt.manager, tui.WithTitle(rt.cfg.ProjectDir), tui.WithLogFile(rt.log.Path()))
				}
				return printTables(out, rt.manager)
			})
		},
	}
	cmd.Flags().Bool("plain", false, "Print tables instead of starting the inspector")
	return cmd
}

func printTables(out io.Writer, m *packagemanager.Manager) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARTIFACT\tKIND\tSTATE\tFROM")
	for _, info := range m.Artifacts() {
		state := "loaded"
		if info.Loading {
			state = "loading"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Path, info.Extension, state, info.From)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DIRECTORY\tSPECIFIER\tTARGET")
	for _, info := range m.Resolutions() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.BaseDir, info.Specifier, info.Path)
	}
	return w.Flush()
}

func newStateCmd(v *viper.Viper) *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Save or check the serialized manager handles",
	}
	state.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write the manager's handles to " + config.ModloadDir + "/state/manager.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				st, err := rt.manager.Serialize()
				if err != nil {
					return err
				}
				data, err := st.Encode()
				if err != nil {
					return err
				}
				if err := os.WriteFile(rt.cfg.StatePath(), data, 0o644); err != nil {
					return fmt.Errorf("write state: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), rt.cfg.StatePath())
				return nil
			})
		},
	})
	state.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Decode the saved state and rebuild a manager from it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(v, cmd, func(rt *runtime) error {
				data, err := os.ReadFile(rt.cfg.StatePath())
				if err != nil {
					return fmt.Errorf("read state: %w", err)
				}
				st, err := packagemanager.DecodeState(data)
				if err != nil {
					return err
				}
				restored, err := packagemanager.Deserialize(st, rt.handles)
				if err != nil {
					return err
				}
				defer restored.Close(cmd.Context())
				installer := st.Installer
				if installer == "" {
					installer = "(none)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "filesystem: %s\ninstaller: %s\nextensions: %v\n", st.Filesystem, installer, restored.Extensions())
				return nil
			})
		},
	})
	return state
}

// render prints exports as YAML when they are plain data and falls back to
// the Go type otherwise.
func render(v any) string {
	if v == nil {
		return "null"
	}
	if !isPlainData(reflect.ValueOf(v)) {
		return fmt.Sprintf("<%T>", v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	return string(data)
}

// maxRenderDepth bounds the walk so self-referential exports are not followed forever.
const maxRenderDepth = 64

func isPlainData(v reflect.Value) bool {
	return plainAt(v, 0)
}

func plainAt(v reflect.Value, depth int) bool {
	if depth > maxRenderDepth {
		return false
	}
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Interface, reflect.Pointer:
		return v.IsNil() || plainAt(v.Elem(), depth+1)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !plainAt(iter.Value(), depth+1) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !plainAt(v.Index(i), depth+1) {
				return false
			}
		}
		return true
	case reflect.Struct:
		return false
	default:
		return true
	}
}
