package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mindzen-erp/mindzen/internal/cli/ui"
)

// NewModulesCommand creates the modules command group
func NewModulesCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "modules",
		Aliases: []string{"module", "mod"},
		Short:   "Inspect and install modules",
		Long: `Inspect and install MindZen modules.

The kernel keeps no state between runs: every command boots a fresh engine,
installs the auto_install modules and then applies the requested change.`,
	}

	cmd.AddCommand(newModulesListCommand(opts))
	cmd.AddCommand(newModulesShowCommand(opts))
	cmd.AddCommand(newModulesInstallCommand(opts))
	cmd.AddCommand(newModulesUninstallCommand(opts))

	return cmd
}

func newModulesListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd, opts, bootOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			reg := a.engine.Registry()
			table := ui.NewTable(cmd.OutOrStdout(), []string{"NAME", "VERSION", "CATEGORY", "DEPENDS", "STATUS"}, opts.noColor)
			table.StyleColumn(4, func(cell string) *color.Color {
				if cell == "installed" {
					return color.New(color.FgGreen)
				}
				return color.New(color.Faint)
			})
			for _, name := range a.engine.AvailableModules() {
				meta, _ := reg.Metadata(name)
				status := "available"
				if reg.IsInstalled(name) {
					status = "installed"
				}
				depends := strings.Join(meta.Depends, ",")
				if depends == "" {
					depends = "-"
				}
				table.AddRow(name, meta.Version, meta.Category, depends, status)
			}
			table.Render()
			return nil
		},
	}
}

func newModulesShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a module's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd, opts, bootOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			name := args[0]
			meta, ok := a.engine.Registry().Metadata(name)
			if !ok {
				ui.ModuleNotFound(name, a.engine.AvailableModules(), opts.noColor).Write(cmd.ErrOrStderr())
				return fmt.Errorf("module %q not found", name)
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), opts.noColor)
			kv.AddRow("Name", meta.Name)
			kv.AddRow("Version", meta.Version)
			kv.AddRow("Description", meta.Description)
			kv.AddRow("Author", meta.Author)
			kv.AddRow("Category", meta.Category)
			kv.AddRow("Depends", strings.Join(meta.Depends, ", "))
			kv.AddRow("Installable", fmt.Sprint(meta.Installable))
			kv.AddRow("Auto install", fmt.Sprint(meta.AutoInstall))
			kv.AddRow("Installed", fmt.Sprint(a.engine.Registry().IsInstalled(name)))
			kv.Render()
			return nil
		},
	}
}

func newModulesInstallCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install <name>...",
		Short: "Install modules and their dependencies",
		Long: `Install one or more modules. Missing dependencies are installed first;
the resulting install order is printed once every module is in place.`,
		Example: `  mindzen modules install finance
  mindzen modules install sales purchase`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd, opts, bootOptions{record: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			reg := a.engine.Registry()
			for _, name := range args {
				if _, ok := reg.Metadata(name); !ok {
					ui.ModuleNotFound(name, a.engine.AvailableModules(), opts.noColor).Write(cmd.ErrOrStderr())
					return fmt.Errorf("module %q not found", name)
				}
				if !a.engine.InstallModule(cmd.Context(), name) {
					ui.InstallFailed(name, opts.noColor).Write(cmd.ErrOrStderr())
					return fmt.Errorf("failed to install module %q", name)
				}
				ui.WriteSuccess(cmd.OutOrStdout(), "Installed "+name, opts.noColor)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Install order: %s\n", strings.Join(a.engine.InstalledModules(), ", "))
			return nil
		},
	}
}

func newModulesUninstallCommand(opts *globalOptions) *cobra.Command {
	var preinstall []string

	cmd := &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Uninstall a module",
		Long: `Uninstall a module. The uninstall is refused while another installed
module depends on it or when its pre-uninstall step objects.

Use --install to bring modules in before the uninstall is attempted.`,
		Example: `  mindzen modules uninstall purchase --install purchase
  mindzen modules uninstall crm --install sales`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd, opts, bootOptions{record: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			name := args[0]
			for _, dep := range preinstall {
				if !a.engine.InstallModule(cmd.Context(), dep) {
					ui.InstallFailed(dep, opts.noColor).Write(cmd.ErrOrStderr())
					return fmt.Errorf("failed to install module %q", dep)
				}
			}

			if !a.engine.Registry().IsInstalled(name) {
				if _, ok := a.engine.Registry().Metadata(name); !ok {
					ui.ModuleNotFound(name, a.engine.AvailableModules(), opts.noColor).Write(cmd.ErrOrStderr())
					return fmt.Errorf("module %q not found", name)
				}
				return fmt.Errorf("module %q is not installed", name)
			}

			dependents := a.engine.Registry().Dependents(name)
			if !a.engine.UninstallModule(cmd.Context(), name) {
				ui.UninstallFailed(name, dependents, opts.noColor).Write(cmd.ErrOrStderr())
				return fmt.Errorf("failed to uninstall module %q", name)
			}

			ui.WriteSuccess(cmd.OutOrStdout(), "Uninstalled "+name, opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&preinstall, "install", nil, "modules to install before uninstalling")
	return cmd
}
