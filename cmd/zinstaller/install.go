package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/logging"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/internal/sysinfo"
)

const adminUser = "truenas_admin"

type installFlags struct {
	disks         []string
	wipe          []string
	wipeBootPools bool
	pmbr          bool
	topology      string
	storageDisks  []string
	postInstall   string
	password      string
	webUI         bool
	noSerial      bool
	yes           bool
}

func newInstallCmd() *cobra.Command {
	var f installFlags
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install non-interactively",
		Example: `  zinstaller install --disk sda --disk sdb --password secret --yes
  zinstaller install --disk sda --webui --topology raidz1 --storage-disk sdc,sdd,sde --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			if !f.yes {
				return errors.New("installation erases the selected disks; pass --yes to proceed")
			}
			a, err := newApp(logging.StderrIfTerminal())
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.disks.List(cmd.Context())
			if err != nil {
				return err
			}
			req, err := buildRequest(all, f, a.cfg.BootPool)
			if err != nil {
				return err
			}
			if !f.noSerial {
				if req.SerialSQL, err = sysinfo.SerialSQL(); err != nil {
					a.log.Warn().Err(err).Msg("serial console settings unavailable")
				}
			}
			out := cmd.OutOrStdout()
			if err := a.engine.Install(cmd.Context(), req, printProgress(out)); err != nil {
				return err
			}
			fmt.Fprintf(out, "The %s installation on %v succeeded!\n", sysinfo.Vendor(), disks.Names(req.DestinationDisks))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&f.disks, "disk", nil, "destination disk, repeatable")
	fl.StringSliceVar(&f.wipe, "wipe", nil, "additional disk to erase, repeatable")
	fl.BoolVar(&f.wipeBootPools, "wipe-boot-pools", false, "erase other disks carrying a boot pool")
	fl.BoolVar(&f.pmbr, "pmbr", false, "set the protective MBR boot flag for legacy BIOS")
	fl.StringVar(&f.topology, "topology", "", "storage pool topology: stripe, mirror, raidz1, raidz2 or raidz3")
	fl.StringSliceVar(&f.storageDisks, "storage-disk", nil, "storage pool disk, repeatable")
	fl.StringVar(&f.postInstall, "post-install", "", "YAML or JSON file passed to the installer as post_install")
	fl.StringVar(&f.password, "password", "", "password of the administrator account")
	fl.BoolVar(&f.webUI, "webui", false, "configure the administrator from the web UI instead")
	fl.BoolVar(&f.noSerial, "no-serial", false, "do not carry over the serial console settings")
	fl.BoolVarP(&f.yes, "yes", "y", false, "confirm that the selected disks are erased")
	cmd.MarkFlagsMutuallyExclusive("password", "webui")
	cmd.MarkFlagsRequiredTogether("topology", "storage-disk")
	_ = cmd.MarkFlagRequired("disk")
	return cmd
}

func buildRequest(all []disks.Disk, f installFlags, bootPool string) (installer.Request, error) {
	dest, err := installer.SelectDisks(all, f.disks)
	if err != nil {
		return installer.Request{}, err
	}
	wipe, err := installer.SelectDisks(all, f.wipe)
	if err != nil {
		return installer.Request{}, err
	}
	if f.wipeBootPools {
		seen := map[string]bool{}
		for _, d := range wipe {
			seen[d.Name] = true
		}
		for _, d := range installer.DisksToWipe(all, f.disks, bootPool) {
			if !seen[d.Name] {
				wipe = append(wipe, d)
			}
		}
	}
	req := installer.Request{DestinationDisks: dest, WipeDisks: wipe, SetPMBR: f.pmbr}

	switch {
	case f.webUI:
	case f.password != "":
		req.Authentication = &payload.AuthMethod{Username: adminUser, Password: f.password}
	default:
		return installer.Request{}, errors.New("either --password or --webui is required")
	}

	if f.topology != "" {
		t, err := pools.ParseTopology(f.topology)
		if err != nil {
			return installer.Request{}, err
		}
		req.StoragePool = &installer.StoragePoolConfig{Topology: t, Disks: f.storageDisks}
	}
	if f.postInstall != "" {
		if req.PostInstall, err = readPostInstall(f.postInstall); err != nil {
			return installer.Request{}, err
		}
	}
	return req, nil
}

// readPostInstall loads a mapping from a YAML file. JSON is valid YAML.
func readPostInstall(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func printProgress(w io.Writer) installer.ProgressFunc {
	return func(p float64, msg string) {
		fmt.Fprintf(w, "[%d%%] %s\n", int(p*100), msg)
	}
}
