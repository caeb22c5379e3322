// Package tui is the installer's text menu.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/i18n"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/internal/sysinfo"
)

// ErrShell asks the caller to drop to a shell.
var ErrShell = errors.New("shell requested")

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	warnColor  = color.New(color.FgRed, color.Bold)
)

const adminUser = "truenas_admin"

// Installer is the engine the menu drives.
type Installer interface {
	Install(ctx context.Context, req installer.Request, progress installer.ProgressFunc) error
}

type Menu struct {
	Engine   Installer
	Disks    disks.Lister
	Prompt   Prompter
	Out      io.Writer
	Info     sysinfo.Info
	BootPool string
	// SerialSQL supplies the serial console settings to carry over.
	SerialSQL func() (string, error)
	// Exec runs reboot and shutdown.
	Exec func(name string, args ...string) error
	Log  zerolog.Logger

	cat i18n.Catalog
}

// Run asks for a language and then loops on the main menu until the
// operator reboots, shuts down or asks for a shell.
func (m *Menu) Run(ctx context.Context) error {
	m.cat = i18n.New(i18n.DefaultLanguage)
	names := make([]string, len(i18n.Languages))
	for i, l := range i18n.Languages {
		names[i] = l.Name
	}
	idx, err := m.Prompt.Select(m.cat.T("language_selection"), names)
	if err != nil {
		return err
	}
	m.cat = i18n.New(i18n.Languages[idx].Code)
	if sp, ok := m.Prompt.(SurveyPrompter); ok {
		sp.Continue = m.cat.T("press_enter")
		m.Prompt = sp
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		title := fmt.Sprintf("%s %s %s", m.Info.Vendor, m.Info.Version, m.cat.T("console_setup"))
		choice, err := m.Prompt.Select(title, []string{
			m.cat.T("install_upgrade"),
			m.cat.T("shell"),
			m.cat.T("reboot"),
			m.cat.T("shutdown"),
		})
		if errors.Is(err, ErrCancelled) {
			continue
		}
		if err != nil {
			return err
		}
		switch choice {
		case 0:
			if err := m.installUpgrade(ctx); err != nil {
				return err
			}
		case 1:
			return ErrShell
		case 2:
			return m.exec("reboot")
		case 3:
			return m.exec("shutdown", "now")
		}
	}
}

func (m *Menu) exec(name string, args ...string) error {
	if m.Exec == nil {
		return fmt.Errorf("%s not available", name)
	}
	return m.Exec(name, args...)
}

// installUpgrade runs the install dialogs. A failed installation returns the
// operator to disk selection; cancelling returns to the main menu.
func (m *Menu) installUpgrade(ctx context.Context) error {
	for {
		all, err := m.Disks.List(ctx)
		if err != nil {
			m.Log.Error().Err(err).Msg("list disks")
			return m.Prompt.Message(m.cat.T("choose_media"), err.Error())
		}
		if len(all) == 0 {
			return m.Prompt.Message(m.cat.T("choose_media"), m.cat.T("no_drives"))
		}
		req, err := m.collect(all)
		if errors.Is(err, ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}

		progress := newProgressPrinter(m.Out)
		err = m.Engine.Install(ctx, *req, progress.update)
		progress.finish()
		if err != nil {
			m.Log.Error().Err(err).Msg("installation failed")
			if perr := m.Prompt.Message(m.cat.T("install_error"), err.Error()); perr != nil && !errors.Is(perr, ErrCancelled) {
				return perr
			}
			continue
		}
		text := m.cat.Tf("install_success_text", m.Info.Vendor, strings.Join(disks.Names(req.DestinationDisks), ", ")) +
			"\n" + m.cat.T("reboot_prompt")
		return m.Prompt.Message(m.cat.T("install_success"), text)
	}
}

// collect walks the operator through every question and builds the request.
func (m *Menu) collect(all []disks.Disk) (*installer.Request, error) {
	var dest, wipe []disks.Disk
	for {
		picked, err := m.Prompt.MultiSelect(m.cat.T("choose_media"), m.cat.Tf("choose_media_help", m.Info.Vendor), diskOptions(all))
		if err != nil {
			return nil, err
		}
		if len(picked) == 0 {
			if err := m.Prompt.Message(m.cat.T("choose_media"), m.cat.T("select_disk")); err != nil {
				return nil, err
			}
			continue
		}
		dest = pick(all, picked)
		wipe = installer.DisksToWipe(all, disks.Names(dest), m.BootPool)
		if len(wipe) > 0 {
			ok, err := m.Prompt.Confirm(m.cat.Tf("wipe_boot_pool", strings.Join(disks.Names(wipe), ", ")), false)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		break
	}

	storage, err := m.storagePool(all, dest, wipe)
	if err != nil {
		return nil, err
	}

	erased := append(disks.Names(wipe), disks.Names(dest)...)
	if storage != nil {
		erased = append(erased, storage.Disks...)
	}
	sort.Strings(erased)
	destNames := strings.Join(disks.Names(dest), ", ")
	fmt.Fprintln(m.Out)
	warnColor.Fprintln(m.Out, m.cat.T("warning"))
	fmt.Fprintln(m.Out, "- "+m.cat.Tf("erase_all", strings.Join(erased, ", ")))
	fmt.Fprintln(m.Out, "- "+m.cat.Tf("not_for_pools", destNames))
	fmt.Fprintln(m.Out)
	fmt.Fprintln(m.Out, m.cat.T("note"))
	fmt.Fprintln(m.Out, "- "+m.cat.T("flash_note"))
	ok, err := m.Prompt.Confirm(m.cat.Tf("installation", m.Info.Vendor)+": "+m.cat.T("proceed_install"), false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCancelled
	}

	auth, err := m.authentication()
	if err != nil {
		return nil, err
	}

	setPMBR := false
	if !m.Info.EFI {
		setPMBR, err = m.Prompt.Confirm(m.cat.T("legacy_boot")+": "+m.cat.T("efi_prompt"), false)
		if err != nil {
			return nil, err
		}
	}

	var sql string
	if m.SerialSQL != nil {
		if sql, err = m.SerialSQL(); err != nil {
			m.Log.Warn().Err(err).Msg("serial console settings unavailable")
			sql = ""
		}
	}

	return &installer.Request{
		DestinationDisks: dest,
		WipeDisks:        wipe,
		SetPMBR:          setPMBR,
		Authentication:   auth,
		SerialSQL:        sql,
		StoragePool:      storage,
	}, nil
}

func (m *Menu) authentication() (*payload.AuthMethod, error) {
	choice, err := m.Prompt.Select(m.cat.T("web_ui_auth"), []string{m.cat.T("admin_user"), m.cat.T("configure_webui")})
	if err != nil {
		return nil, err
	}
	if choice == 1 {
		return nil, nil
	}
	for {
		pw, err := m.Prompt.Password(m.cat.T("admin_password"))
		if err != nil {
			return nil, err
		}
		if pw == "" {
			if err := m.Prompt.Message(m.cat.T("web_ui_auth"), m.cat.T("empty_password")); err != nil {
				return nil, err
			}
			continue
		}
		again, err := m.Prompt.Password(m.cat.T("confirm_password"))
		if err != nil {
			return nil, err
		}
		if again != pw {
			if err := m.Prompt.Message(m.cat.T("web_ui_auth"), m.cat.T("password_mismatch")); err != nil {
				return nil, err
			}
			continue
		}
		return &payload.AuthMethod{Username: adminUser, Password: pw}, nil
	}
}

// storagePool optionally configures a data pool on disks not used otherwise.
func (m *Menu) storagePool(all, dest, wipe []disks.Disk) (*installer.StoragePoolConfig, error) {
	used := map[string]bool{}
	for _, d := range append(append([]disks.Disk{}, dest...), wipe...) {
		used[d.Name] = true
	}
	var free []disks.Disk
	for _, d := range all {
		if !used[d.Name] {
			free = append(free, d)
		}
	}
	if len(free) == 0 {
		return nil, nil
	}
	for {
		ok, err := m.Prompt.Confirm(m.cat.T("create_storage_pool")+": "+m.cat.T("storage_pool_prompt"), false)
		if err != nil || !ok {
			return nil, err
		}
		topos := pools.Topologies()
		labels := make([]string, len(topos))
		for i, t := range topos {
			labels[i] = m.cat.T(string(t))
		}
		ti, err := m.Prompt.Select(m.cat.T("raid_level"), labels)
		if err != nil {
			return nil, err
		}
		topo := topos[ti]
		picked, err := m.Prompt.MultiSelect(m.cat.T("available_disks"), labels[ti], diskOptions(free))
		if err != nil {
			return nil, err
		}
		chosen := pick(free, picked)
		sizes := make([]uint64, len(chosen))
		var total uint64
		for i, d := range chosen {
			sizes[i] = d.Size
			total += d.Size
		}
		verr := pools.ValidateTopology(topo, len(chosen))
		if verr == nil {
			verr = pools.ValidateCapacity(sizes)
		}
		if verr != nil {
			if err := m.Prompt.Message(m.cat.T("create_storage_pool"), verr.Error()); err != nil {
				return nil, err
			}
			continue
		}
		fmt.Fprintf(m.Out, "%s: %s\n%s: %s\n%s: %s\n",
			m.cat.T("selected_disks"), strings.Join(disks.Names(chosen), ", "),
			m.cat.T("total_size"), humanize.IBytes(total),
			m.cat.T("usable_space"), humanize.IBytes(pools.UsableBytes(topo, sizes)))
		return &installer.StoragePoolConfig{Topology: topo, Disks: disks.Names(chosen)}, nil
	}
}

// diskOptions renders one menu line per disk: name, model, label and size.
func diskOptions(list []disks.Disk) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = fmt.Sprintf("%-8s %-15.15s %-15.15s -- %s", d.Name, d.Model, d.Label, d.HumanSize())
	}
	return out
}

func pick(list []disks.Disk, idx []int) []disks.Disk {
	out := make([]disks.Disk, 0, len(idx))
	for _, i := range idx {
		if i >= 0 && i < len(list) {
			out = append(out, list[i])
		}
	}
	return out
}
