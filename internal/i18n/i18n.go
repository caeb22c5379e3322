// Package i18n holds the text menu's translations.
package i18n

import "fmt"

const DefaultLanguage = "en"

// Language is a selectable menu language.
type Language struct {
	Code string
	Name string
}

var Languages = []Language{
	{Code: "en", Name: "English"},
	{Code: "zh", Name: "中文"},
}

var translations = map[string]map[string]string{
	"en": {
		"language_selection": "Select Language / 选择语言",
		"console_setup":      "Console Setup",
		"install_upgrade":    "Install/Upgrade",
		"shell":              "Shell",
		"reboot":             "Reboot System",
		"shutdown":           "Shutdown System",
		"choose_media":       "Choose Destination Media",
		"choose_media_help": "Install %[1]s to a drive. If desired, select multiple drives to provide redundancy. " +
			"%[1]s installation drive(s) are not available for use in storage pools.",
		"no_drives":   "No drives available",
		"select_disk": "Select at least one disk to proceed with the installation.",
		"wipe_boot_pool": "Disk(s) %[1]s contain an existing boot pool, but they were not selected for installation. " +
			"This configuration will not work unless these disks are erased.\n\nProceed with erasing %[1]s?",
		"warning":           "WARNING:",
		"note":              "NOTE:",
		"erase_all":         "This erases ALL partitions and data on %s.",
		"not_for_pools":     "%s will be unavailable for use in storage pools.",
		"flash_note":        "Installing on SATA, SAS, or NVMe flash media is recommended. USB flash sticks are discouraged.",
		"proceed_install":   "Proceed with the installation?",
		"installation":      "%s Installation",
		"web_ui_auth":       "Web UI Authentication Method",
		"admin_user":        "Administrative user (truenas_admin)",
		"configure_webui":   "Configure using Web UI",
		"admin_password":    "Enter your \"truenas_admin\" user password. Root password login will be disabled.",
		"confirm_password":  "Confirm password",
		"password_mismatch": "Passwords do not match.",
		"empty_password":    "Password must not be empty.",
		"legacy_boot":       "Legacy Boot",
		"efi_prompt": "Allow EFI boot? Enter Yes for systems with newer components such as NVMe devices. " +
			"Enter No when system hardware requires legacy BIOS boot workaround.",
		"create_storage_pool":  "Create Storage Pool",
		"storage_pool_prompt":  "Create a storage pool on the remaining disks now?",
		"raid_level":           "RAID Level",
		"STRIPE":               "Stripe (no redundancy)",
		"MIRROR":               "Mirror",
		"RAIDZ1":               "RAIDZ1 (single parity)",
		"RAIDZ2":               "RAIDZ2 (double parity)",
		"RAIDZ3":               "RAIDZ3 (triple parity)",
		"available_disks":      "Available Disks",
		"selected_disks":       "Selected disks",
		"total_size":           "Total size",
		"usable_space":         "Usable space",
		"no_storage_disks":     "No disks remain for a storage pool.",
		"install_error":        "Installation Error",
		"install_success":      "Installation Succeeded",
		"install_success_text": "The %s installation on %s succeeded!",
		"reboot_prompt":        "Please reboot and remove the installation media.",
		"press_enter":          "Press Enter to continue",
	},
	"zh": {
		"language_selection": "选择语言 / Select Language",
		"console_setup":      "控制台设置",
		"install_upgrade":    "安装/升级",
		"shell":              "命令行",
		"reboot":             "重启系统",
		"shutdown":           "关闭系统",
		"choose_media":       "选择目标媒体",
		"choose_media_help":  "将 %[1]s 安装到磁盘。如需冗余，可选择多个磁盘。%[1]s 安装盘不能用于存储池。",
		"no_drives":          "没有可用的驱动器",
		"select_disk":        "请至少选择一个磁盘以继续安装。",
		"wipe_boot_pool":     "磁盘 %[1]s 含有旧的引导池，但未被选为安装盘。除非擦除这些磁盘，否则系统无法正常启动。\n\n是否擦除 %[1]s？",
		"warning":            "警告：",
		"note":               "注意：",
		"erase_all":          "这将擦除 %s 上的所有分区和数据。",
		"not_for_pools":      "%s 将不能用于存储池。",
		"flash_note":         "建议安装在 SATA、SAS 或 NVMe 闪存介质上，不推荐使用 USB 闪存盘。",
		"proceed_install":    "是否继续安装？",
		"installation":       "%s 安装",
		"web_ui_auth":        "Web界面认证方式",
		"admin_user":         "管理员用户 (truenas_admin)",
		"configure_webui":    "使用Web界面配置",
		"admin_password":     "请输入 \"truenas_admin\" 用户密码。root 密码登录将被禁用。",
		"confirm_password":   "确认密码",
		"password_mismatch":  "两次输入的密码不一致。",
		"empty_password":     "密码不能为空。",
		"legacy_boot":        "传统引导",
		"efi_prompt": "是否允许EFI引导？对于带有NVMe设备等较新组件的系统，选择是。" +
			"如果系统硬件需要传统BIOS引导解决方案，选择否。",
		"create_storage_pool":  "创建存储池",
		"storage_pool_prompt":  "现在在其余磁盘上创建存储池吗？",
		"raid_level":           "RAID 级别",
		"STRIPE":               "条带（无冗余）",
		"MIRROR":               "镜像",
		"RAIDZ1":               "RAIDZ1（单校验）",
		"RAIDZ2":               "RAIDZ2（双校验）",
		"RAIDZ3":               "RAIDZ3（三校验）",
		"available_disks":      "可用磁盘",
		"selected_disks":       "已选磁盘",
		"total_size":           "总容量",
		"usable_space":         "可用空间",
		"no_storage_disks":     "没有剩余磁盘可用于存储池。",
		"install_error":        "安装错误",
		"install_success":      "安装成功",
		"install_success_text": "%s 已成功安装到 %s！",
		"reboot_prompt":        "请重启并移除安装媒体。",
		"press_enter":          "按回车键继续",
	},
}

type Catalog struct {
	lang string
}

// New returns the catalog for lang. Unknown languages fall back to English.
func New(lang string) Catalog {
	if _, ok := translations[lang]; !ok {
		lang = DefaultLanguage
	}
	return Catalog{lang: lang}
}

func (c Catalog) Language() string { return c.lang }

// T returns the text for key, falling back to English and then to key itself.
func (c Catalog) T(key string) string {
	if s, ok := translations[c.lang][key]; ok {
		return s
	}
	if s, ok := translations[DefaultLanguage][key]; ok {
		return s
	}
	return key
}

// Tf formats the text for key with args.
func (c Catalog) Tf(key string, args ...any) string {
	return fmt.Sprintf(c.T(key), args...)
}
