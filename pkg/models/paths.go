package models

// Default locations used when the config file does not override them. All of
// them live either on the recovery ramdisk or on the cache partition, which is
// the only writable storage guaranteed to exist before /data is mounted.
const (
	CachePath       = "/cache/recovery"
	CommandFileName = "ubuntu_command"

	SystemMountPoint = "/cache/system"
	DataRoot         = "/data"

	TrustPath          = "/tmp/update-engine/trust"
	ArchiveMasterPath  = "/etc/system-image/archive-master.tar.xz"
	FilesystemTable    = "/etc/update-engine/partitions.yaml"
	PersistentListPath = "/etc/update-engine/persistent-files"
	BlacklistStaging   = "/data/system-data/var/lib/system-image/blacklist.tar.xz"

	CmdlinePath = "/proc/cmdline"

	UsbModePath       = "/cache/recovery/usb-mode"
	AdbKeysPath       = "/data/.adb_keys"
	FactoryWipeMarker = "/cache/recovery/factory_wipe"
	UpdateStampPath   = "/data/.last_update"
	PasswordPath      = "/data/system-data/var/lib/extrausers/shadow"

	SwapFilePath = "/cache/recovery/SWAP.img"

	LogPath = "/var/log/update-engine.log"
)

// Disk images that survive a loop-mode data wipe. The running system lives in
// one of these, so deleting them mid-run would saw off the branch.
var PreservedImages = []string{"system.img", "ubuntu.img"}
