package common

// File modes used when salesetl writes to disk.
const (
	// FilePermissionSecure is for files that may hold credentials (salesetl.yaml).
	FilePermissionSecure = 0600

	// FilePermissionNormal is for exported data such as run reports.
	FilePermissionNormal = 0644

	// DirPermissionSecure is for the per-user configuration directory.
	DirPermissionSecure = 0700

	DirPermissionNormal = 0755
)
