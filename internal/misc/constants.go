package misc

const (
	// FilePermissions restricts decrypted databases and audit logs to the
	// owning user.
	FilePermissions = 0600

	DirPermissions = 0700
)
