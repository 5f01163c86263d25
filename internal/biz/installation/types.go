package installation

type Status string

const (
	StatusPending    Status = "pending"
	StatusInstalling Status = "installing"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusError      Status = "error"
)

// ChangeAction 安装变更事件类型
type ChangeAction string

const (
	ChangeInstalled ChangeAction = "installed"
	ChangeUpdated   ChangeAction = "updated"
	ChangeDeleted   ChangeAction = "deleted"
)
