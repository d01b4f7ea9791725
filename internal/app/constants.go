package app

const (
	Name           = "execlink"
	SourceURL      = "https://git.skobk.in/skobkin/execlink"
	ConfigFilename = "config.toml"
	DBFilename     = "history.db"
	LogFilename    = "execlink.log"
	AutoexecDir    = "autoexec"
	// RecentHistoryLoad is the default number of history rows shown.
	RecentHistoryLoad = 50
)
