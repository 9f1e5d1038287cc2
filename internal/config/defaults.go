package config

const (
	defaultDataDir            = "~/.local/share/docprep/data"
	defaultLogDir             = "~/.local/share/docprep/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxUnpackSizeMB    = 500
	defaultMaxFilesInArchive  = 1000
	defaultMaxDepth           = 5
	defaultSevenZipBinary     = "7z"
	defaultToolTimeout        = 600
	defaultConvertBinary      = "soffice"
	defaultConvertPoolSize    = 4
	defaultBaseTimeoutSeconds = 60
	defaultTimeoutPerMB       = 30
	defaultMaxTimeoutSeconds  = 600
	defaultMaxCycles          = 3
	defaultMetricsEnabled     = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Extract: Extract{
			MaxUnpackSizeMB:   defaultMaxUnpackSizeMB,
			MaxFilesInArchive: defaultMaxFilesInArchive,
			MaxDepth:          defaultMaxDepth,
			SevenZipBinary:    defaultSevenZipBinary,
			ToolTimeout:       defaultToolTimeout,
		},
		Convert: Convert{
			Binary:             defaultConvertBinary,
			PoolSize:           defaultConvertPoolSize,
			BaseTimeoutSeconds: defaultBaseTimeoutSeconds,
			TimeoutPerMB:       defaultTimeoutPerMB,
			MaxTimeoutSeconds:  defaultMaxTimeoutSeconds,
		},
		Pipeline: Pipeline{
			MaxCycles: defaultMaxCycles,
		},
		Metrics: Metrics{
			Enabled: defaultMetricsEnabled,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
