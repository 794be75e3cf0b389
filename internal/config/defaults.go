package config

const (
	defaultConfigPath       = "~/.config/flac2mp3/config.toml"
	defaultStateDirFallback = "~/.local/state/flac2mp3"
	defaultVBRQuality       = 2
	defaultBadChars         = ":"
	defaultPollIntervalMS   = 100
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultFlacBinary       = "flac"
	defaultLameBinary       = "lame"
	defaultMetaflacBinary   = "metaflac"
	defaultFileBinary       = "file"
	maxVBRQuality           = 9
	maxPollIntervalMS       = 10_000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir(),
		},
		Encoder: Encoder{
			VBRQuality: defaultVBRQuality,
			BadChars:   defaultBadChars,
		},
		Transcode: Transcode{
			FailFast:       true,
			PollIntervalMS: defaultPollIntervalMS,
		},
		Tools: Tools{
			Flac:     defaultFlacBinary,
			Lame:     defaultLameBinary,
			Metaflac: defaultMetaflacBinary,
			File:     defaultFileBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled: true,
		},
	}
}
