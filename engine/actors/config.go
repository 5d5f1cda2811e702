package actors

import (
	"os"

	"github.com/spf13/viper"
	"trustgraph/engine/library"
)

// InitConfig sets up the Viper config object with the defaults recognized
// by the engine: import-delay-ms, subscription-delay-ms,
// client-failure-limit and capacity-table, plus the ambient rootDir/
// logLevel settings the rest of the actors package uses.
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		library.Log(err.Error(), 0)
	}
	config.SetDefault("rootDir", homeDir+"/.trustgraph/")
	config.SetConfigType("yaml")
	config.SetConfigFile(config.GetString("rootDir") + "config.yaml")
	if err := config.ReadInConfig(); err != nil {
		library.Log(err.Error(), 4)
	}

	config.SetDefault("logLevel", 4)
	config.SetDefault("import-delay-ms", 60000)
	config.SetDefault("subscription-delay-ms", 60000)
	config.SetDefault("client-failure-limit", 5)
	config.SetDefault("capacity-table", map[string]int{
		"0": 100,
		"1": 40,
		"2": 16,
		"3": 6,
		"4": 2,
		"5": 1,
	})

	initRootDir(config)
	library.Touch(config.GetString("rootDir") + "config.yaml")
	if err := config.WriteConfig(); err != nil {
		library.Log(err.Error(), 0)
	}
}

func initRootDir(conf *viper.Viper) {
	if _, err := os.Stat(conf.GetString("rootDir")); os.IsNotExist(err) {
		if err := os.Mkdir(conf.GetString("rootDir"), 0755); err != nil {
			library.Log(err, 0)
		}
	}
}

var conf *viper.Viper

// MakeOrGetConfig returns the process-wide configuration.
func MakeOrGetConfig() *viper.Viper {
	return conf
}

// SetConfig installs the process-wide configuration.
func SetConfig(config *viper.Viper) {
	conf = config
}
