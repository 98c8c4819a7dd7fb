package configuration

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

type EnvConfigVals struct {
	BaseURL                 string `yaml:"BaseURL"` // root for oauth callback URIs
	DispatchTickSeconds     int64  `yaml:"DispatchTickSeconds"`
	RefreshIntervalHours    int64  `yaml:"RefreshIntervalHours"`
	RefreshHorizonHours     int64  `yaml:"RefreshHorizonHours"`
	PublishMaxAttempts      int    `yaml:"PublishMaxAttempts"`
	PublishRetryDelaySec    int    `yaml:"PublishRetryDelaySec"`
	BreakerFailureThreshold int    `yaml:"BreakerFailureThreshold"`
	BreakerResetTimeoutSec  int64  `yaml:"BreakerResetTimeoutSec"`
	BreakerSuccessThreshold int    `yaml:"BreakerSuccessThreshold"`
	OutcomeTopicArn         string `yaml:"OutcomeTopicArn"`
	StandardCallTimeoutSec  int64  `yaml:"StandardCallTimeoutSec"`
	ExtendedCallTimeoutSec  int64  `yaml:"ExtendedCallTimeoutSec"`
	VideoPollMaxAttempts    int    `yaml:"VideoPollMaxAttempts"`
	VideoPollIntervalSec    int64  `yaml:"VideoPollIntervalSec"`
}

var configSync sync.Once
var EnvConfigs *EnvConfigVals

func GetEnvConfigs() *EnvConfigVals {
	if EnvConfigs != nil {
		return EnvConfigs
	}
	configSync.Do(func() {
		var configFile []byte
		var err error
		if os.Getenv("env") == "" || os.Getenv("env") != "prod" {
			configFile, err = os.ReadFile("./configuration/env-dev.yml")
		} else {
			configFile, err = os.ReadFile("./configuration/env-prod.yml")
		}

		if err != nil {
			log.Fatalf("failed to load config file: %s", err)
		}

		var vals EnvConfigVals
		err = yaml.Unmarshal(configFile, &vals)
		if err != nil {
			log.Fatalf("failed to unmarshall config file values: %s", err)
		}
		EnvConfigs = &vals
	})
	return EnvConfigs
}
