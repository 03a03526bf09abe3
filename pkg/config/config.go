package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LoadConfig 從指定路徑載入設定檔。
//
// 參數說明：
//   - configPath: string, 設定檔所在的目錄路徑。
//   - name: string, 不含副檔名的檔名 (e.g., "config.local")。
//
// 回傳值：
//   - *T: 載入的設定物件。
//   - error: 如果載入失敗，則返回錯誤。
func LoadConfig[T any](configPath, name string) (*T, error) {
	v := newViper(configPath, name) // 每次都 new 一個，避免 cmd 間衝突
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("無法讀取設定檔: %w", err)
	}

	var config T
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("無法解析設定檔: %w", err)
	}

	return &config, nil
}

// Watch 載入設定檔並監看檔案變更；每次變更後重新解析並呼叫 onChange。
// 解析失敗時 onChange 收到 nil 與錯誤，呼叫端應保留舊的設定。
//
// 回傳的 *viper.Viper 可用於寫回設定檔 (Set + WriteConfig)。
func Watch[T any](configPath, name string, onChange func(*T, error)) (*T, *viper.Viper, error) {
	v := newViper(configPath, name)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("無法讀取設定檔: %w", err)
	}

	var config T
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("無法解析設定檔: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next T
		if err := v.Unmarshal(&next); err != nil {
			onChange(nil, fmt.Errorf("無法解析設定檔 %s: %w", e.Name, err))
			return
		}
		onChange(&next, nil)
	})
	v.WatchConfig()

	return &config, v, nil
}

func newViper(configPath, name string) *viper.Viper {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	return v
}
