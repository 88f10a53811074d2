package cmd

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "ytdl-worker",
	Short:   "yt-dlp 下载工作进程",
	Long:    "从 RabbitMQ 消费下载请求，调用 yt-dlp 与 ffmpeg 处理后发布结果",
	Version: "1.0.0",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认 ./data/config.yaml 或 ./config.yaml）")
}

// initConfig 读取 .env、配置文件和 YTDL_ 前缀的环境变量
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Println(".env 读取失败:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./data") // 相对于当前工作目录的 data 文件夹
		viper.AddConfigPath(".")      // 当前目录
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("YTDL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 没有配置文件时完全依赖默认值与环境变量
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Println("配置文件读取失败:", err)
			os.Exit(1)
		}
	}
}
