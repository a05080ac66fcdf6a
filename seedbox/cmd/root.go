/*
Copyright © 2021 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/namvu9/seedbox/internal/session"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "seedbox",
	Short: "Download and seed files over the peer wire protocol",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.seedbox.yaml)")
	flags.BoolVar(&debug, "debug", false, "sets log level to debug")

	flags.String("base-dir", "~/.seedbox", "directory holding .torrent files")
	flags.String("download-dir", "~/Downloads", "directory torrent data is read from and written to")
	flags.String("ip", "", "address to accept leeches on")
	flags.Uint16("port", 6881, "port to accept leeches on")
	flags.Int("workers", 0, "number of pieces fetched at once")
	flags.Int("max-connections", 0, "maximum number of leech connections")
	flags.Duration("piece-timeout", 0, "time allowed for fetching one piece")
	flags.Bool("forward-port", false, "forward the seeding port over UPnP")
	flags.String("api", "127.0.0.1:8000", "address of the HTTP API")

	cobra.CheckErr(viper.BindPFlags(flags))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".seedbox" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".seedbox")
	}

	viper.SetEnvPrefix("seedbox")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("using config file")
	}
}

func dir(key string) (string, error) {
	d, err := homedir.Expand(viper.GetString(key))
	if err != nil {
		return "", err
	}

	d, err = filepath.Abs(d)
	if err != nil {
		return "", err
	}

	return d, os.MkdirAll(d, 0777)
}

// BaseDir returns the directory holding the metainfo of
// every known torrent
func BaseDir() (string, error) {
	return dir("base-dir")
}

func DownloadDir() (string, error) {
	return dir("download-dir")
}

func sessionConfig() (session.Config, error) {
	baseDir, err := BaseDir()
	if err != nil {
		return session.Config{}, err
	}

	downloadDir, err := DownloadDir()
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		BaseDir:        baseDir,
		DownloadDir:    downloadDir,
		IP:             viper.GetString("ip"),
		Port:           uint16(viper.GetUint("port")),
		Workers:        viper.GetInt("workers"),
		MaxConnections: viper.GetInt("max-connections"),
		PieceTimeout:   viper.GetDuration("piece-timeout"),
		ForwardPort:    viper.GetBool("forward-port"),
	}, nil
}
