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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/internal/storage"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/size"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known torrents",
	Long: `This command lists the torrents of the session served by 'seedbox serve'. If no session is reachable, it lists the torrents in the base directory along with whether their data is present in the download directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if stat, err := fetchStat(viper.GetString("api")); err == nil {
			printSession(stat)
			return
		}

		cfg, err := sessionConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		torrents, err := btorrent.LoadDir(cfg.BaseDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		store := storage.NewService(storage.Config{BaseDir: cfg.DownloadDir})
		defer store.Close()

		for _, t := range torrents {
			data := "missing"
			if store.Has(t) {
				data = "present"
			}

			fmt.Printf("%s  %-10s %-8s %s\n", t.HexHash(), size.Size(t.TotalLength()), data, t.Name)
		}
	},
}

func printSession(stat session.Stat) {
	for _, d := range stat.Downloads {
		fmt.Printf("%s  %-10s %-11s %5.1f%%  %s\n", d.Hash, d.Total, d.State, d.Progress()*100, d.Name)
	}

	for _, s := range stat.Seeding {
		fmt.Printf("%s  %-10s %-11s %3d leeches  %s\n", s.Hash, s.Size, "Seeding", s.Leeches, s.Name)
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
}
