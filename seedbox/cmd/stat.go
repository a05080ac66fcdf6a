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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/size"
)

// statCmd represents the stat command
var statCmd = &cobra.Command{
	Use:   "stat [torrent]",
	Short: "Print a summary of a torrent, or of the running session",
	Long: `Given a torrent, this command prints a summary of it including its info hash and piece layout. Without arguments it asks the session served by 'seedbox serve' for its downloads and seeds.

Examples:

seedbox stat /path/to/file.torrent
seedbox stat --api 127.0.0.1:8000
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			stat, err := fetchStat(viper.GetString("api"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Could not reach session: %s\n", err)
				os.Exit(1)
			}

			fmt.Print(stat)
			return
		}

		t, err := btorrent.Load(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not load torrent: %s\n", err)
			os.Exit(1)
		}

		fmt.Printf("-------\n%s\n-------\n", t.Name)
		fmt.Printf("Info Hash: %s\n", t.HexHash())
		fmt.Printf("Piece length: %s\n", size.Size(t.PieceLength))
		fmt.Printf("Pieces: %d\n", t.PieceCount)
		fmt.Printf("Total size: %s\n", size.Size(t.TotalLength()))
	},
}

func fetchStat(addr string) (session.Stat, error) {
	client := http.Client{Timeout: 5 * time.Second}

	res, err := client.Get(fmt.Sprintf("http://%s/api/torrents", addr))
	if err != nil {
		return session.Stat{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return session.Stat{}, fmt.Errorf("unexpected status %s", res.Status)
	}

	var stat session.Stat
	if err := json.NewDecoder(res.Body).Decode(&stat); err != nil {
		return session.Stat{}, err
	}

	return stat, nil
}

func init() {
	rootCmd.AddCommand(statCmd)
}
